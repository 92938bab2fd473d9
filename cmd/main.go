package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"mzigo/internal/app"
	"mzigo/internal/config"
	"mzigo/internal/delivery"
	"mzigo/internal/delivery/dispatch"
	"mzigo/internal/delivery/notify"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	deps     *app.Deps
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	addrFlag := flag.String("addr", "", "HTTP network address, overrides the config")
	flag.Parse()

	infoLog := log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	errorLog := log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		errorLog.Fatal(err)
	}
	addr := cfg.Server.Address
	if *addrFlag != "" {
		addr = *addrFlag
	}

	trackingCfg, err := delivery.LoadConfig()
	if err != nil {
		errorLog.Fatal(err)
	}
	dispatchCfg, err := dispatch.LoadConfig()
	if err != nil {
		errorLog.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(infoLog, errorLog)
	deps := &app.Deps{
		Logger:     logger,
		Tracking:   trackingCfg,
		Dispatch:   dispatchCfg,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Config: app.Config{
			DGISAPIKey:   cfg.DGIS.APIKey,
			DGISRegionID: cfg.DGIS.RegionID,
			DGISLocales:  cfg.DGIS.Locales,
		},
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			errorLog.Fatalf("redis ping: %v", err)
		}
		defer rdb.Close()
		deps.RDB = rdb
	}

	if cfg.AMQP.URL != "" {
		conn, err := amqp091.Dial(cfg.AMQP.URL)
		if err != nil {
			errorLog.Fatalf("amqp dial: %v", err)
		}
		defer conn.Close()
		deps.AMQP = conn
	}

	if cfg.Firebase.CredentialsFile != "" {
		client, err := notify.NewMessagingClient(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			errorLog.Fatalf("firebase messaging: %v", err)
		}
		deps.Messaging = client
	}

	a := &application{errorLog: errorLog, infoLog: infoLog, deps: deps}
	handler, err := a.routes()
	if err != nil {
		errorLog.Fatal(err)
	}
	if err := app.StartWorkers(ctx, deps); err != nil {
		errorLog.Fatal(err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Delivery-Id"},
	})

	srv := &http.Server{
		Addr:         addr,
		ErrorLog:     errorLog,
		Handler:      c.Handler(handler),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errorLog.Printf("server shutdown: %v", err)
		}
	}()

	infoLog.Printf("Starting server on %s (feed %s)", addr, trackingCfg.Feed)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errorLog.Fatal(err)
	}
	app.Shutdown(deps)
	infoLog.Printf("Server stopped")
}
