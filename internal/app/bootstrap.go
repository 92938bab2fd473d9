// Package app assembles the booking and tracking services from the
// configured infrastructure.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"mzigo/internal/delivery"
	"mzigo/internal/delivery/dispatch"
	"mzigo/internal/delivery/feed"
	deliveryhttp "mzigo/internal/delivery/http"
	"mzigo/internal/delivery/notify"
	"mzigo/internal/delivery/ws"
	"mzigo/internal/geo"
)

type moduleState struct {
	tracker    *delivery.Tracker
	hub        *ws.TrackingHub
	offerHub   *ws.TrackingHub
	dispatcher *dispatch.Dispatcher
	server     *deliveryhttp.Server
	positions  *geo.PositionStore
	closers    []func() error
}

func ensureModule(deps *Deps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}

	m := &moduleState{}
	trackingDeps := &delivery.Deps{
		Logger: deps.Logger,
		Config: deps.Tracking,
	}

	switch deps.Tracking.Feed {
	case delivery.FeedRedis:
		trackingDeps.Source = feed.NewRedisSource(deps.RDB, deps.Logger)
		trackingDeps.Publisher = feed.NewRedisPublisher(deps.RDB)
	case delivery.FeedAMQP:
		pub, err := feed.NewAMQPPublisher(deps.AMQP, deps.Tracking.Exchange)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		m.closers = append(m.closers, pub.Close)
		trackingDeps.Source = feed.NewAMQPSource(deps.AMQP, deps.Tracking.Exchange, deps.Logger)
		trackingDeps.Publisher = pub
	default:
		trackingDeps.Source = feed.NewSimulated(
			deps.Tracking.StepInterval,
			deps.Tracking.PositionInterval,
			deps.Tracking.Jitter,
			uint64(time.Now().UnixNano()),
		)
	}

	m.hub = ws.NewTrackingHub(deps.Logger)
	trackingDeps.Hub = m.hub

	var nearby deliveryhttp.NearbyFinder
	if deps.RDB != nil {
		m.positions = geo.NewPositionStore(deps.RDB, deps.Tracking.City)
		trackingDeps.Positions = m.positions
		nearby = m.positions
	}

	var devices *notify.Devices
	if deps.Messaging != nil {
		devices = notify.NewDevices()
		trackingDeps.Notifier = notify.NewFCM(deps.Messaging, devices, deps.Logger)
	}

	tracker, err := delivery.New(trackingDeps)
	if err != nil {
		return nil, err
	}
	m.tracker = tracker
	m.hub.SetSnapshot(func(id string, attach func(interface{})) bool {
		return tracker.Watch(id, func(s delivery.Snapshot) { attach(s) })
	})

	if deps.Tracking.Dispatch {
		var locator dispatch.Locator
		if m.positions != nil {
			locator = m.positions
		}
		m.offerHub = ws.NewOfferHub(deps.Logger)
		m.dispatcher, err = dispatch.New(tracker, dispatch.NewRegistry(locator), m.offerHub, deps.Logger, deps.Dispatch)
		if err != nil {
			return nil, err
		}
	}

	var geocoder geo.Geocoder
	if deps.Config.DGISAPIKey != "" {
		geocoder = geo.NewDGISClient(deps.HTTPClient, deps.Config.DGISAPIKey, deps.Config.DGISRegionID, deps.Config.DGISLocales...)
	} else {
		deps.Logger.Infof("no 2GIS key configured, serving the built-in landmarks")
		geocoder = geo.NewStaticPicker(geo.Landmarks...)
	}

	serverDeps := deliveryhttp.Deps{
		Logger:   deps.Logger,
		Tracker:  tracker,
		Geocoder: geocoder,
		Nearby:   nearby,
		Devices:  devices,
		Socket:   m.hub,
	}
	if m.dispatcher != nil {
		serverDeps.Dispatcher = m.dispatcher
		serverDeps.OfferSocket = m.offerHub
	}
	m.server = deliveryhttp.NewServer(serverDeps)
	deps.module = m
	return m, nil
}

// RegisterRoutes wires HTTP and WebSocket routes into the provided mux.
func RegisterRoutes(mux *pat.PatternServeMux, chain alice.Chain, deps *Deps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	module.server.Register(mux, chain)
	return nil
}

// StartWorkers launches the background cleanup of finished deliveries and,
// in dispatch mode, the offer loop.
func StartWorkers(ctx context.Context, deps *Deps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	go module.tracker.RunCleanup(ctx)
	if module.dispatcher != nil {
		go module.dispatcher.Run(ctx)
	}
	return nil
}

// Shutdown stops every delivery feed and releases broker channels.
func Shutdown(deps *Deps) {
	if deps == nil || deps.module == nil {
		return
	}
	deps.module.tracker.Shutdown()
	for _, closeFn := range deps.module.closers {
		if err := closeFn(); err != nil {
			deps.Logger.Errorf("shutdown: %v", err)
		}
	}
}
