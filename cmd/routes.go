package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"mzigo/internal/app"
)

func (a *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(a.recoverPanic, a.logRequest, secureHeaders)

	mux := pat.New()
	mux.Get("/healthz", standardMiddleware.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	if err := app.RegisterRoutes(mux, standardMiddleware, a.deps); err != nil {
		return nil, err
	}
	return mux, nil
}
