package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/metrics"
	"fleet-dispatch/internal/orders"
	"fleet-dispatch/internal/retention"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/monitoring"
	"fleet-dispatch/pkg/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the realtime gateway and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(serve)
	},
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(monitoring.Middleware(a.monitor, logger.New("http")))
	if a.metrics != nil {
		r.Use(a.metrics.Middleware)
	}
	r.Use(jwt.OptionalAuth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fleet-dispatch"}`))
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Mount("/users", users.NewHandler(a.users).Routes())
	r.Mount("/drivers", drivers.NewHandler(a.drivers).Routes())
	r.Mount("/orders", orders.NewHandler(a.orders).Routes())
	r.Mount("/trips", trips.NewHandler(a.trips, a.gateway).Routes())
	r.Mount("/admin/retention", retention.NewHandler(a.sweeper).Routes())
	r.Handle("/ws", a.gateway)
	return r
}

func serve(ctx context.Context, a *app) error {
	if a.cfg.MQTT.Broker != "" {
		ingest := mqtt.NewIngest(a.cfg.MQTT, func(ctx context.Context, driverID string, s geo.Sample) error {
			_, err := a.gateway.ReportPosition(metrics.WithSource(ctx, metrics.SourceMQTT), driverID, s)
			return err
		}, logger.New("mqtt"))
		if err := ingest.Start(ctx); err != nil {
			return err
		}
		defer ingest.Stop()
	}

	if h := a.cfg.Retention.IntervalHours; h > 0 {
		go a.sweeper.Run(ctx, time.Duration(h)*time.Hour, a.cfg.Retention.Days)
	}

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.router()}
	errc := make(chan error, 1)
	go func() {
		a.log.Infof("fleet-dispatch listening on %s", a.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Infof("shutting down...")
	shutCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
