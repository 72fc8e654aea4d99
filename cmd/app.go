package main

import (
	"context"
	"fmt"
	"time"

	"fleet-dispatch/internal/config"
	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/matching"
	"fleet-dispatch/internal/metrics"
	"fleet-dispatch/internal/orders"
	"fleet-dispatch/internal/presence"
	"fleet-dispatch/internal/retention"
	"fleet-dispatch/internal/tracking"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/migrations"
	"fleet-dispatch/pkg/amqp"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/kafka"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/monitoring"
	rredis "fleet-dispatch/pkg/redis"
)

// app holds every wired component of the service.
type app struct {
	cfg *config.Config
	log logger.Logger

	registry *presence.Registry
	users    *users.Service
	drivers  *drivers.Service
	trips    *trips.Service
	orders   *orders.Service
	gateway  *tracking.Gateway
	sweeper  *retention.Sweeper

	metrics *metrics.PromSink
	monitor monitoring.Monitor

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger.Setup(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	a := &app{cfg: cfg, log: logger.New("app")}

	if err := jwt.Init(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour); err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Storage
	var (
		tx        db.Transactor
		userRepo  users.Repository
		driverRep drivers.Repository
		tripRepo  trips.Repository
		orderRepo orders.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		database, err := db.Connect(ctx, cfg.Database.URL, logger.New("db"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { database.Close(); return nil })
		if err := database.RunMigrations(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		tx = database
		userRepo = users.NewPGRepository(database)
		driverRep = drivers.NewPGRepository(database)
		tripRepo = trips.NewPGRepository(database)
		orderRepo = orders.NewPGRepository(database)
	default:
		tx = db.NewMemTx()
		userRepo = users.NewMemoryRepository()
		driverRep = drivers.NewMemoryRepository()
		tripRepo = trips.NewMemoryRepository()
		orderRepo = orders.NewMemoryRepository()
	}

	// Location index and live trip cache
	var (
		index drivers.LocationIndex = drivers.NewMemoryIndex()
		cache trips.LiveCache       = trips.NewMemoryCache()
	)
	if cfg.Redis.Addr != "" {
		rc, err := rredis.NewClient(ctx, rredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.New("redis"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		index, cache = rc, rc
	}

	pub, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	// Observability
	var sink metrics.Sink = metrics.Nop{}
	if !cfg.Metrics.Disabled {
		ps, err := metrics.NewPromSink(nil)
		if err != nil {
			return nil, err
		}
		a.metrics, sink = ps, ps
	}
	if a.monitor, err = monitoring.New(cfg.Sentry); err != nil {
		return nil, err
	}

	// Domain services
	rate := cfg.Dispatch.CommissionRate()
	a.registry = presence.NewRegistry()
	a.users = users.NewService(userRepo, logger.New("users"))
	a.drivers = drivers.NewService(driverRep, a.users, tx, index, rate, logger.New("drivers"))
	a.trips = trips.NewService(tripRepo, a.drivers, tx, cache, pub, logger.New("trips"))
	a.gateway = tracking.NewGateway(a.registry, a.drivers, a.trips, sink, logger.New("realtime"))
	a.drivers.SetStatusListener(a.gateway)
	matcher := matching.NewMatcher(a.registry, logger.New("matching"))
	a.orders = orders.NewService(orderRepo, a.drivers, a.trips, matcher, a.gateway, tx, pub, rate, logger.New("dispatch"))
	a.sweeper = retention.NewSweeper(a.orders, a.trips, sink, logger.New("retention"))

	ok = true
	return a, nil
}

func (a *app) publisher(ctx context.Context) (events.Publisher, error) {
	switch a.cfg.Events.Backend {
	case "kafka":
		kc := kafka.NewClient(a.cfg.Kafka.BrokerList(), logger.New("kafka"))
		if err := kc.EnsureTopics(ctx, a.cfg.Kafka.ConnectAttempts, events.Topics()...); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kc.Close)
		return kc, nil
	case "amqp":
		p, err := amqp.Dial(ctx, a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.ConnectAttempts, logger.New("amqp"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return events.Nop{}, nil
	}
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnf("close: %v", err)
		}
	}
	a.closers = nil
	if a.monitor != nil {
		a.monitor.Flush(2 * time.Second)
	}
}
