package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/siteyard/internal/alert"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/commerce"
	"github.com/zulandar/siteyard/internal/config"
	"github.com/zulandar/siteyard/internal/db"
	"github.com/zulandar/siteyard/internal/orders"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/reconcile"
	"github.com/zulandar/siteyard/internal/subscriptions"
	"github.com/zulandar/siteyard/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the fully wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	engine   *reconcile.Engine
	store    *commerce.GormStore
	orders   *orders.Adapter
	subs     *subscriptions.Adapter
	alerts   alert.Notifier
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// newApp loads configPath and wires every component. A missing
// provisioning API key is not fatal here; operations that need the remote
// report it when they run.
func newApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(cfg.Metrics.Namespace, reg)

	alerts, err := alert.New(cfg.Alerts)
	if err != nil {
		return nil, fmt.Errorf("configure alerts: %w", err)
	}

	opts := reconcile.Opts{DB: gormDB, Config: cfg, Log: log, Metrics: metrics, Alerts: alerts}
	client, err := provisioning.NewHTTPClient(provisioning.HTTPOpts{
		BaseURL:       cfg.Provisioning.BaseURL,
		APIKey:        cfg.Provisioning.APIKey,
		Timeout:       cfg.Provisioning.Timeout,
		RatePerSecond: cfg.Provisioning.RatePerSecond,
	})
	switch {
	case err == nil:
		opts.Client = client
	case apperr.Is(err, apperr.KindConfig):
		log.Warnw("provisioning client disabled", "error", err)
	default:
		return nil, err
	}

	engine, err := reconcile.New(opts)
	if err != nil {
		return nil, err
	}
	store := commerce.NewGormStore(gormDB)
	return &app{
		cfg:      cfg,
		db:       gormDB,
		log:      log,
		registry: reg,
		engine:   engine,
		store:    store,
		orders:   orders.New(orders.Opts{Engine: engine, Store: store, Config: cfg, Log: log, Metrics: metrics}),
		subs:     subscriptions.New(subscriptions.Opts{Engine: engine, Store: store, DB: gormDB, Log: log}),
		alerts:   alerts,
	}, nil
}

func (a *app) close() {
	a.log.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
