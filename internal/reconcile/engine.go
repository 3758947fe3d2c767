// Package reconcile is the site reconciliation engine. It creates sites on
// the provisioning API, keeps the local site records in step with remote
// task state, and applies the business transitions: demo to paid, plan
// upgrades and permanence flips.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/siteyard/internal/alert"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/config"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Opts holds the engine's collaborators.
type Opts struct {
	DB      *gorm.DB
	Client  provisioning.Client
	Config  *config.Config
	Log     *zap.SugaredLogger
	Metrics *telemetry.Metrics
	Alerts  alert.Notifier
}

// Engine orchestrates site provisioning and reconciliation.
type Engine struct {
	db      *gorm.DB
	client  provisioning.Client
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *telemetry.Metrics
	alerts  alert.Notifier
}

// New creates an Engine. DB and Config are required; the logger, metrics
// and alerts fall back to no-op implementations.
func New(opts Opts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reconcile: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("reconcile: config is required")
	}
	e := &Engine{
		db:      opts.DB,
		client:  opts.Client,
		cfg:     opts.Config,
		log:     opts.Log,
		metrics: opts.Metrics,
		alerts:  opts.Alerts,
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewMetrics(opts.Config.Metrics.Namespace, nil)
	}
	if e.alerts == nil {
		e.alerts = alert.Nop{}
	}
	return e, nil
}

// DB returns the engine's database handle.
func (e *Engine) DB() *gorm.DB { return e.db }

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// requireClient fails with a ConfigError when no usable API credential is
// configured.
func (e *Engine) requireClient() error {
	if e.client == nil || e.cfg.Provisioning.APIKey == "" {
		return apperr.ConfigError("provisioning api key is not configured")
	}
	return nil
}

// observe records the outcome of a remote call.
func (e *Engine) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.GetKind(err).String()
	}
	e.metrics.RemoteCalls.WithLabelValues(op, outcome).Inc()
}

// notify sends an operator alert. Delivery failures are logged only.
func (e *Engine) notify(ctx context.Context, a alert.Alert) {
	if err := e.alerts.Notify(ctx, a); err != nil {
		e.log.Warnw("alert delivery failed", "title", a.Title, "error", err)
	}
}

// detailFields converts returned site details into column updates,
// skipping anything the remote left empty.
func detailFields(d provisioning.SiteDetails) map[string]interface{} {
	fields := make(map[string]interface{})
	if d.Empty() {
		return fields
	}
	if d.URL != "" {
		fields["site_url"] = d.URL
	}
	if d.AdminURL != "" {
		fields["wp_admin_url"] = d.AdminURL
	}
	if d.Username != "" {
		fields["wp_username"] = d.Username
	}
	if d.Password != "" {
		fields["wp_password"] = d.Password
	}
	if d.SHash != "" {
		fields["s_hash"] = d.SHash
	}
	return fields
}

// errorPayload returns the remote payload carried by err, or a small JSON
// document holding the error text.
func errorPayload(err error) datatypes.JSON {
	if p := apperr.PayloadOf(err); len(p) > 0 && json.Valid(p) {
		return datatypes.JSON(p)
	}
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return datatypes.JSON(b)
}

func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}
