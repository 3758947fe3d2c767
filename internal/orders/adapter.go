// Package orders turns commerce order events into provisioning work.
//
// Each order is processed at most once: a compare-and-set claim on the
// order's metadata admits one delivery, and the order is marked processed
// after its line items have been handled. Demo sites owned by the buyer are
// converted before any new site is created, and converted sites count
// toward the units ordered.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/commerce"
	"github.com/zulandar/siteyard/internal/config"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/reconcile"
	"github.com/zulandar/siteyard/internal/telemetry"
	"go.uber.org/zap"
)

// Reconciler is the part of the reconciliation engine the adapter drives.
type Reconciler interface {
	CreateSite(ctx context.Context, req reconcile.CreateRequest) (*models.Site, error)
	ConvertDemoToPaid(ctx context.Context, req reconcile.ConvertRequest) ([]string, error)
	UpgradePlan(ctx context.Context, siteID, planID string, oc reconcile.OrderContext) (*provisioning.UpgradeResult, error)
}

// Opts holds the adapter's collaborators.
type Opts struct {
	Engine  Reconciler
	Store   commerce.Store
	Config  *config.Config
	Log     *zap.SugaredLogger
	Metrics *telemetry.Metrics
}

// Adapter handles order events.
type Adapter struct {
	engine  Reconciler
	store   commerce.Store
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *telemetry.Metrics
}

// New creates an Adapter.
func New(opts Opts) *Adapter {
	a := &Adapter{
		engine:  opts.Engine,
		store:   opts.Store,
		cfg:     opts.Config,
		log:     opts.Log,
		metrics: opts.Metrics,
	}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}
	if a.metrics == nil {
		a.metrics = telemetry.NewMetrics(a.cfg.Metrics.Namespace, nil)
	}
	return a
}

// Item outcomes.
const (
	ActionCreated   = models.SiteActionCreated
	ActionUpgraded  = models.SiteActionUpgraded
	ActionConverted = models.SiteActionConverted
	ActionFailed    = models.SiteActionFailed
)

// ItemResult is the outcome for one unit of one line item.
type ItemResult struct {
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
	SiteID    string `json:"site_id,omitempty"`
	Status    string `json:"status,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessResult summarizes what handling an order event did.
type ProcessResult struct {
	OrderID   string       `json:"order_id"`
	Skipped   bool         `json:"skipped"`
	Reason    string       `json:"reason,omitempty"`
	Converted []string     `json:"converted"`
	Items     []ItemResult `json:"items"`
	Note      string       `json:"note,omitempty"`
}

// Failed returns the number of item units that failed.
func (r *ProcessResult) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Action == ActionFailed {
			n++
		}
	}
	return n
}

// OnOrderCompleted handles an order reaching completed.
func (a *Adapter) OnOrderCompleted(ctx context.Context, orderID string) (*ProcessResult, error) {
	return a.onEvent(ctx, orderID, "completed")
}

// OnOrderProcessing handles an order reaching processing (paid, not yet
// fulfilled).
func (a *Adapter) OnOrderProcessing(ctx context.Context, orderID string) (*ProcessResult, error) {
	return a.onEvent(ctx, orderID, "processing")
}

// ManuallyCreateSites processes an order regardless of the auto_create
// setting. The idempotency claim still applies.
func (a *Adapter) ManuallyCreateSites(ctx context.Context, orderID string) (*ProcessResult, error) {
	return a.process(ctx, orderID, "manual")
}

func (a *Adapter) onEvent(ctx context.Context, orderID, trigger string) (*ProcessResult, error) {
	if !a.cfg.AutoCreate {
		a.metrics.OrdersProcessed.WithLabelValues("disabled").Inc()
		a.log.Debugw("auto-create disabled, ignoring order event", "order", orderID, "trigger", trigger)
		return &ProcessResult{OrderID: orderID, Skipped: true, Reason: "auto-create disabled"}, nil
	}
	return a.process(ctx, orderID, trigger)
}

func (a *Adapter) process(ctx context.Context, orderID, trigger string) (*ProcessResult, error) {
	log := a.log.With("order", orderID, "trigger", trigger)
	res := &ProcessResult{OrderID: orderID, Converted: []string{}, Items: []ItemResult{}}

	order, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	claimed, err := a.store.ClaimOrder(ctx, orderID, a.cfg.Orders.ClaimTimeout)
	if err != nil {
		return nil, err
	}
	if !claimed {
		a.metrics.OrdersProcessed.WithLabelValues("skipped").Inc()
		log.Infow("order already processed or in progress")
		res.Skipped = true
		res.Reason = "already processed or in progress"
		return res, nil
	}

	// The session's upgrade target must not leak into the next order.
	defer func() {
		if err := a.store.ClearSessionUpgradeSite(context.WithoutCancel(ctx), order.SessionKey); err != nil {
			log.Warnw("clear session upgrade site", "error", err)
		}
	}()

	sessionSite, err := a.store.SessionUpgradeSite(ctx, order.SessionKey)
	if err != nil {
		log.Warnw("read session upgrade site", "error", err)
	}
	meta, err := a.store.Meta(ctx, orderID)
	if err != nil {
		log.Warnw("read order meta", "error", err)
		meta = &models.OrderMeta{OrderID: orderID}
	}

	var refs []models.SiteRef
	now := time.Now().UTC()

	// Only a purchase of a provisioning product converts demos.
	var converted []string
	if a.hasProvisioningItem(order) {
		converted, err = a.engine.ConvertDemoToPaid(ctx, reconcile.ConvertRequest{
			SessionSiteID:  sessionSite,
			UpgradedSiteID: meta.UpgradedSiteID,
			BillingEmail:   order.BillingEmail,
			OrderID:        orderID,
			UserID:         order.UserID,
		})
		if err != nil {
			log.Errorw("demo conversion failed", "error", err)
		}
	} else {
		log.Debugw("no provisioning products in order, skipping demo conversion")
	}
	res.Converted = append(res.Converted, converted...)
	for _, id := range converted {
		refs = append(refs, models.SiteRef{SiteID: id, Action: models.SiteActionConverted, At: now})
	}
	credits := converted

	for _, item := range order.Items {
		product, ok := a.cfg.Product(item.ProductID)
		if !ok {
			continue
		}

		if sessionSite != "" && product.Plan != "" {
			ir := a.upgrade(ctx, order, product, sessionSite)
			res.Items = append(res.Items, ir)
			refs = append(refs, ref(ir, now))
			continue
		}

		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		for unit := 1; unit <= qty; unit++ {
			if len(credits) > 0 {
				ir := ItemResult{ProductID: product.ProductID, Action: ActionConverted, SiteID: credits[0]}
				credits = credits[1:]
				res.Items = append(res.Items, ir)
				continue
			}
			ir := a.create(ctx, order, item, product, unit)
			res.Items = append(res.Items, ir)
			refs = append(refs, ref(ir, now))
		}
	}

	if err := a.store.AppendSiteRefs(ctx, orderID, refs); err != nil {
		log.Errorw("record site references", "error", err)
	}

	if len(res.Items) > 0 || len(res.Converted) > 0 {
		res.Note = buildNote(res)
		if err := a.store.AddOrderNote(ctx, orderID, res.Note, false); err != nil {
			log.Errorw("write order note", "error", err)
		}
	}

	if _, err := a.store.MarkProcessed(ctx, orderID); err != nil {
		return res, err
	}

	outcome := "processed"
	if res.Failed() > 0 {
		outcome = "partial"
	}
	a.metrics.OrdersProcessed.WithLabelValues(outcome).Inc()
	log.Infow("order processed", "converted", len(res.Converted), "items", len(res.Items), "failed", res.Failed())
	return res, nil
}

func (a *Adapter) hasProvisioningItem(order *models.Order) bool {
	for _, item := range order.Items {
		if _, ok := a.cfg.Product(item.ProductID); ok {
			return true
		}
	}
	return false
}

func (a *Adapter) upgrade(ctx context.Context, order *models.Order, product config.ProductConfig, siteID string) ItemResult {
	ir := ItemResult{ProductID: product.ProductID, SiteID: siteID, PlanID: product.Plan}
	_, err := a.engine.UpgradePlan(ctx, siteID, product.Plan, reconcile.OrderContext{OrderID: order.ID, UserID: order.UserID})
	if err != nil {
		ir.Action = ActionFailed
		ir.Error = err.Error()
		a.log.Warnw("plan upgrade failed", "order", order.ID, "site", siteID, "plan", product.Plan, "error", err)
		return ir
	}
	ir.Action = ActionUpgraded
	if err := a.store.SetUpgradedSite(ctx, order.ID, siteID); err != nil {
		a.log.Warnw("record upgraded site", "order", order.ID, "site", siteID, "error", err)
	}
	return ir
}

func (a *Adapter) create(ctx context.Context, order *models.Order, item models.OrderItem, product config.ProductConfig, unit int) ItemResult {
	ir := ItemResult{ProductID: product.ProductID, PlanID: product.Plan}

	siteType := product.SiteType
	if siteType == "" {
		siteType = models.SiteTypePaid
	}
	params := provisioning.SiteParams{
		Name:        fmt.Sprintf("Order %s", order.ID),
		PlanID:      product.Plan,
		ExpiryHours: product.ExpiryHours,
	}
	if siteType == models.SiteTypeDemo && params.ExpiryHours == nil {
		h := a.cfg.Provisioning.DemoExpiryHours
		params.ExpiryHours = &h
	}
	params.IsReserved = params.ExpiryHours == nil

	s, err := a.engine.CreateSite(ctx, reconcile.CreateRequest{
		SnapshotRef: product.Snapshot,
		Params:      params,
		PlanRef:     product.Plan,
		Provenance: reconcile.Provenance{
			Source:        models.SourceOrder,
			SourceData:    map[string]interface{}{"order_id": order.ID, "item_id": item.ID, "unit": unit},
			SiteType:      siteType,
			OrderID:       order.ID,
			ProductID:     product.ProductID,
			UserID:        order.UserID,
			CustomerEmail: order.BillingEmail,
		},
	})
	if err != nil {
		ir.Action = ActionFailed
		ir.SiteID = apperr.SiteIDOf(err)
		ir.Error = err.Error()
		a.log.Warnw("site creation failed", "order", order.ID, "product", product.ProductID, "error", err)
		return ir
	}
	ir.Action = ActionCreated
	ir.SiteID = s.SiteID
	ir.Status = s.Status
	return ir
}

func ref(ir ItemResult, at time.Time) models.SiteRef {
	return models.SiteRef{
		SiteID:    ir.SiteID,
		Action:    ir.Action,
		ProductID: ir.ProductID,
		PlanID:    ir.PlanID,
		Error:     ir.Error,
		At:        at,
	}
}

// buildNote renders the consolidated order note.
func buildNote(res *ProcessResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Site provisioning for order #%s:", res.OrderID)
	for _, id := range res.Converted {
		fmt.Fprintf(&b, "\n- Demo site %s converted to a paid site.", id)
	}
	for _, it := range res.Items {
		switch it.Action {
		case ActionCreated:
			fmt.Fprintf(&b, "\n- Site %s created for product %s (%s).", it.SiteID, it.ProductID, it.Status)
		case ActionUpgraded:
			fmt.Fprintf(&b, "\n- Site %s upgraded to plan %s.", it.SiteID, it.PlanID)
		case ActionConverted:
			fmt.Fprintf(&b, "\n- Product %s fulfilled by converted site %s.", it.ProductID, it.SiteID)
		case ActionFailed:
			fmt.Fprintf(&b, "\n- Product %s failed: %s", it.ProductID, it.Error)
		}
	}
	if n := res.Failed(); n > 0 {
		fmt.Fprintf(&b, "\n%d item(s) need attention.", n)
	}
	return b.String()
}
