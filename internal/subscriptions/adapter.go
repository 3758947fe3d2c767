// Package subscriptions flips site permanence in response to subscription
// payment and status events.
package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/commerce"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/reconcile"
	"github.com/zulandar/siteyard/internal/site"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Subscription events and statuses.
const (
	EventPaymentFailed    = "payment-failed"
	EventPaymentSucceeded = "payment-succeeded"

	StatusActive        = "active"
	StatusActivated     = "activated"
	StatusCancelled     = "cancelled"
	StatusExpired       = "expired"
	StatusOnHold        = "on-hold"
	StatusPendingCancel = "pending-cancel"
)

// Per-site outcomes.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeDeleted   = "deleted"
	OutcomeFailed    = "failed"
)

// PermanenceSetter is the part of the reconciliation engine the adapter uses.
type PermanenceSetter interface {
	SetPermanent(ctx context.Context, siteID string, permanent bool) (reconcile.PermanenceResult, error)
}

// Opts holds the adapter's collaborators.
type Opts struct {
	Engine PermanenceSetter
	Store  commerce.Store
	DB     *gorm.DB
	Log    *zap.SugaredLogger
}

// Adapter handles subscription events.
type Adapter struct {
	engine PermanenceSetter
	store  commerce.Store
	db     *gorm.DB
	log    *zap.SugaredLogger
}

// New creates an Adapter.
func New(opts Opts) *Adapter {
	a := &Adapter{engine: opts.Engine, store: opts.Store, db: opts.DB, log: opts.Log}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}
	return a
}

// SiteOutcome is the result of applying permanence to one site.
type SiteOutcome struct {
	SiteID  string `json:"site_id"`
	OrderID string `json:"order_id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Result summarizes one subscription event.
type Result struct {
	SubscriptionID string        `json:"subscription_id"`
	Event          string        `json:"event"`
	Permanent      bool          `json:"permanent"`
	Sites          []SiteOutcome `json:"sites"`
}

// Count returns how many sites ended with outcome.
func (r *Result) Count(outcome string) int {
	n := 0
	for _, s := range r.Sites {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// PermanenceFor maps a subscription event or status to the permanence its
// sites should have. Only a successful payment or an active subscription
// keeps sites permanent.
func PermanenceFor(event string) bool {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case EventPaymentSucceeded, StatusActive, StatusActivated:
		return true
	default:
		return false
	}
}

// OnPaymentFailed makes the subscription's sites temporary.
func (a *Adapter) OnPaymentFailed(ctx context.Context, subID, orderID string) (*Result, error) {
	return a.apply(ctx, subID, orderID, EventPaymentFailed)
}

// OnPaymentSucceeded makes the subscription's sites permanent.
func (a *Adapter) OnPaymentSucceeded(ctx context.Context, subID, orderID string) (*Result, error) {
	return a.apply(ctx, subID, orderID, EventPaymentSucceeded)
}

// OnStatusChanged applies the permanence implied by newStatus.
func (a *Adapter) OnStatusChanged(ctx context.Context, subID, newStatus string) (*Result, error) {
	return a.apply(ctx, subID, "", newStatus)
}

// ForceSiteStatus sets one site's permanence directly, outside any
// subscription event.
func (a *Adapter) ForceSiteStatus(ctx context.Context, siteID string, permanent bool) (reconcile.PermanenceResult, error) {
	res, err := a.engine.SetPermanent(ctx, siteID, permanent)
	if err != nil {
		return res, err
	}
	a.log.Infow("site permanence forced", "site", siteID, "permanent", permanent, "changed", res.Changed)
	return res, nil
}

func (a *Adapter) apply(ctx context.Context, subID, orderID, event string) (*Result, error) {
	sub, err := a.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	permanent := PermanenceFor(event)
	log := a.log.With("subscription", subID, "event", event, "permanent", permanent)
	res := &Result{SubscriptionID: subID, Event: event, Permanent: permanent, Sites: []SiteOutcome{}}

	targets, err := a.ResolveSites(ctx, sub, orderID)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		log.Infow("no sites linked to subscription")
		return res, nil
	}

	for _, t := range targets {
		out := SiteOutcome{SiteID: t.SiteID, OrderID: t.OrderID}
		pr, err := a.engine.SetPermanent(ctx, t.SiteID, permanent)
		switch {
		case apperr.Is(err, apperr.KindSiteDeleted):
			out.Outcome = OutcomeDeleted
		case err != nil:
			out.Outcome = OutcomeFailed
			out.Error = err.Error()
			log.Warnw("set permanence failed", "site", t.SiteID, "error", err)
		case pr.Changed:
			out.Outcome = OutcomeChanged
		default:
			out.Outcome = OutcomeUnchanged
		}
		res.Sites = append(res.Sites, out)
	}

	if err := a.store.AddSubscriptionNote(ctx, subID, subscriptionNote(res)); err != nil {
		log.Errorw("write subscription note", "error", err)
	}
	for _, oid := range changedOrders(res) {
		if err := a.store.AddOrderNote(ctx, oid, customerNote(res, oid), true); err != nil {
			log.Errorw("write order note", "order", oid, "error", err)
		}
	}

	log.Infow("subscription permanence applied",
		"changed", res.Count(OutcomeChanged),
		"unchanged", res.Count(OutcomeUnchanged),
		"deleted", res.Count(OutcomeDeleted),
		"failed", res.Count(OutcomeFailed))
	return res, nil
}

// Target is a site tied to a subscription and the order it came from.
type Target struct {
	SiteID  string
	OrderID string
}

// ResolveSites finds the sites tied to a subscription: those recorded on
// the parent order, then on renewal orders (including orderID), then, when
// none are recorded, the paid sites owned by the billing email. Results are
// deduplicated in first-seen order.
func (a *Adapter) ResolveSites(ctx context.Context, sub *models.Subscription, orderID string) ([]Target, error) {
	var targets []Target
	seen := make(map[string]bool)
	add := func(siteID, oid string) {
		if siteID == "" || seen[siteID] {
			return
		}
		seen[siteID] = true
		targets = append(targets, Target{SiteID: siteID, OrderID: oid})
	}

	orderIDs := []string{}
	if sub.ParentOrderID != "" {
		orderIDs = append(orderIDs, sub.ParentOrderID)
	}
	orderIDs = append(orderIDs, sub.RenewalOrderIDs()...)
	if orderID != "" {
		orderIDs = append(orderIDs, orderID)
	}

	for _, oid := range orderIDs {
		meta, err := a.store.Meta(ctx, oid)
		if err != nil {
			return nil, err
		}
		for _, id := range meta.SiteIDs() {
			add(id, oid)
		}
	}

	if len(targets) == 0 && sub.BillingEmail != "" && a.db != nil {
		sites, err := site.List(a.db, site.Filters{Email: sub.BillingEmail, SiteType: models.SiteTypePaid})
		if err != nil {
			return nil, err
		}
		for i := len(sites) - 1; i >= 0; i-- {
			oid := sub.ParentOrderID
			if sites[i].OrderID != nil {
				oid = *sites[i].OrderID
			}
			add(sites[i].SiteID, oid)
		}
	}
	return targets, nil
}

func subscriptionNote(res *Result) string {
	state := "temporary"
	if res.Permanent {
		state = "permanent"
	}
	return fmt.Sprintf("Sites set to %s after %s: %d changed, %d unchanged, %d deleted on remote, %d failed.",
		state, res.Event,
		res.Count(OutcomeChanged), res.Count(OutcomeUnchanged),
		res.Count(OutcomeDeleted), res.Count(OutcomeFailed))
}

// changedOrders returns the orders with at least one changed site, in
// first-seen order.
func changedOrders(res *Result) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range res.Sites {
		if s.Outcome != OutcomeChanged || s.OrderID == "" || seen[s.OrderID] {
			continue
		}
		seen[s.OrderID] = true
		out = append(out, s.OrderID)
	}
	return out
}

func customerNote(res *Result, orderID string) string {
	var ids []string
	for _, s := range res.Sites {
		if s.OrderID == orderID && s.Outcome == OutcomeChanged {
			ids = append(ids, s.SiteID)
		}
	}
	if res.Permanent {
		return fmt.Sprintf("Your site(s) %s are active and will be kept.", strings.Join(ids, ", "))
	}
	return fmt.Sprintf("Your site(s) %s are now temporary and will expire unless payment is received.", strings.Join(ids, ", "))
}
