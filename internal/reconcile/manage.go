package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/site"
	"gorm.io/gorm"
)

// Permanence labels returned in PermanenceResult.NewStatus.
const (
	PermanenceStatusPermanent = "permanent"
	PermanenceStatusTemporary = "temporary"
)

// Domain types accepted by AddDomain.
const (
	DomainTypePrimary = "primary"
	DomainTypeAlias   = "alias"
)

// OrderContext links an operation to the order that triggered it.
type OrderContext struct {
	OrderID string
	UserID  string
}

// PermanenceResult reports the outcome of SetPermanent.
type PermanenceResult struct {
	Changed   bool   `json:"changed"`
	NewStatus string `json:"new_status"`
}

var validate = validator.New()

// UpgradePlan moves a site to newPlanID. A remote failure leaves the local
// record untouched. On success the plan, any rotated details and the order
// link are written and the change is appended to the plan history.
func (e *Engine) UpgradePlan(ctx context.Context, siteID, newPlanID string, oc OrderContext) (*provisioning.UpgradeResult, error) {
	if strings.TrimSpace(newPlanID) == "" {
		return nil, apperr.Validation("plan id is required").WithOp("reconcile: upgrade plan")
	}
	if err := e.requireClient(); err != nil {
		return nil, err
	}
	s, err := site.Get(e.db, siteID)
	if err != nil {
		return nil, err
	}
	log := e.log.With("site", siteID, "plan", newPlanID, "order", oc.OrderID)

	res, err := e.client.UpgradePlan(ctx, siteID, newPlanID)
	e.observe("upgrade_plan", err)
	if err != nil {
		log.Warnw("plan upgrade failed", "error", err)
		return nil, err
	}

	err = e.client.DisableDemoHelper(ctx, siteID, s.SiteURL)
	e.observe("disable_demo_helper", err)
	if err != nil {
		log.Warnw("disable demo helper failed", "error", err)
	}

	newPlan := res.PlanID
	if newPlan == "" {
		newPlan = newPlanID
	}
	fields := detailFields(res.Details)
	fields["plan_id"] = newPlan
	if raw := rawJSON(res.Payload); raw != nil {
		fields["api_response"] = raw
	}
	if oc.OrderID != "" {
		fields["order_id"] = oc.OrderID
	}
	if oc.UserID != "" {
		fields["user_id"] = oc.UserID
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := site.UpdateFields(tx, siteID, fields); err != nil {
			return err
		}
		return site.RecordPlanChange(tx, siteID, s.PlanID, newPlan, oc.OrderID)
	})
	if err != nil {
		return nil, err
	}

	if oc.OrderID != "" && s.OrderID != nil && *s.OrderID != oc.OrderID {
		log.Infow("site relinked to order", "old_order", *s.OrderID, "new_order", oc.OrderID)
	}
	log.Infow("plan upgraded", "old_plan", s.PlanID, "new_plan", newPlan)
	return &res, nil
}

// SetPermanent makes a site permanent (reserved, no expiry) or temporary
// (unreserved, expiring after provisioning.temporary_expiry_hours). When the
// site already matches, nothing is sent to the remote.
func (e *Engine) SetPermanent(ctx context.Context, siteID string, permanent bool) (PermanenceResult, error) {
	target := PermanenceStatusTemporary
	if permanent {
		target = PermanenceStatusPermanent
	}

	s, err := site.Get(e.db, siteID)
	if err != nil {
		return PermanenceResult{}, err
	}
	if s.IsPermanent() == permanent {
		e.metrics.PermanenceChanges.WithLabelValues("unchanged").Inc()
		return PermanenceResult{Changed: false, NewStatus: target}, nil
	}
	if site.IsPlaceholder(siteID) {
		return PermanenceResult{}, apperr.Conflict("site has no remote id yet").WithSite(siteID)
	}
	if err := e.requireClient(); err != nil {
		return PermanenceResult{}, err
	}

	expiry := e.cfg.Provisioning.TemporaryExpiryHours
	update := provisioning.SiteUpdate{IsReserved: permanent}
	if !permanent {
		update.ExpiryHours = &expiry
	}
	raw, err := e.client.UpdateSite(ctx, siteID, update)
	e.observe("update_site", err)
	if err != nil {
		outcome := "failed"
		if apperr.Is(err, apperr.KindSiteDeleted) {
			outcome = "deleted"
		}
		e.metrics.PermanenceChanges.WithLabelValues(outcome).Inc()
		e.log.Warnw("permanence update failed", "site", siteID, "permanent", permanent, "error", err)
		return PermanenceResult{}, err
	}

	if err := site.SetPermanence(e.db, siteID, permanent, expiry); err != nil {
		return PermanenceResult{}, err
	}
	if r := rawJSON(raw); r != nil {
		if err := site.UpdateFields(e.db, siteID, map[string]interface{}{"api_response": r}); err != nil {
			e.log.Warnw("store permanence response", "site", siteID, "error", err)
		}
	}
	e.metrics.PermanenceChanges.WithLabelValues("changed").Inc()
	e.log.Infow("site permanence changed", "site", siteID, "status", target)
	return PermanenceResult{Changed: true, NewStatus: target}, nil
}

// DeleteSite deletes the remote site, then the local record. A site the
// remote no longer knows is deleted locally. Placeholder records never
// reached the remote and are deleted locally only.
func (e *Engine) DeleteSite(ctx context.Context, siteID string) error {
	if _, err := site.Get(e.db, siteID); err != nil {
		return err
	}
	if !site.IsPlaceholder(siteID) {
		if err := e.requireClient(); err != nil {
			return err
		}
		err := e.client.DeleteSite(ctx, siteID)
		e.observe("delete_site", err)
		if err != nil && !apperr.Is(err, apperr.KindSiteDeleted) {
			return err
		}
	}
	if err := site.Delete(e.db, siteID); err != nil {
		return err
	}
	e.log.Infow("site deleted", "site", siteID)
	return nil
}

// AddDomain attaches a domain to a site and stores the raw response.
func (e *Engine) AddDomain(ctx context.Context, siteID, domain, domainType string) (provisioning.DomainResult, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if err := validate.Var(domain, "required,fqdn"); err != nil {
		return provisioning.DomainResult{}, apperr.Validation(fmt.Sprintf("invalid domain %q", domain))
	}
	if domainType == "" {
		domainType = DomainTypePrimary
	}
	if domainType != DomainTypePrimary && domainType != DomainTypeAlias {
		return provisioning.DomainResult{}, apperr.Validation(fmt.Sprintf("domain type must be %s or %s", DomainTypePrimary, DomainTypeAlias))
	}
	if site.IsPlaceholder(siteID) {
		return provisioning.DomainResult{}, apperr.Conflict("site has no remote id yet").WithSite(siteID)
	}
	if _, err := site.Get(e.db, siteID); err != nil {
		return provisioning.DomainResult{}, err
	}
	if err := e.requireClient(); err != nil {
		return provisioning.DomainResult{}, err
	}

	res, err := e.client.AddDomain(ctx, siteID, domain, domainType)
	e.observe("add_domain", err)
	if err != nil {
		return provisioning.DomainResult{}, err
	}
	if r := rawJSON(res.Payload); r != nil {
		if err := site.UpdateFields(e.db, siteID, map[string]interface{}{"api_response": r}); err != nil {
			return res, err
		}
	}
	e.log.Infow("domain added", "site", siteID, "domain", domain, "type", domainType)
	return res, nil
}
