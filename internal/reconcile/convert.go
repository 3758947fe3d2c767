package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/site"
	"gorm.io/datatypes"
)

// ConvertRequest identifies the demo sites a purchase should convert.
// Candidates are taken from the first non-empty source in order:
// SessionSiteID, UpgradedSiteID, then every demo site for BillingEmail.
type ConvertRequest struct {
	SessionSiteID  string
	UpgradedSiteID string
	BillingEmail   string
	OrderID        string
	UserID         string
}

// ConvertDemoToPaid converts matching demo sites to paid, permanent sites
// and returns the ids it converted. Sites that are already paid, or that
// never became usable remotely, are skipped, so repeating the call for the
// same order returns an empty list.
func (e *Engine) ConvertDemoToPaid(ctx context.Context, req ConvertRequest) ([]string, error) {
	candidates, err := e.conversionCandidates(req)
	if err != nil {
		return nil, err
	}

	converted := []string{}
	for _, c := range candidates {
		log := e.log.With("site", c.SiteID, "order", req.OrderID)
		if !site.Convertible(&c) {
			if c.SiteType == models.SiteTypeDemo {
				log.Warnw("demo site not convertible", "status", c.Status)
			}
			continue
		}

		audit := map[string]interface{}{
			"original_source": c.Source,
			"converted_at":    time.Now().UTC().Format(time.RFC3339),
		}
		if len(c.SourceData) > 0 {
			audit["original_source_data"] = json.RawMessage(c.SourceData)
		}
		if c.OrderID != nil {
			audit["original_order_id"] = *c.OrderID
		}
		if req.OrderID != "" {
			audit["order_id"] = req.OrderID
		}
		sourceData, _ := json.Marshal(audit)

		fields := map[string]interface{}{
			"is_reserved":  true,
			"expiry_hours": nil,
			"source":       models.SourceDemoToPaid,
			"source_data":  datatypes.JSON(sourceData),
		}
		if req.OrderID != "" {
			fields["order_id"] = req.OrderID
		}
		if req.UserID != "" {
			fields["user_id"] = req.UserID
		}

		ok, err := site.ConvertToPaid(e.db, c.SiteID, fields)
		if err != nil {
			return converted, err
		}
		if !ok {
			continue
		}
		converted = append(converted, c.SiteID)
		e.metrics.DemoConversions.Inc()
		if c.OrderID != nil && *c.OrderID != req.OrderID && req.OrderID != "" {
			log.Infow("site relinked to order", "old_order", *c.OrderID, "new_order", req.OrderID)
		}
		log.Infow("demo site converted to paid")

		e.finishConversionRemote(ctx, c)
	}
	return converted, nil
}

func (e *Engine) conversionCandidates(req ConvertRequest) ([]models.Site, error) {
	for _, id := range []string{req.SessionSiteID, req.UpgradedSiteID} {
		if id == "" {
			continue
		}
		s, err := site.Get(e.db, id)
		if apperr.Is(err, apperr.KindNotFound) {
			e.log.Warnw("conversion target not found locally", "site", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		return []models.Site{*s}, nil
	}
	return site.FindDemoByEmail(e.db, req.BillingEmail)
}

// finishConversionRemote reserves the converted site remotely and disables
// the demo helper. Both calls are advisory: failures are logged and the
// local conversion stands.
func (e *Engine) finishConversionRemote(ctx context.Context, s models.Site) {
	if site.IsPlaceholder(s.SiteID) || e.requireClient() != nil {
		return
	}
	log := e.log.With("site", s.SiteID)

	_, err := e.client.UpdateSite(ctx, s.SiteID, provisioning.SiteUpdate{IsReserved: true})
	e.observe("update_site", err)
	if err != nil {
		log.Warnw("remote reservation after conversion failed", "error", err)
	}

	err = e.client.DisableDemoHelper(ctx, s.SiteID, s.SiteURL)
	e.observe("disable_demo_helper", err)
	if err != nil {
		log.Warnw("disable demo helper failed", "error", err)
	}
}
