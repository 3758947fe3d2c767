package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/siteyard/internal/alert"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/site"
	"gorm.io/datatypes"
)

// Provenance describes where a site request came from.
type Provenance struct {
	Source        string
	SourceData    map[string]interface{}
	SiteType      string
	OrderID       string
	ProductID     string
	UserID        string
	CustomerEmail string
}

// CreateRequest asks the engine to provision one site.
type CreateRequest struct {
	SnapshotRef string
	Params      provisioning.SiteParams
	Provenance  Provenance
	PlanRef     string
}

// CreateSite inserts a creating record under a placeholder id, calls the
// provisioning API and records the outcome. A pool site comes back
// completed; a task-based site comes back in progress with its task id.
//
// A transport failure leaves the record in creating with the error stored,
// since the remote may or may not have acted, and raises a warning alert.
// Any other remote failure marks the record failed, as does a remote id
// that already belongs to a finished or differently ordered site.
func (e *Engine) CreateSite(ctx context.Context, req CreateRequest) (*models.Site, error) {
	if strings.TrimSpace(req.SnapshotRef) == "" {
		return nil, apperr.Validation("snapshot reference is required").WithOp("reconcile: create site")
	}
	if err := e.requireClient(); err != nil {
		return nil, err
	}

	prov := req.Provenance
	if prov.Source == "" {
		prov.Source = models.SourceAPI
	}
	if prov.SiteType == "" {
		prov.SiteType = models.SiteTypePaid
	}
	params := req.Params
	if params.PlanID == "" {
		params.PlanID = req.PlanRef
	}

	rec := &models.Site{
		SiteID:        site.NewPlaceholderID(prov.Source),
		Status:        models.SiteStatusCreating,
		SiteType:      prov.SiteType,
		IsReserved:    params.IsReserved,
		ExpiryHours:   params.ExpiryHours,
		OrderID:       optional(prov.OrderID),
		ProductID:     optional(prov.ProductID),
		UserID:        optional(prov.UserID),
		CustomerEmail: strings.TrimSpace(prov.CustomerEmail),
		PlanID:        params.PlanID,
		Source:        prov.Source,
	}
	data := map[string]interface{}{"snapshot": req.SnapshotRef}
	for k, v := range prov.SourceData {
		data[k] = v
	}
	if b, err := json.Marshal(data); err == nil {
		rec.SourceData = datatypes.JSON(b)
	}
	if err := site.Insert(e.db, rec); err != nil {
		return nil, err
	}
	placeholder := rec.SiteID
	log := e.log.With("site", placeholder, "snapshot", req.SnapshotRef, "source", prov.Source)

	created, err := e.client.CreateSite(ctx, req.SnapshotRef, params)
	e.observe("create_site", err)
	if err != nil {
		if apperr.IsRetryable(err) {
			if uerr := site.UpdateFields(e.db, placeholder, map[string]interface{}{"api_response": errorPayload(err)}); uerr != nil {
				log.Errorw("record transport error", "error", uerr)
			}
			timeout := provisioning.IsTimeout(err)
			e.metrics.SitesCreated.WithLabelValues("transport_error").Inc()
			log.Warnw("site creation outcome unknown", "timeout", timeout, "error", err)
			e.notify(ctx, alert.Alert{
				Title:    "Site creation outcome unknown",
				Body:     err.Error(),
				Severity: alert.SeverityWarning,
				Fields: map[string]string{
					"site":     placeholder,
					"snapshot": req.SnapshotRef,
					"source":   prov.Source,
					"timeout":  strconv.FormatBool(timeout),
				},
			})
			return nil, apperr.TransportError("create site", err).WithSite(placeholder)
		}

		if _, ferr := site.MarkFailed(e.db, placeholder, errorPayload(err)); ferr != nil {
			log.Errorw("mark site failed", "error", ferr)
		}
		e.metrics.SitesCreated.WithLabelValues("failed").Inc()
		log.Errorw("site creation failed", "error", err)
		e.notify(ctx, alert.Alert{
			Title:    "Site creation failed",
			Body:     err.Error(),
			Severity: alert.SeverityError,
			Fields:   map[string]string{"site": placeholder, "snapshot": req.SnapshotRef, "source": prov.Source},
		})
		kind := apperr.GetKind(err)
		if kind == apperr.KindUnknown {
			kind = apperr.KindProvisioning
		}
		return nil, apperr.Wrap(kind, "create site", err).WithSite(placeholder)
	}

	fields := map[string]interface{}{"api_response": rawJSON(created.Raw())}
	outcome := "task"
	switch c := created.(type) {
	case *provisioning.PoolSiteCreated:
		outcome = "pool"
		fields["status"] = models.SiteStatusCompleted
		fields["task_id"] = ""
		for k, v := range detailFields(c.Details) {
			fields[k] = v
		}
	case *provisioning.TaskSiteCreated:
		fields["status"] = models.SiteStatusProgress
		fields["task_id"] = c.TaskID
		for k, v := range detailFields(c.Details) {
			fields[k] = v
		}
	default:
		return nil, apperr.Internal(fmt.Sprintf("unexpected create result %T", created), nil)
	}

	out, err := site.RewriteID(e.db, placeholder, created.RemoteID(), fields)
	if apperr.Is(err, apperr.KindConflict) {
		if _, ferr := site.MarkFailed(e.db, placeholder, rawJSON(created.Raw())); ferr != nil {
			log.Errorw("mark site failed", "error", ferr)
		}
		e.metrics.SitesCreated.WithLabelValues("failed").Inc()
		log.Errorw("remote returned a site id already in use", "remote_id", created.RemoteID(), "error", err)
		e.notify(ctx, alert.Alert{
			Title:    "Site creation returned an existing site",
			Body:     err.Error(),
			Severity: alert.SeverityError,
			Fields:   map[string]string{"site": placeholder, "remote_id": created.RemoteID(), "source": prov.Source},
		})
		return nil, err
	}
	if err != nil {
		log.Errorw("rewrite placeholder id", "remote_id", created.RemoteID(), "error", err)
		return nil, err
	}
	e.metrics.SitesCreated.WithLabelValues(outcome).Inc()
	log.Infow("site created", "site_id", out.SiteID, "status", out.Status, "task_id", out.TaskID)
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
