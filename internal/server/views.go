package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
)

// siteView is the API shape of a site record. Credentials and raw remote
// responses stay out of it.
type siteView struct {
	SiteID        string           `json:"site_id"`
	Status        string           `json:"status"`
	SiteType      string           `json:"site_type"`
	IsReserved    bool             `json:"is_reserved"`
	ExpiryHours   *int             `json:"expiry_hours"`
	Permanent     bool             `json:"permanent"`
	TaskID        string           `json:"task_id,omitempty"`
	OrderID       *string          `json:"order_id"`
	ProductID     *string          `json:"product_id"`
	UserID        *string          `json:"user_id"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	PlanID        string           `json:"plan_id,omitempty"`
	SiteURL       string           `json:"site_url,omitempty"`
	WPAdminURL    string           `json:"wp_admin_url,omitempty"`
	WPUsername    string           `json:"wp_username,omitempty"`
	Source        string           `json:"source"`
	SourceData    json.RawMessage  `json:"source_data,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	PlanHistory   []planChangeView `json:"plan_history,omitempty"`
}

type planChangeView struct {
	OldPlanID string    `json:"old_plan_id"`
	NewPlanID string    `json:"new_plan_id"`
	OrderID   string    `json:"order_id,omitempty"`
	At        time.Time `json:"at"`
}

func newSiteView(s *models.Site) siteView {
	v := siteView{
		SiteID:        s.SiteID,
		Status:        s.Status,
		SiteType:      s.SiteType,
		IsReserved:    s.IsReserved,
		ExpiryHours:   s.ExpiryHours,
		Permanent:     s.IsPermanent(),
		TaskID:        s.TaskID,
		OrderID:       s.OrderID,
		ProductID:     s.ProductID,
		UserID:        s.UserID,
		CustomerEmail: s.CustomerEmail,
		PlanID:        s.PlanID,
		SiteURL:       s.SiteURL,
		WPAdminURL:    s.WPAdminURL,
		WPUsername:    s.WPUsername,
		Source:        s.Source,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if len(s.SourceData) > 0 {
		v.SourceData = json.RawMessage(s.SourceData)
	}
	return v
}

func newPlanChangeViews(changes []models.SitePlanChange) []planChangeView {
	out := make([]planChangeView, 0, len(changes))
	for _, c := range changes {
		out = append(out, planChangeView{OldPlanID: c.OldPlanID, NewPlanID: c.NewPlanID, OrderID: c.OrderID, At: c.CreatedAt})
	}
	return out
}

// writeError maps err onto an HTTP status and a JSON error body.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}
	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		status = aerr.HTTPStatus()
		body["kind"] = aerr.Kind.String()
		if id := apperr.SiteIDOf(err); id != "" {
			body["site_id"] = id
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindValidation.String()})
}
