package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/models"
	"github.com/zulandar/siteyard/internal/orders"
	"github.com/zulandar/siteyard/internal/provisioning"
	"github.com/zulandar/siteyard/internal/reconcile"
	"github.com/zulandar/siteyard/internal/site"
	"github.com/zulandar/siteyard/internal/subscriptions"
	"github.com/zulandar/siteyard/internal/sweep"
)

type handlers struct {
	Opts
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.Engine.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Webhooks

type orderItemPayload struct {
	ProductID string `json:"product_id" binding:"required"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" binding:"gte=0"`
}

type orderPayload struct {
	Event string `json:"event" binding:"required,oneof=completed processing"`
	Order struct {
		ID             string             `json:"id" binding:"required"`
		Status         string             `json:"status"`
		BillingEmail   string             `json:"billing_email" binding:"omitempty,email"`
		UserID         string             `json:"user_id"`
		SessionKey     string             `json:"session_key"`
		SubscriptionID string             `json:"subscription_id"`
		Items          []orderItemPayload `json:"items" binding:"dive"`
	} `json:"order"`
}

// orderWebhook mirrors the order snapshot locally, then dispatches the
// order event.
func (h *handlers) orderWebhook(c *gin.Context) {
	var p orderPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	o := &models.Order{
		ID:             p.Order.ID,
		Status:         p.Order.Status,
		BillingEmail:   strings.TrimSpace(p.Order.BillingEmail),
		UserID:         p.Order.UserID,
		SessionKey:     p.Order.SessionKey,
		SubscriptionID: p.Order.SubscriptionID,
	}
	for _, it := range p.Order.Items {
		o.Items = append(o.Items, models.OrderItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity})
	}
	if err := h.Store.UpsertOrder(ctx, o); err != nil {
		writeError(c, err)
		return
	}

	var (
		res *orders.ProcessResult
		err error
	)
	if p.Event == "completed" {
		res, err = h.Orders.OnOrderCompleted(ctx, o.ID)
	} else {
		res, err = h.Orders.OnOrderProcessing(ctx, o.ID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

const eventStatusChanged = "status-changed"

type subscriptionPayload struct {
	Event        string `json:"event" binding:"required,oneof=payment-failed payment-succeeded status-changed"`
	Status       string `json:"status"`
	OrderID      string `json:"order_id"`
	Subscription struct {
		ID            string   `json:"id" binding:"required"`
		Status        string   `json:"status"`
		ParentOrderID string   `json:"parent_order_id"`
		BillingEmail  string   `json:"billing_email" binding:"omitempty,email"`
		RenewalOrders []string `json:"renewal_orders"`
	} `json:"subscription"`
}

func (h *handlers) subscriptionWebhook(c *gin.Context) {
	var p subscriptionPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	status := p.Status
	if status == "" {
		status = p.Subscription.Status
	}
	if p.Event == eventStatusChanged && status == "" {
		badRequest(c, errors.New("status is required for status-changed"))
		return
	}

	sub := &models.Subscription{
		ID:            p.Subscription.ID,
		Status:        p.Subscription.Status,
		ParentOrderID: p.Subscription.ParentOrderID,
		BillingEmail:  strings.TrimSpace(p.Subscription.BillingEmail),
	}
	if p.Event == eventStatusChanged {
		sub.Status = status
	}
	sub.SetRenewalOrderIDs(p.Subscription.RenewalOrders)
	if err := h.Store.UpsertSubscription(ctx, sub); err != nil {
		writeError(c, err)
		return
	}

	var (
		res *subscriptions.Result
		err error
	)
	switch p.Event {
	case subscriptions.EventPaymentFailed:
		res, err = h.Subscriptions.OnPaymentFailed(ctx, sub.ID, p.OrderID)
	case subscriptions.EventPaymentSucceeded:
		res, err = h.Subscriptions.OnPaymentSucceeded(ctx, sub.ID, p.OrderID)
	default:
		res, err = h.Subscriptions.OnStatusChanged(ctx, sub.ID, status)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Checkout sessions

type sessionUpgradeRequest struct {
	SiteID string `json:"site_id"`
}

// setSessionUpgradeSite records the site a customer picked for upgrade. An
// empty site id clears the choice.
func (h *handlers) setSessionUpgradeSite(c *gin.Context) {
	var req sessionUpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	key := c.Param("key")
	siteID := strings.TrimSpace(req.SiteID)

	if siteID == "" {
		if err := h.Store.ClearSessionUpgradeSite(ctx, key); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_key": key, "upgrade_site_id": ""})
		return
	}
	if _, err := site.Get(h.Engine.DB().WithContext(ctx), siteID); err != nil {
		writeError(c, err)
		return
	}
	if err := h.Store.SetSessionUpgradeSite(ctx, key, siteID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_key": key, "upgrade_site_id": siteID})
}

// Sites

type listSitesQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=creating progress completed failed"`
	SiteType string `form:"site_type" binding:"omitempty,oneof=demo paid"`
	Source   string `form:"source"`
	OrderID  string `form:"order_id"`
	Email    string `form:"email"`
	Limit    int    `form:"limit" binding:"gte=0,lte=500"`
}

func (h *handlers) listSites(c *gin.Context) {
	var q listSitesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	sites, err := site.List(h.Engine.DB().WithContext(c.Request.Context()), site.Filters{
		Status:   q.Status,
		SiteType: q.SiteType,
		Source:   q.Source,
		OrderID:  q.OrderID,
		Email:    q.Email,
		Limit:    q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]siteView, 0, len(sites))
	for i := range sites {
		out = append(out, newSiteView(&sites[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sites": out, "count": len(out)})
}

func (h *handlers) getSite(c *gin.Context) {
	db := h.Engine.DB().WithContext(c.Request.Context())
	s, err := site.Get(db, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := site.PlanHistory(db, s.SiteID)
	if err != nil {
		writeError(c, err)
		return
	}
	v := newSiteView(s)
	v.PlanHistory = newPlanChangeViews(history)
	c.JSON(http.StatusOK, v)
}

type createSiteRequest struct {
	Snapshot    string `json:"snapshot" binding:"required"`
	Name        string `json:"name"`
	Plan        string `json:"plan"`
	Source      string `json:"source" binding:"omitempty,oneof=admin_test shortcode api"`
	Email       string `json:"email" binding:"omitempty,email"`
	UserID      string `json:"user_id"`
	ExpiryHours *int   `json:"expiry_hours" binding:"omitempty,gt=0"`
}

// createSite provisions a site outside the order flow. Shortcode requests
// produce demo sites that expire; admin test sites are permanent unless an
// expiry is given.
func (h *handlers) createSite(c *gin.Context) {
	var req createSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Source == "" {
		req.Source = models.SourceAdminTest
	}

	siteType := models.SiteTypePaid
	expiry := req.ExpiryHours
	if req.Source == models.SourceShortcode {
		if req.Email == "" {
			badRequest(c, errors.New("email is required for shortcode sites"))
			return
		}
		siteType = models.SiteTypeDemo
		if expiry == nil {
			hours := h.Engine.Config().Provisioning.DemoExpiryHours
			expiry = &hours
		}
	}

	var data map[string]interface{}
	if req.Name != "" {
		data = map[string]interface{}{"name": req.Name}
	}
	created, err := h.Engine.CreateSite(c.Request.Context(), reconcile.CreateRequest{
		SnapshotRef: req.Snapshot,
		PlanRef:     req.Plan,
		Params: provisioning.SiteParams{
			Name:        req.Name,
			IsReserved:  expiry == nil,
			ExpiryHours: expiry,
		},
		Provenance: reconcile.Provenance{
			Source:        req.Source,
			SourceData:    data,
			SiteType:      siteType,
			UserID:        req.UserID,
			CustomerEmail: req.Email,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSiteView(created))
}

func (h *handlers) deleteSite(c *gin.Context) {
	id := c.Param("id")
	if err := h.Engine.DeleteSite(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type addDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
	Type   string `json:"type"`
}

func (h *handlers) addDomain(c *gin.Context) {
	var req addDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	res, err := h.Engine.AddDomain(c.Request.Context(), id, req.Domain, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"site_id": id, "domain": res.Domain, "status": res.Status})
}

type permanenceRequest struct {
	Permanent *bool `json:"permanent" binding:"required"`
}

func (h *handlers) setPermanence(c *gin.Context) {
	var req permanenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	res, err := h.Subscriptions.ForceSiteStatus(c.Request.Context(), id, *req.Permanent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"site_id": id, "changed": res.Changed, "status": res.NewStatus})
}

// Orders and sweep

func (h *handlers) createOrderSites(c *gin.Context) {
	res, err := h.Orders.ManuallyCreateSites(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) runSweep(c *gin.Context) {
	if h.Sweeper == nil {
		writeError(c, apperr.ConfigError("sweep is not configured"))
		return
	}
	sum, err := h.Sweeper.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, sweep.ErrRunning):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": apperr.KindConflict.String()})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
	default:
		c.JSON(http.StatusOK, sum)
	}
}
