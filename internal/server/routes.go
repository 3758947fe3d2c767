package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))

	hooks := router.Group("/webhooks")
	hooks.POST("/orders", h.orderWebhook)
	hooks.POST("/subscriptions", h.subscriptionWebhook)

	api := router.Group("/api")
	api.PUT("/sessions/:key/upgrade-site", h.setSessionUpgradeSite)

	api.GET("/sites", h.listSites)
	api.POST("/sites", h.createSite)
	api.GET("/sites/:id", h.getSite)
	api.DELETE("/sites/:id", h.deleteSite)
	api.POST("/sites/:id/domains", h.addDomain)
	api.POST("/sites/:id/permanence", h.setPermanence)

	api.POST("/orders/:id/create-sites", h.createOrderSites)
	api.POST("/sweep", h.runSweep)
}
