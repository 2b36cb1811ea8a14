// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mesa/internal/http/handlers"
	"mesa/internal/http/middleware"
	"mesa/internal/infra"
	"mesa/internal/modules/assignment"
	"mesa/internal/modules/order"
	"mesa/internal/modules/partner"
	"mesa/internal/realtime"
)

type RouterDeps struct {
	Order      *order.Service
	Assignment *assignment.Service
	Partners   partner.Directory
	Realtime   *realtime.Handler
	Verifier   infra.TokenVerifier
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The realtime endpoint authenticates from its query token inside the
	// handler; browsers cannot set headers on websocket dials.
	r.GET("/ws", deps.Realtime.Serve)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier))

	orderHandler := handlers.NewOrderHandler(deps.Order)
	api.POST("/orders", orderHandler.Place)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/locations", orderHandler.LocationHistory)
	api.POST("/orders/:id/accept", orderHandler.Accept)
	api.POST("/orders/:id/assign", orderHandler.Assign)
	api.POST("/orders/:id/start", orderHandler.Start)
	api.POST("/orders/:id/confirm", orderHandler.Confirm)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.POST("/orders/:id/feedback", orderHandler.Feedback)

	partnerHandler := handlers.NewPartnerHandler(deps.Assignment, deps.Partners)
	api.GET("/partners/eligible", partnerHandler.Eligible)
	api.GET("/partners/:id", partnerHandler.Get)

	return r
}
