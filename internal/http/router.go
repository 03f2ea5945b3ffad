// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"afyaride/internal/http/handlers"
	"afyaride/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	tripHandler := handlers.NewTripHandler(deps.Planner, deps.Pricing)
	api.POST("/trips/estimate", tripHandler.Estimate)
	api.POST("/fares/estimate", tripHandler.Fare)

	locationHandler := handlers.NewLocationHandler(deps.Location, deps.Devices, deps.Log)
	api.POST("/location/geocode", locationHandler.Geocode)
	api.GET("/devices/:id/location", locationHandler.Current)
	api.GET("/devices/:id/track", locationHandler.Track)

	api.GET("/users/nearby", locationHandler.Nearby)
	api.PUT("/users/:id/location", locationHandler.Update)
	api.GET("/users/:id/location/last", locationHandler.Last)
	api.GET("/users/:id/location/history", locationHandler.History)

	return r
}
