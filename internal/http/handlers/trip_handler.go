// README: Trip quote and fare estimate handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
	"afyaride/internal/service"
)

type TripHandler struct {
	planner *service.TripPlanner
	pricing *pricing.Service
}

func NewTripHandler(planner *service.TripPlanner, prices *pricing.Service) *TripHandler {
	return &TripHandler{planner: planner, pricing: prices}
}

type pointReq struct {
	Lat      *float64 `json:"lat" binding:"required"`
	Lng      *float64 `json:"lng" binding:"required"`
	Accuracy *float64 `json:"accuracy"`
}

func (p pointReq) coordinate() (location.Coordinate, error) {
	return location.NewCoordinate(*p.Lat, *p.Lng, p.Accuracy, time.Time{})
}

type tripEstimateReq struct {
	From     *pointReq `json:"from" binding:"required"`
	To       *pointReq `json:"to" binding:"required"`
	RideType string    `json:"ride_type"`
}

// Estimate quotes distance, ETA and fare between two points.
func (h *TripHandler) Estimate(c *gin.Context) {
	var req tripEstimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	from, err := req.From.coordinate()
	if err != nil {
		writeLocationError(c, err)
		return
	}
	to, err := req.To.coordinate()
	if err != nil {
		writeLocationError(c, err)
		return
	}

	plan, err := h.planner.PlanTrip(c.Request.Context(), service.TripRequest{From: from, To: to, RideType: req.RideType})
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, plan)
}

type fareEstimateReq struct {
	DistanceKm *float64 `json:"distance_km" binding:"required"`
	RideType   string   `json:"ride_type"`
}

func (h *TripHandler) Fare(c *gin.Context) {
	var req fareEstimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	fare, err := h.pricing.Estimate(c.Request.Context(), *req.DistanceKm, req.RideType)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, fare)
}
