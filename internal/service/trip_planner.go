package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"afyaride/internal/maps"
	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
	"afyaride/internal/types"
)

// Router returns a road-network estimate between two points.
type Router interface {
	GetTravelEstimate(ctx context.Context, from, to types.Point) (maps.RouteEstimate, error)
}

// TripRequest asks for a quote between two fixes.
type TripRequest struct {
	From     location.Coordinate
	To       location.Coordinate
	RideType string
}

// RoutedLeg is the road-network view of a trip when a Router is configured.
type RoutedLeg struct {
	DistanceKm   float64 `json:"distance_km"`
	EtaMinutes   int     `json:"eta_minutes"`
	DistanceText string  `json:"distance_text"`
}

// TripPlan is what a rider sees before booking.
type TripPlan struct {
	location.DistanceEstimate
	Fare   pricing.FareEstimate `json:"fare"`
	Routed *RoutedLeg          `json:"routed,omitempty"`
}

// TripPlanner combines straight-line distance, fare pricing and an optional
// routed estimate into a single quote.
type TripPlanner struct {
	location *location.Service
	pricing  *pricing.Service
	router   Router
	log      *zap.Logger
}

// NewTripPlanner creates a TripPlanner. router may be nil.
func NewTripPlanner(loc *location.Service, prices *pricing.Service, router Router, log *zap.Logger) *TripPlanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &TripPlanner{location: loc, pricing: prices, router: router, log: log}
}

// PlanTrip quotes a trip. The fare is always priced on the straight-line
// distance so a quote does not depend on routing availability.
func (p *TripPlanner) PlanTrip(ctx context.Context, req TripRequest) (TripPlan, error) {
	est := p.location.DistanceBetween(req.From, req.To)

	fare, err := p.pricing.Estimate(ctx, est.DistanceKm, req.RideType)
	if err != nil {
		return TripPlan{}, fmt.Errorf("pricing trip: %w", err)
	}

	plan := TripPlan{DistanceEstimate: est, Fare: fare}
	if p.router == nil || est.DistanceKm == 0 {
		return plan, nil
	}

	route, err := p.router.GetTravelEstimate(ctx, req.From.Point(), req.To.Point())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return TripPlan{}, err
		}
		// Routing is best effort; the straight-line quote stands on its own.
		p.log.Warn("routed estimate failed", zap.String("route", est.RouteLabel), zap.Error(err))
		return plan, nil
	}
	plan.Routed = &RoutedLeg{
		DistanceKm:   math.Round(float64(route.DistanceMeters)/10) / 100,
		EtaMinutes:   int(math.Round(route.Duration.Minutes())),
		DistanceText: route.DistanceText,
	}
	return plan, nil
}
