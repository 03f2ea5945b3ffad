// README: Pricing service computes fare estimates from per-ride-type rates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidDistance = errors.New("distance must be a finite, non-negative number of km")
	ErrRateNotFound    = errors.New("fare rate not found")
)

// RateStore resolves the rate for a ride type.
type RateStore interface {
	GetRate(ctx context.Context, rideType string) (Rate, error)
}

type Service struct {
	store    RateStore
	defaults Rate
}

// NewService builds a pricing service. store may be nil, in which case every
// ride type is priced with defaults.
func NewService(store RateStore, defaults Rate) *Service {
	return &Service{store: store, defaults: defaults}
}

func (s *Service) Default() Rate {
	return s.defaults
}

// Estimate prices distanceKm with the rate stored for rideType, falling back to
// the default rate when none is stored.
func (s *Service) Estimate(ctx context.Context, distanceKm float64, rideType string) (FareEstimate, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return FareEstimate{}, ErrInvalidDistance
	}
	rate, err := s.rateFor(ctx, rideType)
	if err != nil {
		return FareEstimate{}, err
	}
	return Estimate(rate, distanceKm), nil
}

func (s *Service) rateFor(ctx context.Context, rideType string) (Rate, error) {
	if rideType == "" || s.store == nil {
		return s.defaults, nil
	}
	rate, err := s.store.GetRate(ctx, rideType)
	if errors.Is(err, ErrRateNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return Rate{}, fmt.Errorf("loading rate for %q: %w", rideType, err)
	}
	return rate, nil
}

// Estimate computes base + max(0, km - freeKm) * perKm. It never returns less
// than the base fare.
func Estimate(rate Rate, distanceKm float64) FareEstimate {
	excess := distanceKm - rate.FreeKm
	if math.IsNaN(excess) || excess < 0 {
		excess = 0
	}
	distanceCharge := excess * rate.PerKm
	return FareEstimate{
		Amount:   rate.BaseFare + distanceCharge,
		Currency: rate.Currency,
		RideType: rate.RideType,
		Breakdown: map[string]float64{
			"base":     rate.BaseFare,
			"distance": distanceCharge,
		},
	}
}
