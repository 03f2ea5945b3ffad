package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"afyaride/internal/types"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// RouteEstimate is a road-network estimate for a trip.
type RouteEstimate struct {
	Duration       time.Duration
	DistanceMeters int
	DistanceText   string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// GetTravelEstimate returns the routed duration and distance between two points.
// It assumes driving mode, the closest Directions mode to a motorcycle taxi.
func (s *RouteService) GetTravelEstimate(ctx context.Context, from, to types.Point) (RouteEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLngString(from),
		Destination: latLngString(to),
		Mode:        maps.TravelModeDriving,
		Language:    "en",
		Region:      "ke",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return RouteEstimate{}, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return RouteEstimate{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return RouteEstimate{
		Duration:       leg.Duration,
		DistanceMeters: leg.Distance.Meters,
		DistanceText:   leg.Distance.HumanReadable,
	}, nil
}

func latLngString(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
