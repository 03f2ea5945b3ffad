package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// localityTypes lists address component types in the order we prefer them as a place name.
var localityTypes = []string{"neighborhood", "sublocality_level_1", "sublocality", "locality"}

// GeocodeService resolves coordinates to locality names with the Google Geocoding API.
type GeocodeService struct {
	client   *maps.Client
	language string
}

// NewGeocodeService creates a GeocodeService with the given API key. Extra
// client options (e.g. maps.WithBaseURL) are passed through.
func NewGeocodeService(apiKey string, opts ...maps.ClientOption) (*GeocodeService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client, language: "en"}, nil
}

func (s *GeocodeService) Name() string { return "google" }

// ReverseGeocode returns the most specific locality name for the point, or the
// formatted address when no locality component is present.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	r := &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: lat, Lng: lng},
		Language: s.language,
	}

	results, err := s.client.ReverseGeocode(ctx, r)
	if err != nil {
		return "", fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no geocoding result for %.6f,%.6f", lat, lng)
	}

	for _, want := range localityTypes {
		for _, res := range results {
			for _, comp := range res.AddressComponents {
				if hasType(comp.Types, want) {
					return comp.LongName, nil
				}
			}
		}
	}
	return results[0].FormattedAddress, nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
