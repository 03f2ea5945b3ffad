package location

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Geocoder resolves a coordinate to a human-readable locality.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
	Name() string
}

var mockPlaces = []string{
	"Nairobi CBD",
	"Westlands",
	"Kibera",
	"Eastleigh",
	"Kawangware",
	"Kasarani",
}

// MockGeocoder ignores the coordinate and picks a place from a fixed list.
// Offline and test use only.
type MockGeocoder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockGeocoder(seed uint64) *MockGeocoder {
	return &MockGeocoder{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (m *MockGeocoder) ReverseGeocode(ctx context.Context, _, _ float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return mockPlaces[m.rng.IntN(len(mockPlaces))], nil
}

func (m *MockGeocoder) Name() string { return "mock" }
