package pricing

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEstimate_DefaultRate(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		wantFare   float64
	}{
		{name: "zero distance is base fare", distanceKm: 0, wantFare: 50},
		{name: "within free km", distanceKm: 1, wantFare: 50},
		{name: "half a free km", distanceKm: 0.5, wantFare: 50},
		{name: "5 km -> 4 charged km", distanceKm: 5, wantFare: 90},
		{name: "fractional km is not rounded", distanceKm: 2.35, wantFare: 63.5},
		{name: "long trip", distanceKm: 20015.09, wantFare: 50 + 20014.09*10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(DefaultRate, tt.distanceKm)
			if math.Abs(got.Amount-tt.wantFare) > 1e-9 {
				t.Errorf("Estimate() = %v, want %v", got.Amount, tt.wantFare)
			}
			if got.Amount < DefaultRate.BaseFare {
				t.Errorf("amount %v below base fare", got.Amount)
			}
		})
	}
}

func TestEstimate_Breakdown(t *testing.T) {
	got := Estimate(DefaultRate, 3)
	assert.Equal(t, "KES", got.Currency)
	assert.Equal(t, DefaultRideType, got.RideType)
	assert.Equal(t, 50.0, got.Breakdown["base"])
	assert.Equal(t, 20.0, got.Breakdown["distance"])
}

func TestEstimate_NaNDistanceChargesBaseOnly(t *testing.T) {
	got := Estimate(DefaultRate, math.NaN())
	assert.Equal(t, 50.0, got.Amount)
}

type mockRateStore struct {
	mock.Mock
}

func (m *mockRateStore) GetRate(ctx context.Context, rideType string) (Rate, error) {
	args := m.Called(ctx, rideType)
	return args.Get(0).(Rate), args.Error(1)
}

func TestService_Estimate(t *testing.T) {
	ctx := context.Background()
	tuktuk := Rate{RideType: "tuktuk", BaseFare: 80, FreeKm: 2, PerKm: 15, Currency: "KES"}

	store := new(mockRateStore)
	store.On("GetRate", mock.Anything, "tuktuk").Return(tuktuk, nil)
	store.On("GetRate", mock.Anything, "unknown").Return(Rate{}, ErrRateNotFound)
	store.On("GetRate", mock.Anything, "broken").Return(Rate{}, errors.New("connection reset"))

	s := NewService(store, DefaultRate)

	got, err := s.Estimate(ctx, 4, "tuktuk")
	require.NoError(t, err)
	assert.Equal(t, 110.0, got.Amount)

	got, err = s.Estimate(ctx, 4, "unknown")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Amount, "missing rate falls back to default")

	got, err = s.Estimate(ctx, 4, "")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Amount)

	_, err = s.Estimate(ctx, 4, "broken")
	assert.Error(t, err)

	store.AssertExpectations(t)
}

func TestService_Estimate_InvalidDistance(t *testing.T) {
	s := NewService(nil, DefaultRate)
	for _, km := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := s.Estimate(context.Background(), km, "")
		assert.ErrorIs(t, err, ErrInvalidDistance)
	}
}

func TestStore_RateRoundTrip(t *testing.T) {
	dsn := os.Getenv("AFYA_TEST_DSN")
	if dsn == "" {
		t.Skip("AFYA_TEST_DSN not set; skipping DB-backed pricing test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	store := NewStore(db)
	want := Rate{RideType: "test_boda", BaseFare: 60, FreeKm: 1.5, PerKm: 12, Currency: "KES"}
	require.NoError(t, store.UpsertRate(ctx, want))

	got, err := store.GetRate(ctx, "test_boda")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = store.GetRate(ctx, "no_such_ride_type")
	assert.ErrorIs(t, err, ErrRateNotFound)
}
