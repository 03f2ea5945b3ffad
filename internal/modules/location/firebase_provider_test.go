package location

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestEntryPosition(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	acc := 12.0

	tests := []struct {
		name    string
		entry   rtdbDeviceEntry
		maxAge  time.Duration
		wantErr error
	}{
		{
			name:   "fresh fix",
			entry:  rtdbDeviceEntry{Lat: -1.29, Lng: 36.82, Accuracy: &acc, Timestamp: now.Add(-10 * time.Second).UnixMilli(), Permission: "granted"},
			maxAge: time.Minute,
		},
		{
			name:    "permission denied",
			entry:   rtdbDeviceEntry{Lat: -1.29, Lng: 36.82, Timestamp: now.UnixMilli(), Permission: "denied"},
			maxAge:  time.Minute,
			wantErr: ErrLocationDenied,
		},
		{
			name:    "older than max age",
			entry:   rtdbDeviceEntry{Lat: -1.29, Lng: 36.82, Timestamp: now.Add(-2 * time.Minute).UnixMilli()},
			maxAge:  time.Minute,
			wantErr: errStaleFix,
		},
		{
			name:   "zero max age accepts any fix",
			entry:  rtdbDeviceEntry{Lat: -1.29, Lng: 36.82, Timestamp: now.Add(-24 * time.Hour).UnixMilli()},
			maxAge: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := entryPosition(tt.entry, tt.maxAge, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, Position{}, pos)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry.Lat, pos.Lat)
			assert.Equal(t, tt.entry.Lng, pos.Lng)
			assert.Equal(t, tt.entry.Timestamp, pos.Timestamp.UnixMilli())
		})
	}
}

func TestEntryPosition_AccuracyNotAliased(t *testing.T) {
	acc := 30.0
	pos, err := entryPosition(rtdbDeviceEntry{Accuracy: &acc, Timestamp: 1}, 0, time.Now())
	require.NoError(t, err)
	acc = 999
	require.NotNil(t, pos.Accuracy)
	assert.Equal(t, 30.0, *pos.Accuracy)
}

func TestContextEnded(t *testing.T) {
	p := &FirebaseProvider{deviceID: "dev-1"}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.contextEnded(cancelled, "read did not complete")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLocationTimeout)

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()
	err = p.contextEnded(expired, "no fresh fix")
	assert.ErrorIs(t, err, ErrLocationTimeout)
	assert.Contains(t, err.Error(), "dev-1")
}

// TestFirebaseProvider_Emulator runs against the Realtime Database emulator.
// Start it with `firebase emulators:start --only database` and export
// FIREBASE_DATABASE_EMULATOR_HOST=localhost:9000.
func TestFirebaseProvider_Emulator(t *testing.T) {
	host := os.Getenv("FIREBASE_DATABASE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIREBASE_DATABASE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   "afyaride-test",
		DatabaseURL: "https://afyaride-test.firebaseio.com",
	}, option.WithoutAuthentication())
	require.NoError(t, err)
	client, err := app.Database(ctx)
	require.NoError(t, err)

	deviceID := "dev-" + time.Now().Format("150405.000000")
	ref := client.NewRef(deviceLocationsNode + "/" + deviceID)
	t.Cleanup(func() { _ = ref.Delete(context.Background()) })

	provider := NewFirebaseSource(client, 50*time.Millisecond).Device(deviceID)
	opts := PositionOptions{HighAccuracy: true, Timeout: 2 * time.Second, MaximumAge: time.Minute}

	_, err = provider.CurrentPosition(ctx, opts)
	assert.ErrorIs(t, err, ErrLocationUnavailable, "device that never reported")

	require.NoError(t, ref.Set(ctx, rtdbDeviceEntry{Lat: -1.2921, Lng: 36.8219, Timestamp: time.Now().UnixMilli(), Permission: "granted"}))
	pos, err := provider.CurrentPosition(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, -1.2921, pos.Lat)

	var (
		mu   sync.Mutex
		got  []Position
		errs []error
	)
	id, err := provider.WatchPosition(opts,
		func(p Position) { mu.Lock(); got = append(got, p); mu.Unlock() },
		func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() },
	)
	require.NoError(t, err)

	require.NoError(t, ref.Set(ctx, rtdbDeviceEntry{Lat: -1.2833, Lng: 36.8167, Timestamp: time.Now().Add(time.Second).UnixMilli(), Permission: "granted"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 2*time.Second, 20*time.Millisecond)

	provider.ClearWatch(id)
	mu.Lock()
	assert.Equal(t, -1.2833, got[len(got)-1].Lat)
	mu.Unlock()

	require.NoError(t, ref.Set(ctx, rtdbDeviceEntry{Lat: -1.29, Lng: 36.82, Timestamp: time.Now().UnixMilli(), Permission: "denied"}))
	_, err = provider.CurrentPosition(ctx, opts)
	assert.ErrorIs(t, err, ErrLocationDenied)
}
