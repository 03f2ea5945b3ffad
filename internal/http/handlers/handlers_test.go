// README: Handler tests against a gin engine with in-memory stores and static providers.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyaride/internal/http/handlers"
	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
	"afyaride/internal/service"
	"afyaride/internal/types"
)

// staticDevices serves the same provider for every device id.
type staticDevices struct {
	provider location.Provider
}

func (s staticDevices) Device(string) location.Provider { return s.provider }

// fixStore is an in-memory location.FixStore.
type fixStore struct {
	mu        sync.Mutex
	latest    map[types.ID]location.Snapshot
	snapshots []location.Snapshot
}

func newFixStore() *fixStore {
	return &fixStore{latest: make(map[types.ID]location.Snapshot)}
}

func (f *fixStore) SetLatest(_ context.Context, snap location.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.latest[snap.UserID]; ok && !snap.RecordedAt.After(prev.RecordedAt) {
		return location.ErrOutOfOrder
	}
	f.latest[snap.UserID] = snap
	return nil
}

func (f *fixStore) GetLatest(_ context.Context, id types.ID) (location.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.latest[id]
	if !ok {
		return location.Snapshot{}, location.ErrNotFound
	}
	return snap, nil
}

func (f *fixStore) Nearby(_ context.Context, userType location.UserType, _ types.Point, _ float64) ([]location.NearbyUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []location.NearbyUser
	for _, snap := range f.latest {
		if snap.UserType == userType {
			out = append(out, location.NearbyUser{UserID: snap.UserID, Position: snap.Position})
		}
	}
	return out, nil
}

func (f *fixStore) AppendSnapshot(_ context.Context, snap location.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap.ID = int64(len(f.snapshots) + 1)
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fixStore) ListSnapshots(_ context.Context, id types.ID, limit int) ([]location.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []location.Snapshot
	for i := len(f.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if f.snapshots[i].UserID == id {
			out = append(out, f.snapshots[i])
		}
	}
	return out, nil
}

type testEnv struct {
	router *gin.Engine
	store  *fixStore
}

// buildTestRouter wires the handlers the way the server does, minus middleware.
func buildTestRouter(devices location.DeviceSource, store location.FixStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	locSvc := location.NewService(nil, location.NewMockGeocoder(7), store, nil, location.DefaultConfig())
	prices := pricing.NewService(nil, pricing.DefaultRate)
	planner := service.NewTripPlanner(locSvc, prices, nil, nil)

	r := gin.New()
	trip := handlers.NewTripHandler(planner, prices)
	r.POST("/api/trips/estimate", trip.Estimate)
	r.POST("/api/fares/estimate", trip.Fare)

	loc := handlers.NewLocationHandler(locSvc, devices, nil)
	r.POST("/api/location/geocode", loc.Geocode)
	r.GET("/api/devices/:id/location", loc.Current)
	r.GET("/api/devices/:id/track", loc.Track)
	r.GET("/api/users/nearby", loc.Nearby)
	r.PUT("/api/users/:id/location", loc.Update)
	r.GET("/api/users/:id/location/last", loc.Last)
	r.GET("/api/users/:id/location/history", loc.History)
	return r
}

func newTestEnv(devices location.DeviceSource) testEnv {
	store := newFixStore()
	return testEnv{router: buildTestRouter(devices, store), store: store}
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Trips and fares
// ---------------------------------------------------------------------------

func TestTripEstimate(t *testing.T) {
	env := newTestEnv(nil)
	w := doRequest(env.router, http.MethodPost, "/api/trips/estimate", map[string]any{
		"from":      map[string]any{"lat": -1.2921, "lng": 36.8219},
		"to":        map[string]any{"lat": -1.2833, "lng": 36.8167},
		"ride_type": "boda",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.InDelta(t, 1.14, body["distance_km"], 0.05)
	assert.Equal(t, float64(2), body["eta_minutes"])
	assert.Equal(t, "-1.292100,36.821900 to -1.283300,36.816700", body["route_label"])
	fare := body["fare"].(map[string]any)
	assert.Equal(t, "KES", fare["currency"])
	assert.NotContains(t, body, "routed")
}

func TestTripEstimate_BadInput(t *testing.T) {
	env := newTestEnv(nil)

	w := doRequest(env.router, http.MethodPost, "/api/trips/estimate", map[string]any{
		"from": map[string]any{"lat": 95, "lng": 36.8},
		"to":   map[string]any{"lat": -1.28, "lng": 36.81},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(env.router, http.MethodPost, "/api/trips/estimate", map[string]any{
		"from": map[string]any{"lat": -1.29},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFareEstimate(t *testing.T) {
	env := newTestEnv(nil)

	w := doRequest(env.router, http.MethodPost, "/api/fares/estimate", map[string]any{"distance_km": 5})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 90.0, body["amount"])
	assert.Equal(t, "boda", body["ride_type"])

	w = doRequest(env.router, http.MethodPost, "/api/fares/estimate", map[string]any{"distance_km": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// Device fixes
// ---------------------------------------------------------------------------

func TestDeviceLocation(t *testing.T) {
	acc := 25.0
	env := newTestEnv(staticDevices{provider: location.NewStaticProvider(location.Position{
		Lat: -1.2921, Lng: 36.8219, Accuracy: &acc, Timestamp: time.Now(),
	})})

	w := doRequest(env.router, http.MethodGet, "/api/devices/dev-1/location", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["accurate"])
	loc := body["location"].(map[string]any)
	assert.Equal(t, -1.2921, loc["lat"])
	assert.Equal(t, 25.0, loc["accuracy_m"])
}

func TestDeviceLocation_Failures(t *testing.T) {
	tests := []struct {
		name      string
		devices   location.DeviceSource
		wantCode  int
		wantRetry bool
	}{
		{"denied", staticDevices{provider: location.NewFailingProvider(location.ErrLocationDenied)}, http.StatusForbidden, true},
		{"timeout", staticDevices{provider: location.NewFailingProvider(location.ErrLocationTimeout)}, http.StatusGatewayTimeout, true},
		{"unavailable", staticDevices{provider: location.NewFailingProvider(location.ErrLocationUnavailable)}, http.StatusServiceUnavailable, false},
		{"no device source", nil, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(tt.devices)
			w := doRequest(env.router, http.MethodGet, "/api/devices/dev-1/location", nil)
			require.Equal(t, tt.wantCode, w.Code)
			body := decode(t, w)
			assert.NotContains(t, body, "location", "a failure never carries a position")
			retry, _ := body["retry"].(bool)
			assert.Equal(t, tt.wantRetry, retry)
		})
	}
}

func TestDeviceLocation_InvalidID(t *testing.T) {
	env := newTestEnv(nil)
	w := doRequest(env.router, http.MethodGet, "/api/devices/bad.id/location", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeocode(t *testing.T) {
	env := newTestEnv(nil)
	w := doRequest(env.router, http.MethodPost, "/api/location/geocode", map[string]any{"lat": -1.2921, "lng": 36.8219})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["place"])
}

// ---------------------------------------------------------------------------
// User location records
// ---------------------------------------------------------------------------

func TestUserLocationLifecycle(t *testing.T) {
	env := newTestEnv(nil)
	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	w := doRequest(env.router, http.MethodGet, "/api/users/rider-1/location/last", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(env.router, http.MethodPut, "/api/users/rider-1/location", map[string]any{
		"user_type": "rider", "lat": -1.2921, "lng": 36.8219, "accuracy": 15, "captured_at": t0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["accepted"])

	w = doRequest(env.router, http.MethodPut, "/api/users/rider-1/location", map[string]any{
		"user_type": "rider", "lat": -1.30, "lng": 36.80, "captured_at": t0.Add(-time.Second),
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "stale", body["reason"])

	w = doRequest(env.router, http.MethodGet, "/api/users/rider-1/location/last", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "rider", body["user_type"])
	assert.Greater(t, body["age_seconds"], 0.0)
	assert.Equal(t, -1.2921, body["location"].(map[string]any)["lat"])

	w = doRequest(env.router, http.MethodGet, "/api/users/rider-1/location/history?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["snapshots"], 1)

	w = doRequest(env.router, http.MethodGet, "/api/users/nearby?user_type=rider&lat=-1.29&lng=36.82&radius_km=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode(t, w)["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "rider-1", users[0].(map[string]any)["user_id"])
}

func TestUserLocation_Validation(t *testing.T) {
	env := newTestEnv(nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"unknown user type", http.MethodPut, "/api/users/u1/location", map[string]any{"user_type": "admin", "lat": 0, "lng": 0}},
		{"missing lat", http.MethodPut, "/api/users/u1/location", map[string]any{"user_type": "chv", "lng": 0}},
		{"lat out of range", http.MethodPut, "/api/users/u1/location", map[string]any{"user_type": "chv", "lat": -91, "lng": 0}},
		{"negative accuracy", http.MethodPut, "/api/users/u1/location", map[string]any{"user_type": "chv", "lat": 0, "lng": 0, "accuracy": -1}},
		{"bad history limit", http.MethodGet, "/api/users/u1/location/history?limit=0", nil},
		{"nearby unknown type", http.MethodGet, "/api/users/nearby?user_type=driver&lat=0&lng=0", nil},
		{"nearby missing lng", http.MethodGet, "/api/users/nearby?user_type=chv&lat=0", nil},
		{"nearby radius too large", http.MethodGet, "/api/users/nearby?user_type=chv&lat=0&lng=0&radius_km=500", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(env.router, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestUserLocation_NoStore(t *testing.T) {
	r := buildTestRouter(nil, nil)
	w := doRequest(r, http.MethodPut, "/api/users/u1/location", map[string]any{"user_type": "member", "lat": 0, "lng": 0})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------------------------------------------------------------------------
// Tracking stream
// ---------------------------------------------------------------------------

func TestTrack_StreamsFixesAndStopsOnDisconnect(t *testing.T) {
	provider := location.NewStaticProvider(location.Position{Lat: -1.2921, Lng: 36.8219, Timestamp: time.Now()})
	env := newTestEnv(staticDevices{provider: provider})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/devices/dev-1/track"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			Location map[string]any `json:"location"`
			Accurate bool           `json:"accurate"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(handlers.MsgFix), msg.Type)
	assert.Equal(t, -1.2921, msg.Payload.Location["lat"])
	assert.False(t, msg.Payload.Accurate)
	assert.Equal(t, 1, provider.ActiveWatches())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return provider.ActiveWatches() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTrack_ProviderErrorFrame(t *testing.T) {
	provider := location.NewFailingProvider(location.ErrLocationTimeout)
	env := newTestEnv(staticDevices{provider: provider})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/devices/dev-2/track", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string                `json:"type"`
		Payload handlers.ErrorPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(handlers.MsgError), msg.Type)
	assert.Equal(t, "timeout", msg.Payload.Reason)
	assert.True(t, msg.Payload.Retry)
}
