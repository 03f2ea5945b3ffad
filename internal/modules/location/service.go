// Package location acquires device fixes, runs tracking sessions, records
// users' latest positions and derives trip distance, ETA and fare.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"afyaride/internal/modules/pricing"
	"afyaride/internal/telemetry"
	"afyaride/internal/types"
)

const (
	DefaultAverageSpeedKmh         = 30.0
	DefaultAccuracyThresholdMeters = 100.0
	DefaultCurrentTimeout          = 10 * time.Second
	DefaultCurrentMaxAge           = 5 * time.Minute
	DefaultTrackingTimeout         = 5 * time.Second
	DefaultTrackingMaxAge          = time.Minute
)

var (
	ErrNoStore       = errors.New("location store not configured")
	ErrInvalidUpdate = errors.New("update requires a user id and a known user type")
	ErrNoUpdateFunc  = errors.New("tracking requires an update callback")
)

type Config struct {
	AverageSpeedKmh         float64
	AccuracyThresholdMeters float64
	CurrentTimeout          time.Duration
	CurrentMaxAge           time.Duration
	TrackingTimeout         time.Duration
	TrackingMaxAge          time.Duration
	Fare                    pricing.Rate
}

func DefaultConfig() Config {
	return Config{
		AverageSpeedKmh:         DefaultAverageSpeedKmh,
		AccuracyThresholdMeters: DefaultAccuracyThresholdMeters,
		CurrentTimeout:          DefaultCurrentTimeout,
		CurrentMaxAge:           DefaultCurrentMaxAge,
		TrackingTimeout:         DefaultTrackingTimeout,
		TrackingMaxAge:          DefaultTrackingMaxAge,
		Fare:                    pricing.DefaultRate,
	}
}

// FixStore persists recorded fixes. *Store is the production implementation.
// SetLatest must compare and write atomically, failing with ErrOutOfOrder when
// snap is not newer than the stored fix.
type FixStore interface {
	SetLatest(ctx context.Context, snap Snapshot) error
	GetLatest(ctx context.Context, id types.ID) (Snapshot, error)
	Nearby(ctx context.Context, userType UserType, center types.Point, radiusKm float64) ([]NearbyUser, error)
	AppendSnapshot(ctx context.Context, snap Snapshot) error
	ListSnapshots(ctx context.Context, id types.ID, limit int) ([]Snapshot, error)
}

type Service struct {
	provider Provider
	geocoder Geocoder
	store    FixStore
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

// NewService wires a location service. provider, geocoder, store and log may be nil:
// without a provider every acquisition fails with ErrLocationUnavailable, and
// without a geocoder the offline MockGeocoder answers.
func NewService(provider Provider, geocoder Geocoder, store FixStore, log *zap.Logger, cfg Config) *Service {
	if geocoder == nil {
		geocoder = NewMockGeocoder(uint64(time.Now().UnixNano()))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		provider: provider,
		geocoder: geocoder,
		store:    store,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithProvider returns a copy of the service bound to another provider.
func (s *Service) WithProvider(p Provider) *Service {
	cp := *s
	cp.provider = p
	return &cp
}

func (s *Service) Config() Config {
	return s.cfg
}

// GetCurrentLocation requests a single fix. It resolves with a real fix or fails
// with a *LocationError; it never substitutes a default position. The configured
// timeout bounds the call; a caller cancelling ctx earlier gets ctx's error.
func (s *Service) GetCurrentLocation(ctx context.Context) (Coordinate, error) {
	if s.provider == nil {
		return Coordinate{}, s.failCurrent(&LocationError{Reason: ReasonUnavailable})
	}

	opts := PositionOptions{
		HighAccuracy: true,
		Timeout:      s.cfg.CurrentTimeout,
		MaximumAge:   s.cfg.CurrentMaxAge,
	}
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type result struct {
		pos Position
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := s.provider.CurrentPosition(reqCtx, opts)
		done <- result{pos: pos, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-reqCtx.Done():
		res.err = reqCtx.Err()
	}

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
			telemetry.LocationFixes.WithLabelValues("current", "cancelled").Inc()
			return Coordinate{}, ctx.Err()
		}
		reason := classify(res.err)
		if errors.Is(res.err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return Coordinate{}, s.failCurrent(&LocationError{Reason: reason, Err: res.err})
	}

	coord, err := s.toCoordinate(res.pos)
	if err != nil {
		return Coordinate{}, s.failCurrent(&LocationError{Reason: ReasonUnavailable, Err: err})
	}
	telemetry.LocationFixes.WithLabelValues("current", "ok").Inc()
	return coord, nil
}

func (s *Service) failCurrent(err *LocationError) error {
	telemetry.LocationFixes.WithLabelValues("current", string(err.Reason)).Inc()
	s.log.Warn("current location failed", zap.String("reason", string(err.Reason)), zap.Error(err))
	return err
}

func (s *Service) toCoordinate(p Position) (Coordinate, error) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	return NewCoordinate(p.Lat, p.Lng, p.Accuracy, ts)
}

// StartTracking subscribes to continuous fixes. onUpdate receives fixes in
// provider order; onError (optional) receives *TrackingProviderError values,
// after which the session keeps listening. Each call opens its own watch.
func (s *Service) StartTracking(onUpdate func(Coordinate), onError func(error)) (*TrackingSession, error) {
	if onUpdate == nil {
		return nil, ErrNoUpdateFunc
	}
	if s.provider == nil {
		return nil, &LocationError{Reason: ReasonUnavailable}
	}

	sess := &TrackingSession{id: uuid.NewString()}
	log := s.log.With(zap.String("session_id", sess.id))

	reportErr := func(err error) {
		if sess.stopped.Load() {
			return
		}
		perr := &TrackingProviderError{SessionID: sess.id, Reason: classify(err), Err: err}
		telemetry.TrackingErrors.WithLabelValues(string(perr.Reason)).Inc()
		log.Warn("tracking provider error", zap.String("reason", string(perr.Reason)), zap.Error(err))
		if onError != nil {
			onError(perr)
		}
	}
	deliver := func(p Position) {
		if sess.stopped.Load() {
			return
		}
		coord, err := s.toCoordinate(p)
		if err != nil {
			reportErr(err)
			return
		}
		telemetry.LocationFixes.WithLabelValues("tracking", "ok").Inc()
		onUpdate(coord)
	}

	opts := PositionOptions{
		HighAccuracy: true,
		Timeout:      s.cfg.TrackingTimeout,
		MaximumAge:   s.cfg.TrackingMaxAge,
	}
	id, err := s.provider.WatchPosition(opts, deliver, reportErr)
	if err != nil {
		sess.stopped.Store(true)
		return nil, &LocationError{Reason: classify(err), Err: err}
	}

	sess.provider = s.provider
	sess.watchID = id
	telemetry.TrackingSessionsActive.Inc()
	log.Info("tracking started", zap.String("watch_id", string(id)))
	return sess, nil
}

// StopTracking releases the session's watch. Safe to call repeatedly or with nil.
func (s *Service) StopTracking(sess *TrackingSession) {
	if sess.Active() {
		s.log.Info("tracking stopped", zap.String("session_id", sess.ID()))
	}
	sess.Stop()
}

// DistanceBetween returns the great-circle distance (2 dp), ETA at the configured
// average speed, and a display label. Pure; identical inputs give identical output.
func (s *Service) DistanceBetween(a, b Coordinate) DistanceEstimate {
	km := round2(haversineKm(a.lat, a.lng, b.lat, b.lng))
	eta := 0
	if s.cfg.AverageSpeedKmh > 0 {
		eta = int(math.Round(km / s.cfg.AverageSpeedKmh * 60))
	}
	return DistanceEstimate{
		DistanceKm: km,
		EtaMinutes: eta,
		RouteLabel: routeLabel(a, b),
	}
}

// EstimateFare prices a distance with the configured fare rate.
func (s *Service) EstimateFare(distanceKm float64) pricing.FareEstimate {
	return pricing.Estimate(s.cfg.Fare, distanceKm)
}

// IsAccurate reports whether the fix carries an accuracy below the threshold.
// Fixes without a reported accuracy are treated as inaccurate.
func (s *Service) IsAccurate(c Coordinate) bool {
	acc, ok := c.Accuracy()
	return ok && acc < s.cfg.AccuracyThresholdMeters
}

// ReverseGeocode resolves a fix to a locality name via the configured geocoder.
func (s *Service) ReverseGeocode(ctx context.Context, c Coordinate) (string, error) {
	name := s.geocoder.Name()
	place, err := s.geocoder.ReverseGeocode(ctx, c.lat, c.lng)
	if err == nil && place == "" {
		err = errors.New("empty result")
	}
	if err != nil {
		telemetry.GeocodeRequests.WithLabelValues(name, "error").Inc()
		return "", fmt.Errorf("%w: %s: %v", ErrGeocode, name, err)
	}
	telemetry.GeocodeRequests.WithLabelValues(name, "ok").Inc()
	return place, nil
}

// Update records a user's fix as their latest position and appends a snapshot.
// A fix captured no later than the stored one is not accepted.
func (s *Service) Update(ctx context.Context, u Update) (UpdateResult, error) {
	if s.store == nil {
		return UpdateResult{}, ErrNoStore
	}
	if u.UserID == "" || !u.UserType.Valid() {
		return UpdateResult{}, ErrInvalidUpdate
	}

	recordedAt := u.Fix.CapturedAt()
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}
	recordedAt = recordedAt.UTC().Truncate(time.Millisecond)

	snap := Snapshot{
		UserID:     u.UserID,
		UserType:   u.UserType,
		Position:   u.Fix.Point(),
		RecordedAt: recordedAt,
	}
	if acc, ok := u.Fix.Accuracy(); ok {
		snap.AccuracyMeters = &acc
	}

	if err := s.store.SetLatest(ctx, snap); err != nil {
		if errors.Is(err, ErrOutOfOrder) {
			return UpdateResult{Accepted: false, Reason: "stale"}, nil
		}
		return UpdateResult{}, fmt.Errorf("storing latest fix for %s: %w", u.UserID, err)
	}
	if err := s.FlushSnapshot(ctx, snap); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Accepted: true}, nil
}

func (s *Service) FlushSnapshot(ctx context.Context, snap Snapshot) error {
	if err := s.store.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("appending snapshot for %s: %w", snap.UserID, err)
	}
	return nil
}

// LastKnown returns the user's most recently recorded fix and its age. Whether a
// stale fix is usable is the caller's decision.
func (s *Service) LastKnown(ctx context.Context, id types.ID) (LastKnown, error) {
	if s.store == nil {
		return LastKnown{}, ErrNoStore
	}
	snap, err := s.store.GetLatest(ctx, id)
	if err != nil {
		return LastKnown{}, err
	}
	return LastKnown{Snapshot: snap, Age: s.now().Sub(snap.RecordedAt)}, nil
}

// Nearby lists users of a type within radiusKm of center, closest first.
func (s *Service) Nearby(ctx context.Context, userType UserType, center Coordinate, radiusKm float64) ([]NearbyUser, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	users, err := s.store.Nearby(ctx, userType, center.Point(), radiusKm)
	if err != nil {
		return nil, fmt.Errorf("querying nearby %ss: %w", userType, err)
	}
	for i := range users {
		p := users[i].Position
		users[i].Distance = round2(haversineKm(center.lat, center.lng, p.Lat, p.Lng))
	}
	sortByDistance(users, func(u NearbyUser) float64 { return u.Distance })
	return users, nil
}

// History replays up to limit recorded snapshots, newest first.
func (s *Service) History(ctx context.Context, id types.ID, limit int) ([]Snapshot, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSnapshots(ctx, id, limit)
}
