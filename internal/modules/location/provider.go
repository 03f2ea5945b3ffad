package location

import (
	"context"
	"strconv"
	"sync"
)

// WatchID identifies one platform watch subscription.
type WatchID string

// Provider is the platform location API. Implementations report failures with
// ErrLocationDenied, ErrLocationTimeout or ErrLocationUnavailable (optionally wrapped).
type Provider interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
	WatchPosition(opts PositionOptions, onPosition func(Position), onError func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}

// DeviceSource hands out a Provider bound to one reporting device.
type DeviceSource interface {
	Device(deviceID string) Provider
}

// StaticProvider answers every request with the same position or the same error.
// Watches receive one delivery at subscription time.
type StaticProvider struct {
	pos Position
	err error

	mu      sync.Mutex
	seq     int
	watches map[WatchID]struct{}
}

// NewStaticProvider creates a provider that always returns the same position.
func NewStaticProvider(pos Position) *StaticProvider {
	return &StaticProvider{pos: pos, watches: make(map[WatchID]struct{})}
}

// NewFailingProvider creates a provider that always fails with err.
func NewFailingProvider(err error) *StaticProvider {
	return &StaticProvider{err: err, watches: make(map[WatchID]struct{})}
}

func (s *StaticProvider) CurrentPosition(ctx context.Context, _ PositionOptions) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	if s.err != nil {
		return Position{}, s.err
	}
	return s.pos, nil
}

func (s *StaticProvider) WatchPosition(_ PositionOptions, onPosition func(Position), onError func(error)) (WatchID, error) {
	s.mu.Lock()
	s.seq++
	id := WatchID("static-" + strconv.Itoa(s.seq))
	s.watches[id] = struct{}{}
	s.mu.Unlock()

	if s.err != nil {
		onError(s.err)
	} else {
		onPosition(s.pos)
	}
	return id, nil
}

func (s *StaticProvider) ClearWatch(id WatchID) {
	s.mu.Lock()
	delete(s.watches, id)
	s.mu.Unlock()
}

// ActiveWatches returns the number of watches not yet cleared.
func (s *StaticProvider) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}
