package location

import (
	"sync"
	"sync/atomic"

	"afyaride/internal/telemetry"
)

// TrackingSession owns exactly one provider watch. The caller that started it
// must call Stop; Stop is idempotent and safe on a nil or zero session.
type TrackingSession struct {
	id       string
	provider Provider
	watchID  WatchID

	stopped atomic.Bool
	once    sync.Once
}

func (t *TrackingSession) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Active reports whether the session is started and not yet stopped.
func (t *TrackingSession) Active() bool {
	return t != nil && t.provider != nil && !t.stopped.Load()
}

func (t *TrackingSession) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.provider == nil {
			return
		}
		t.provider.ClearWatch(t.watchID)
		telemetry.TrackingSessionsActive.Dec()
	})
}
