package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"
)

const (
	deviceLocationsNode = "device_locations"
	permissionDenied    = "denied"
	defaultPollInterval = time.Second
)

var errStaleFix = errors.New("cached fix older than maximum age")

// ---------------------------------------------------------------------------
// RTDB data models
// ---------------------------------------------------------------------------

// rtdbDeviceEntry mirrors a single device entry stored under /device_locations.
type rtdbDeviceEntry struct {
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Timestamp  int64    `json:"timestamp"`
	Permission string   `json:"permission"`
}

// entryPosition converts an RTDB entry into a Position, enforcing permission
// state and the maximum cache age.
func entryPosition(e rtdbDeviceEntry, maxAge time.Duration, now time.Time) (Position, error) {
	if e.Permission == permissionDenied {
		return Position{}, ErrLocationDenied
	}
	ts := time.UnixMilli(e.Timestamp)
	if maxAge > 0 && now.Sub(ts) > maxAge {
		return Position{}, errStaleFix
	}
	pos := Position{Lat: e.Lat, Lng: e.Lng, Timestamp: ts}
	if e.Accuracy != nil {
		acc := *e.Accuracy
		pos.Accuracy = &acc
	}
	return pos, nil
}

// ---------------------------------------------------------------------------
// Source and per-device provider
// ---------------------------------------------------------------------------

// FirebaseSource hands out providers for individual devices. Devices publish
// their fixes to the Realtime Database under /device_locations/{deviceID}.
type FirebaseSource struct {
	dbClient     *db.Client
	pollInterval time.Duration
}

func NewFirebaseSource(client *db.Client, pollInterval time.Duration) *FirebaseSource {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &FirebaseSource{dbClient: client, pollInterval: pollInterval}
}

// Device returns a provider reading the given device's node.
func (s *FirebaseSource) Device(deviceID string) Provider {
	return &FirebaseProvider{
		source:   s,
		deviceID: deviceID,
		watches:  make(map[WatchID]context.CancelFunc),
		now:      time.Now,
	}
}

// FirebaseProvider implements Provider for one device. Watches poll the node.
type FirebaseProvider struct {
	source   *FirebaseSource
	deviceID string
	now      func() time.Time

	mu      sync.Mutex
	seq     int
	watches map[WatchID]context.CancelFunc
}

func (p *FirebaseProvider) read(ctx context.Context) (rtdbDeviceEntry, bool, error) {
	ref := p.source.dbClient.NewRef(deviceLocationsNode + "/" + p.deviceID)

	var entry *rtdbDeviceEntry
	if err := ref.Get(ctx, &entry); err != nil {
		return rtdbDeviceEntry{}, false, fmt.Errorf("reading device %s: %w", p.deviceID, err)
	}
	if entry == nil {
		return rtdbDeviceEntry{}, false, nil
	}
	return *entry, true, nil
}

// contextEnded maps an expired deadline to ErrLocationTimeout and passes a
// caller cancellation through unchanged.
func (p *FirebaseProvider) contextEnded(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s from device %s", ErrLocationTimeout, what, p.deviceID)
	}
	return ctx.Err()
}

// CurrentPosition returns the device's fix if it is fresh enough, otherwise
// polls until a fresh one is published or the timeout elapses.
func (p *FirebaseProvider) CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for {
		entry, found, err := p.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Position{}, p.contextEnded(ctx, "read did not complete")
			}
			return Position{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
		}
		if !found {
			return Position{}, fmt.Errorf("%w: device %s has never reported", ErrLocationUnavailable, p.deviceID)
		}

		pos, err := entryPosition(entry, opts.MaximumAge, p.now())
		if !errors.Is(err, errStaleFix) {
			return pos, err
		}

		select {
		case <-ctx.Done():
			return Position{}, p.contextEnded(ctx, "no fresh fix")
		case <-time.After(p.source.pollInterval):
		}
	}
}

func (p *FirebaseProvider) WatchPosition(opts PositionOptions, onPosition func(Position), onError func(error)) (WatchID, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.seq++
	id := WatchID(p.deviceID + "-" + strconv.Itoa(p.seq))
	p.watches[id] = cancel
	p.mu.Unlock()

	go p.watch(ctx, opts, onPosition, onError)
	return id, nil
}

func (p *FirebaseProvider) ClearWatch(id WatchID) {
	p.mu.Lock()
	cancel, ok := p.watches[id]
	delete(p.watches, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// watch delivers every fix whose timestamp advanced. A silent window longer than
// opts.Timeout is reported once per window; repeated identical errors are reported once.
func (p *FirebaseProvider) watch(ctx context.Context, opts PositionOptions, onPosition func(Position), onError func(error)) {
	ticker := time.NewTicker(p.source.pollInterval)
	defer ticker.Stop()

	var (
		lastTs          int64
		lastDelivery    = p.now()
		lastErr         string
		timeoutReported bool
	)
	report := func(err error) {
		if ctx.Err() != nil || err.Error() == lastErr {
			return
		}
		lastErr = err.Error()
		onError(err)
	}

	readTimeout := opts.Timeout
	if readTimeout <= 0 {
		readTimeout = 5 * p.source.pollInterval
	}

	poll := func() {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		defer cancel()

		entry, found, err := p.read(readCtx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			report(fmt.Errorf("%w: %v", ErrLocationUnavailable, err))
		case !found:
			report(fmt.Errorf("%w: device %s has never reported", ErrLocationUnavailable, p.deviceID))
		case entry.Timestamp > lastTs:
			pos, err := entryPosition(entry, opts.MaximumAge, p.now())
			if errors.Is(err, errStaleFix) {
				break
			}
			if err != nil {
				report(err)
				break
			}
			lastTs = entry.Timestamp
			lastDelivery = p.now()
			lastErr = ""
			timeoutReported = false
			onPosition(pos)
			return
		}

		if opts.Timeout > 0 && !timeoutReported && p.now().Sub(lastDelivery) > opts.Timeout {
			timeoutReported = true
			report(fmt.Errorf("%w: no new fix from device %s within %s", ErrLocationTimeout, p.deviceID, opts.Timeout))
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
