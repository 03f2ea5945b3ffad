package location

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"afyaride/internal/types"
)

// Coordinate is a validated, immutable device fix. Construct it with NewCoordinate.
type Coordinate struct {
	lat         float64
	lng         float64
	accuracy    float64
	hasAccuracy bool
	capturedAt  time.Time
}

// NewCoordinate validates lat/lng (finite, within [-90,90] and [-180,180]) and
// an optional accuracy radius in meters. The accuracy pointer is copied, never retained.
func NewCoordinate(lat, lng float64, accuracyMeters *float64, capturedAt time.Time) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return Coordinate{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lng)
	}
	c := Coordinate{lat: lat, lng: lng, capturedAt: capturedAt}
	if accuracyMeters != nil {
		acc := *accuracyMeters
		if math.IsNaN(acc) || math.IsInf(acc, 0) || acc < 0 {
			return Coordinate{}, fmt.Errorf("%w: accuracy %v", ErrInvalidCoordinate, acc)
		}
		c.accuracy = acc
		c.hasAccuracy = true
	}
	return c, nil
}

func (c Coordinate) Lat() float64 { return c.lat }

func (c Coordinate) Lng() float64 { return c.lng }

// Accuracy returns the reported 68% confidence radius in meters and whether one was reported.
func (c Coordinate) Accuracy() (float64, bool) { return c.accuracy, c.hasAccuracy }

func (c Coordinate) CapturedAt() time.Time { return c.capturedAt }

func (c Coordinate) Point() types.Point { return types.Point{Lat: c.lat, Lng: c.lng} }

type coordinateJSON struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	AccuracyMeters *float64 `json:"accuracy_m,omitempty"`
	CapturedAt     string   `json:"captured_at,omitempty"`
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	out := coordinateJSON{Lat: c.lat, Lng: c.lng}
	if c.hasAccuracy {
		acc := c.accuracy
		out.AccuracyMeters = &acc
	}
	if !c.capturedAt.IsZero() {
		out.CapturedAt = c.capturedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// PositionOptions mirrors the platform geolocation options object.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Position is a raw fix as reported by a Provider, before validation.
type Position struct {
	Lat       float64
	Lng       float64
	Accuracy  *float64
	Timestamp time.Time
}

// DistanceEstimate is a straight-line trip estimate between two fixes.
// RouteLabel is a display string only, not a routed path.
type DistanceEstimate struct {
	DistanceKm float64 `json:"distance_km"`
	EtaMinutes int     `json:"eta_minutes"`
	RouteLabel string  `json:"route_label"`
}

type UserType string

const (
	UserTypeMember       UserType = "member"
	UserTypeRider        UserType = "rider"
	UserTypeCHV          UserType = "chv"
	UserTypeHealthWorker UserType = "health_worker"
)

func (t UserType) Valid() bool {
	switch t {
	case UserTypeMember, UserTypeRider, UserTypeCHV, UserTypeHealthWorker:
		return true
	}
	return false
}

// Update is a fix reported on behalf of a user, to be recorded as their latest position.
type Update struct {
	UserID   types.ID
	UserType UserType
	Fix      Coordinate
}

type UpdateResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type Snapshot struct {
	ID             int64
	UserID         types.ID
	UserType       UserType
	Position       types.Point
	AccuracyMeters *float64
	RecordedAt     time.Time
}

// Coordinate rebuilds the fix a snapshot was recorded from.
func (s Snapshot) Coordinate() (Coordinate, error) {
	return NewCoordinate(s.Position.Lat, s.Position.Lng, s.AccuracyMeters, s.RecordedAt)
}

// LastKnown is the most recently recorded fix for a user together with its age.
type LastKnown struct {
	Snapshot Snapshot
	Age      time.Duration
}

// NearbyUser is a user found around a query point, with distance in km.
type NearbyUser struct {
	UserID   types.ID    `json:"user_id"`
	Position types.Point `json:"position"`
	Distance float64     `json:"distance_km"`
}
