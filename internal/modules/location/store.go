package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"afyaride/internal/types"
)

const (
	geoKeyPrefix  = "geo:%ss"
	lastKeyPrefix = "loc:last:%s"
	// Last-fix hashes for users that stop reporting expire after a day.
	lastFixTTL = 24 * time.Hour
	// Concurrent writers for one user retry the watched transaction this often.
	maxSetLatestAttempts = 5
)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// SetLatest records snap as the user's latest fix: GEO membership for nearby
// queries plus a hash holding the full fix. The hash is watched so the order
// check and the write happen atomically; a snap captured no later than the
// stored fix fails with ErrOutOfOrder. A user whose type changed is moved out
// of the previous type's GEO set.
func (s *Store) SetLatest(ctx context.Context, snap Snapshot) error {
	fields := map[string]any{
		"user_type":   string(snap.UserType),
		"lat":         strconv.FormatFloat(snap.Position.Lat, 'f', -1, 64),
		"lng":         strconv.FormatFloat(snap.Position.Lng, 'f', -1, 64),
		"recorded_ms": snap.RecordedAt.UnixMilli(),
	}
	if snap.AccuracyMeters != nil {
		fields["accuracy"] = strconv.FormatFloat(*snap.AccuracyMeters, 'f', -1, 64)
	}
	key := lastKey(snap.UserID)
	member := string(snap.UserID)

	txf := func(tx *redis.Tx) error {
		prev, err := tx.HMGet(ctx, key, "recorded_ms", "user_type").Result()
		if err != nil {
			return err
		}
		if raw, ok := prev[0].(string); ok {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms >= snap.RecordedAt.UnixMilli() {
				return ErrOutOfOrder
			}
		}
		prevType, _ := prev[1].(string)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevType != "" && prevType != string(snap.UserType) {
				pipe.ZRem(ctx, geoKey(UserType(prevType)), member)
			}
			pipe.GeoAdd(ctx, geoKey(snap.UserType), &redis.GeoLocation{
				Name:      member,
				Longitude: snap.Position.Lng,
				Latitude:  snap.Position.Lat,
			})
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, lastFixTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxSetLatestAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("storing latest fix for %s: %w", snap.UserID, redis.TxFailedErr)
}

// GetLatest returns the user's latest recorded fix or ErrNotFound.
func (s *Store) GetLatest(ctx context.Context, id types.ID) (Snapshot, error) {
	vals, err := s.redis.HGetAll(ctx, lastKey(id)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return parseLastFix(id, vals)
}

func parseLastFix(id types.ID, vals map[string]string) (Snapshot, error) {
	lat, err := strconv.ParseFloat(vals["lat"], 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing lat for %s: %w", id, err)
	}
	lng, err := strconv.ParseFloat(vals["lng"], 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing lng for %s: %w", id, err)
	}
	ms, err := strconv.ParseInt(vals["recorded_ms"], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing recorded_ms for %s: %w", id, err)
	}
	snap := Snapshot{
		UserID:     id,
		UserType:   UserType(vals["user_type"]),
		Position:   types.Point{Lat: lat, Lng: lng},
		RecordedAt: time.UnixMilli(ms).UTC(),
	}
	if raw, ok := vals["accuracy"]; ok {
		acc, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing accuracy for %s: %w", id, err)
		}
		snap.AccuracyMeters = &acc
	}
	return snap, nil
}

// Nearby returns users of the given type within radiusKm of center, closest first.
func (s *Store) Nearby(ctx context.Context, userType UserType, center types.Point, radiusKm float64) ([]NearbyUser, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, geoKey(userType), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	users := make([]NearbyUser, 0, len(locs))
	for _, l := range locs {
		users = append(users, NearbyUser{
			UserID:   types.ID(l.Name),
			Position: types.Point{Lat: l.Latitude, Lng: l.Longitude},
		})
	}
	return users, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO location_snapshots (user_id, user_type, lat, lng, accuracy_m, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(snap.UserID),
		string(snap.UserType),
		snap.Position.Lat,
		snap.Position.Lng,
		snap.AccuracyMeters,
		snap.RecordedAt,
	)
	return err
}

// ListSnapshots returns up to limit snapshots for a user, newest first.
func (s *Store) ListSnapshots(ctx context.Context, id types.ID, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, user_type, lat, lng, accuracy_m, recorded_at
		FROM location_snapshots
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, string(id), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var userID, userType string
		if err := rows.Scan(&snap.ID, &userID, &userType, &snap.Position.Lat, &snap.Position.Lng, &snap.AccuracyMeters, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.UserID = types.ID(userID)
		snap.UserType = UserType(userType)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func geoKey(t UserType) string {
	return fmt.Sprintf(geoKeyPrefix, string(t))
}

func lastKey(id types.ID) string {
	return fmt.Sprintf(lastKeyPrefix, string(id))
}
