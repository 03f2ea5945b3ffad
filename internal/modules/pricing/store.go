// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, rideType string) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT ride_type, base_fare, free_km, per_km, currency
		FROM fare_rates
		WHERE ride_type = $1`, rideType,
	)

	var r Rate
	err := row.Scan(&r.RideType, &r.BaseFare, &r.FreeKm, &r.PerKm, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}

func (s *Store) UpsertRate(ctx context.Context, r Rate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fare_rates (ride_type, base_fare, free_km, per_km, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ride_type) DO UPDATE
		SET base_fare = EXCLUDED.base_fare,
		    free_km = EXCLUDED.free_km,
		    per_km = EXCLUDED.per_km,
		    currency = EXCLUDED.currency`,
		r.RideType, r.BaseFare, r.FreeKm, r.PerKm, r.Currency,
	)
	return err
}
