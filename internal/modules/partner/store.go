// README: Partner directory backed by PostgreSQL rows plus a Redis GEO index
// for proximity lookups.
package partner

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mesa/internal/types"
)

var ErrNotFound = errors.New("partner not found")

const geoKey = "partners:geo"

// Directory is the partner-facing contract consumed by assignment, order,
// and stats. The production implementation is Store; tests substitute fakes.
type Directory interface {
	Get(ctx context.Context, id types.ID) (*Partner, error)
	ListEligible(ctx context.Context) ([]Partner, error)
	// Claim flips availability true -> false; it reports false when the
	// partner is not active+available (or the flag was already taken).
	Claim(ctx context.Context, id types.ID) (bool, error)
	// Release flips availability back to true.
	Release(ctx context.Context, id types.ID) error
	UpdateLocation(ctx context.Context, id types.ID, pos types.Point, at time.Time) error
	// Nearby returns partner ids ordered by ascending distance from origin.
	Nearby(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error)
	UpdateStats(ctx context.Context, id types.ID, st Stats) error
}

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

var _ Directory = (*Store)(nil)

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Partner, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, phone, status, available,
		       location_lat, location_lng, location_at,
		       rating_avg, rating_count, tip_total, delivery_earnings, currency,
		       total_deliveries, completion_rate, on_time_rate, avg_delivery_secs
		FROM partners
		WHERE id = $1`, string(id),
	)
	return scanPartner(row)
}

func (s *Store) ListEligible(ctx context.Context) ([]Partner, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, phone, status, available,
		       location_lat, location_lng, location_at,
		       rating_avg, rating_count, tip_total, delivery_earnings, currency,
		       total_deliveries, completion_rate, on_time_rate, avg_delivery_secs
		FROM partners
		WHERE status = 'active' AND available = TRUE
		ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) Claim(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE partners
		SET available = FALSE
		WHERE id = $1 AND status = 'active' AND available = TRUE`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Release(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `UPDATE partners SET available = TRUE WHERE id = $1`, string(id))
	return err
}

func (s *Store) UpdateLocation(ctx context.Context, id types.ID, pos types.Point, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE partners
		SET location_lat = $1, location_lng = $2, location_at = $3
		WHERE id = $4`,
		pos.Lat, pos.Lng, at, string(id),
	)
	if err != nil {
		return err
	}
	return s.redis.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      string(id),
		Latitude:  pos.Lat,
		Longitude: pos.Lng,
	}).Err()
}

func (s *Store) Nearby(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, geoKey, &redis.GeoSearchQuery{
		Latitude:   origin.Lat,
		Longitude:  origin.Lng,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

func (s *Store) UpdateStats(ctx context.Context, id types.ID, st Stats) error {
	_, err := s.db.Exec(ctx, `
		UPDATE partners
		SET rating_avg = $1, rating_count = $2, tip_total = $3,
		    delivery_earnings = $4, total_deliveries = $5,
		    completion_rate = $6, on_time_rate = $7, avg_delivery_secs = $8
		WHERE id = $9`,
		st.RatingAvg, st.RatingCount, st.TipTotal.Amount,
		st.DeliveryEarnings.Amount, st.TotalDeliveries,
		st.CompletionRate, st.OnTimeRate, int64(st.AvgDeliveryTime.Seconds()),
		string(id),
	)
	return err
}

func scanPartner(row pgx.Row) (*Partner, error) {
	var p Partner
	var lat, lng *float64
	var locAt *time.Time
	var avgSecs int64
	var currency string
	err := row.Scan(
		&p.ID, &p.Name, &p.Phone, &p.Status, &p.Available,
		&lat, &lng, &locAt,
		&p.Stats.RatingAvg, &p.Stats.RatingCount, &p.Stats.TipTotal.Amount,
		&p.Stats.DeliveryEarnings.Amount, &currency,
		&p.Stats.TotalDeliveries, &p.Stats.CompletionRate, &p.Stats.OnTimeRate, &avgSecs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &types.Point{Lat: *lat, Lng: *lng}
		p.LocationAt = locAt
	}
	p.Stats.TipTotal.Currency = currency
	p.Stats.DeliveryEarnings.Currency = currency
	p.Stats.AvgDeliveryTime = time.Duration(avgSecs) * time.Second
	return &p, nil
}
