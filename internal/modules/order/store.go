// README: Order persistence. Store is the contract; PGStore is the PostgreSQL
// implementation using versioned conditional updates for every status mutation.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mesa/internal/types"
)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	ListByUser(ctx context.Context, userID types.ID) ([]Order, error)
	// UpdateStatus applies from -> to only if the stored status and version
	// still match; it reports whether a row was updated. partnerID, when set,
	// is bound to the order.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, partnerID *types.ID) (bool, error)
	// UnbindPartner compensates a half-applied assignment: assigned -> accepted
	// with the partner reference cleared.
	UnbindPartner(ctx context.Context, id types.ID, version int) (bool, error)
	CompletePayment(ctx context.Context, id types.ID) error
	// SetFeedback writes feedback only if none exists yet.
	SetFeedback(ctx context.Context, id types.ID, fb Feedback) (bool, error)
	// AppendLocation appends to the order's location history and updates the
	// current location. History is append-only.
	AppendLocation(ctx context.Context, id types.ID, pt LocationPoint) error
	LocationHistory(ctx context.Context, id types.ID) ([]LocationPoint, error)
	ListDeliveredByPartner(ctx context.Context, partnerID types.ID) ([]Order, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return err
	}
	var lat, lng *float64
	if o.Address.Location != nil {
		lat, lng = &o.Address.Location.Lat, &o.Address.Location.Lng
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, partner_id, status, status_version, lines,
			subtotal, tax, delivery_charge, total, currency, otp,
			street, city, state, zip, address_lat, address_lng,
			payment_method, payment_status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21
		)`,
		string(o.ID), string(o.UserID), toStringPtr(o.PartnerID),
		string(o.Status), o.StatusVersion, lines,
		o.Subtotal.Amount, o.Tax.Amount, o.DeliveryCharge.Amount, o.Total.Amount,
		o.Total.Currency, o.OTP,
		o.Address.Street, o.Address.City, o.Address.State, o.Address.Zip, lat, lng,
		string(o.PaymentMethod), string(o.PaymentStatus), o.CreatedAt,
	)
	return err
}

const orderColumns = `
	id, user_id, partner_id, status, status_version, lines,
	subtotal, tax, delivery_charge, total, currency, otp,
	street, city, state, zip, address_lat, address_lng,
	payment_method, payment_status,
	current_lat, current_lng, current_at,
	feedback_rating, feedback_tip, feedback_comment, feedback_at,
	created_at, delivered_at, cancelled_at`

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

func (s *PGStore) ListByUser(ctx context.Context, userID types.ID) ([]Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, string(userID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, partnerID *types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    partner_id = COALESCE($2, partner_id),
		    delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to), toStringPtr(partnerID), string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UnbindPartner(ctx context.Context, id types.ID, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'accepted',
		    status_version = status_version + 1,
		    partner_id = NULL
		WHERE id = $1 AND status = 'assigned' AND status_version = $2`,
		string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CompletePayment(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE orders SET payment_status = 'completed' WHERE id = $1`, string(id))
	return err
}

func (s *PGStore) SetFeedback(ctx context.Context, id types.ID, fb Feedback) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET feedback_rating = $1, feedback_tip = $2, feedback_comment = $3, feedback_at = $4
		WHERE id = $5 AND feedback_rating IS NULL`,
		fb.Rating, fb.Tip.Amount, fb.Comment, fb.CreatedAt, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendLocation(ctx context.Context, id types.ID, pt LocationPoint) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_locations (order_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(id), pt.Position.Lat, pt.Position.Lng, pt.RecordedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET current_lat = $1, current_lng = $2, current_at = $3
		WHERE id = $4`,
		pt.Position.Lat, pt.Position.Lng, pt.RecordedAt, string(id),
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) LocationHistory(ctx context.Context, id types.ID) ([]LocationPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, recorded_at FROM order_locations
		WHERE order_id = $1
		ORDER BY recorded_at, id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationPoint
	for rows.Next() {
		var pt LocationPoint
		if err := rows.Scan(&pt.Position.Lat, &pt.Position.Lng, &pt.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *PGStore) ListDeliveredByPartner(ctx context.Context, partnerID types.ID) ([]Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE partner_id = $1 AND status = 'delivered'
		ORDER BY delivered_at`, string(partnerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), toStringPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var partnerID, feedbackComment *string
	var lines []byte
	var addrLat, addrLng, curLat, curLng *float64
	var curAt, feedbackAt, deliveredAt, cancelledAt *time.Time
	var feedbackRating *int
	var feedbackTip *int64
	var currency string

	err := row.Scan(
		&o.ID, &o.UserID, &partnerID, &o.Status, &o.StatusVersion, &lines,
		&o.Subtotal.Amount, &o.Tax.Amount, &o.DeliveryCharge.Amount, &o.Total.Amount,
		&currency, &o.OTP,
		&o.Address.Street, &o.Address.City, &o.Address.State, &o.Address.Zip,
		&addrLat, &addrLng,
		&o.PaymentMethod, &o.PaymentStatus,
		&curLat, &curLng, &curAt,
		&feedbackRating, &feedbackTip, &feedbackComment, &feedbackAt,
		&o.CreatedAt, &deliveredAt, &cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, err
	}
	for _, m := range []*types.Money{&o.Subtotal, &o.Tax, &o.DeliveryCharge, &o.Total} {
		m.Currency = currency
	}
	if partnerID != nil {
		id := types.ID(*partnerID)
		o.PartnerID = &id
	}
	if addrLat != nil && addrLng != nil {
		o.Address.Location = &types.Point{Lat: *addrLat, Lng: *addrLng}
	}
	if curLat != nil && curLng != nil && curAt != nil {
		o.CurrentLocation = &LocationPoint{
			Position:   types.Point{Lat: *curLat, Lng: *curLng},
			RecordedAt: *curAt,
		}
	}
	if feedbackRating != nil {
		fb := Feedback{
			Rating:    *feedbackRating,
			Tip:       types.Money{Currency: currency},
			CreatedAt: timeOrZero(feedbackAt),
		}
		if feedbackTip != nil {
			fb.Tip.Amount = *feedbackTip
		}
		if feedbackComment != nil {
			fb.Comment = *feedbackComment
		}
		o.Feedback = &fb
	}
	o.DeliveredAt = deliveredAt
	o.CancelledAt = cancelledAt
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
