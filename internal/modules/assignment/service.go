// README: Delivery assignment: eligible-partner lookup ordered by proximity,
// and the atomic-intent bind of an order to a partner.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mesa/internal/config"
	"mesa/internal/modules/order"
	"mesa/internal/modules/partner"
	"mesa/internal/types"
)

// OrderBinder is the slice of the order store the bind step needs.
type OrderBinder interface {
	UpdateStatus(ctx context.Context, id types.ID, from, to order.Status, version int, partnerID *types.ID) (bool, error)
	UnbindPartner(ctx context.Context, id types.ID, version int) (bool, error)
}

type Service struct {
	orders   OrderBinder
	partners partner.Directory
	cfg      config.AssignmentConfig
}

func NewService(orders OrderBinder, partners partner.Directory, cfg config.AssignmentConfig) *Service {
	return &Service{orders: orders, partners: partners, cfg: cfg}
}

// Candidate is an eligible partner with its distance from the delivery
// address, when known.
type Candidate struct {
	Partner    partner.Partner `json:"partner"`
	DistanceKm *float64        `json:"distance_km,omitempty"`
}

// FindEligible returns active, available partners. With an origin the result
// is ordered by ascending distance, intersecting the Redis GEO index with the
// directory's eligibility flags; without one, directory insertion order is
// kept.
func (s *Service) FindEligible(ctx context.Context, origin *types.Point) ([]Candidate, error) {
	eligible, err := s.partners.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", order.ErrUnavailable, err)
	}
	if origin == nil {
		out := make([]Candidate, len(eligible))
		for i, p := range eligible {
			out[i] = Candidate{Partner: p}
		}
		return out, nil
	}

	// The GEO index may lag the directory; it narrows and orders the set, but
	// eligibility always comes from the directory rows.
	nearby, err := s.partners.Nearby(ctx, *origin, s.cfg.RadiusKm)
	if err != nil {
		slog.Warn("geo search failed, falling back to directory order", "error", err)
		nearby = nil
	}
	rank := make(map[types.ID]int, len(nearby))
	for i, id := range nearby {
		rank[id] = i
	}

	out := make([]Candidate, 0, len(eligible))
	for _, p := range eligible {
		c := Candidate{Partner: p}
		if p.Location != nil {
			d := distanceKm(origin.Lat, origin.Lng, p.Location.Lat, p.Location.Lng)
			c.DistanceKm = &d
		}
		if nearby != nil {
			if _, ok := rank[p.ID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	sortByDistance(out, func(c Candidate) float64 {
		if c.DistanceKm == nil {
			return earthRadiusKm * 10 // unknown positions sort last
		}
		return *c.DistanceKm
	})
	return out, nil
}

// Bind sets order.PartnerID together with the partner's availability flag.
// The order row moves first; if claiming the partner fails, the order move is
// compensated so neither side is left half-applied.
func (s *Service) Bind(ctx context.Context, o *order.Order, partnerID types.ID) error {
	p, err := s.partners.Get(ctx, partnerID)
	if errors.Is(err, partner.ErrNotFound) {
		return fmt.Errorf("%w: %s", order.ErrPartnerUnavailable, partnerID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrUnavailable, err)
	}
	if !p.Eligible() {
		return fmt.Errorf("%w: %s is %s (available=%t)", order.ErrPartnerUnavailable, p.ID, p.Status, p.Available)
	}

	ok, err := s.orders.UpdateStatus(ctx, o.ID, o.Status, order.StatusAssigned, o.StatusVersion, &partnerID)
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: order changed concurrently", order.ErrInvalidTransition)
	}

	claimed, err := s.partners.Claim(ctx, partnerID)
	if err != nil || !claimed {
		// Compensate: the order row moved but the partner could not be
		// claimed; put the order back before reporting failure.
		if _, revertErr := s.orders.UnbindPartner(ctx, o.ID, o.StatusVersion+1); revertErr != nil {
			slog.Error("bind compensation failed; order left assigned without claimed partner",
				"order_id", o.ID, "partner_id", partnerID, "error", revertErr)
		}
		if err != nil {
			return fmt.Errorf("%w: claim: %v", order.ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %s was claimed concurrently", order.ErrPartnerUnavailable, partnerID)
	}
	return nil
}
