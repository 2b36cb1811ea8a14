// README: Delivery partner aggregate and derived performance stats.
package partner

import (
	"time"

	"mesa/internal/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Stats are derived values, recomputed as a whole from delivery history.
// They are never incremented in place.
type Stats struct {
	RatingAvg        float64       `json:"rating_avg"`
	RatingCount      int           `json:"rating_count"`
	TipTotal         types.Money   `json:"tip_total"`
	DeliveryEarnings types.Money   `json:"delivery_earnings"`
	TotalDeliveries  int           `json:"total_deliveries"`
	CompletionRate   float64       `json:"completion_rate"`
	OnTimeRate       float64       `json:"on_time_rate"`
	AvgDeliveryTime  time.Duration `json:"avg_delivery_time"`
}

type Partner struct {
	ID         types.ID     `json:"id"`
	Name       string       `json:"name"`
	Phone      string       `json:"phone"`
	Status     Status       `json:"status"`
	Available  bool         `json:"available"`
	Location   *types.Point `json:"location,omitempty"`
	LocationAt *time.Time   `json:"location_at,omitempty"`
	Stats      Stats        `json:"stats"`
}

// Eligible reports whether the partner can be offered a new order.
func (p *Partner) Eligible() bool {
	return p.Status == StatusActive && p.Available
}
