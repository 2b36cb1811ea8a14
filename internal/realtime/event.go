// README: Canonical realtime event names and payload shape. One scheme for
// every subscriber; no per-screen variants.
package realtime

import (
	"time"

	"mesa/internal/modules/order"
	"mesa/internal/types"
)

type EventName string

const (
	EventStatusChanged   EventName = "status_changed"
	EventLocationUpdated EventName = "location_updated"
)

type Event struct {
	Event    EventName    `json:"event"`
	OrderID  types.ID     `json:"order_id"`
	Status   order.Status `json:"status,omitempty"`
	Location *types.Point `json:"location,omitempty"`
	At       time.Time    `json:"at"`
}
