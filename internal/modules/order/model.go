// README: Order aggregate, status definitions, and the transition table.
package order

import (
	"time"

	"mesa/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPlaced     Status = "placed"
	StatusAccepted   Status = "accepted"
	StatusAssigned   Status = "assigned"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Line is one priced order item; unit price is captured from the catalog at
// placement and never re-read.
type Line struct {
	ItemID    types.ID    `json:"item_id"`
	Name      string      `json:"name"`
	UnitPrice types.Money `json:"unit_price"`
	Quantity  int         `json:"quantity"`
}

type Address struct {
	Street   string       `json:"street"`
	City     string       `json:"city"`
	State    string       `json:"state"`
	Zip      string       `json:"zip"`
	Location *types.Point `json:"location,omitempty"`
}

func (a Address) Complete() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.Zip != ""
}

type Feedback struct {
	Rating    int         `json:"rating"`
	Tip       types.Money `json:"tip"`
	Comment   string      `json:"comment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// LocationPoint is one append-only entry of the delivery trace.
type LocationPoint struct {
	Position   types.Point `json:"position"`
	RecordedAt time.Time   `json:"recorded_at"`
}

type Order struct {
	ID            types.ID  `json:"id"`
	UserID        types.ID  `json:"user_id"`
	PartnerID     *types.ID `json:"partner_id,omitempty"`
	Lines         []Line    `json:"lines"`
	Status        Status    `json:"status"`
	StatusVersion int       `json:"-"`

	Subtotal       types.Money `json:"subtotal"`
	Tax            types.Money `json:"tax"`
	DeliveryCharge types.Money `json:"delivery_charge"`
	Total          types.Money `json:"total"`

	// OTP is the hand-off secret; it is never serialized wholesale, handlers
	// decide per caller role whether to reveal it.
	OTP string `json:"-"`

	Address       Address       `json:"address"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	CurrentLocation *LocationPoint `json:"current_location,omitempty"`
	Feedback        *Feedback      `json:"feedback,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Event journals one applied transition.
type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  types.Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
// Every transition is guarded by current-status equality; nothing skips a state.
var AllowedTransitions = map[Status][]Status{
	StatusPlaced:     {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusDelivering},
	StatusDelivering: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
