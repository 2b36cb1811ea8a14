// README: Order lifecycle service. Each transition is a read, a guard, and a
// versioned conditional write; side channels (notify, stream, broadcast) are
// fire-and-forget and never fail a transition.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mesa/internal/catalog"
	"mesa/internal/config"
	"mesa/internal/modules/otp"
	"mesa/internal/modules/partner"
	"mesa/internal/types"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPartnerUnavailable = errors.New("partner unavailable")
	ErrOtpMismatch       = errors.New("otp mismatch")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrUnavailable       = errors.New("dependency unavailable")
)

// CatalogResolver resolves a menu item at placement time.
type CatalogResolver interface {
	Resolve(ctx context.Context, id types.ID) (catalog.Item, error)
}

// OTPSource produces hand-off codes.
type OTPSource interface {
	Generate() (string, error)
}

// Assigner binds a partner to an accepted order, flipping availability
// together with the order row (compensating on partial failure).
type Assigner interface {
	Bind(ctx context.Context, o *Order, partnerID types.ID) error
}

// StatsRecomputer refreshes a partner's derived aggregates.
type StatsRecomputer interface {
	Recompute(ctx context.Context, partnerID types.ID) error
}

// Notifier is the outbound SMS/email channel. Failures are logged, never
// escalated.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Notification struct {
	Kind      string
	Order     *Order
	PartnerID *types.ID
}

const (
	NotifyOrderPlaced    = "order_placed"
	NotifyOrderAccepted  = "order_accepted"
	NotifyOrderAssigned  = "order_assigned"
	NotifyDeliveryStart  = "delivery_started"
	NotifyOrderDelivered = "order_delivered"
	NotifyOrderCancelled = "order_cancelled"
)

// StreamPublisher mirrors lifecycle events onto the analytics topic.
type StreamPublisher interface {
	Publish(ctx context.Context, e StreamEvent) error
}

type StreamEvent struct {
	OrderID   types.ID   `json:"order_id"`
	From      Status     `json:"from"`
	To        Status     `json:"to"`
	ActorRole types.Role `json:"actor_role"`
	At        time.Time  `json:"at"`
}

// Broadcaster fans transitions and locations out to live subscribers.
type Broadcaster interface {
	StatusChanged(o *Order, actorRole types.Role)
	LocationUpdated(o *Order, pt LocationPoint)
}

// Geocoder resolves a street address to coordinates; optional.
type Geocoder interface {
	Geocode(ctx context.Context, a Address) (*types.Point, error)
}

type ServiceDeps struct {
	Store    Store
	Catalog  CatalogResolver
	Partners partner.Directory
	Assigner Assigner
	Stats    StatsRecomputer
	OTP      OTPSource
	Notifier Notifier
	Stream   StreamPublisher
	Broadcast Broadcaster
	Geocoder Geocoder
	Pricing  config.PricingConfig
}

type Service struct {
	store     Store
	catalog   CatalogResolver
	partners  partner.Directory
	assigner  Assigner
	stats     StatsRecomputer
	otp       OTPSource
	notifier  Notifier
	stream    StreamPublisher
	broadcast Broadcaster
	geocoder  Geocoder
	pricing   config.PricingConfig
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		store:     deps.Store,
		catalog:   deps.Catalog,
		partners:  deps.Partners,
		assigner:  deps.Assigner,
		stats:     deps.Stats,
		otp:       deps.OTP,
		notifier:  deps.Notifier,
		stream:    deps.Stream,
		broadcast: deps.Broadcast,
		geocoder:  deps.Geocoder,
		pricing:   deps.Pricing,
	}
}

type ItemRequest struct {
	ItemID   types.ID
	Quantity int
}

type PlaceCommand struct {
	Items         []ItemRequest
	Address       Address
	PaymentMethod PaymentMethod
}

func (s *Service) Place(ctx context.Context, actor types.Actor, cmd PlaceCommand) (*Order, error) {
	if actor.Role != types.RoleUser {
		return nil, fmt.Errorf("%w: only users place orders", ErrNotAuthorized)
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrValidation)
	}
	if !cmd.Address.Complete() {
		return nil, fmt.Errorf("%w: incomplete delivery address", ErrValidation)
	}
	if cmd.PaymentMethod != PaymentCash && cmd.PaymentMethod != PaymentOnline {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, cmd.PaymentMethod)
	}

	currency := s.pricing.Currency
	subtotal := types.Money{Currency: currency}
	lines := make([]Line, 0, len(cmd.Items))
	for _, req := range cmd.Items {
		if req.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}
		item, err := s.catalog.Resolve(ctx, req.ItemID)
		if errors.Is(err, catalog.ErrItemNotFound) {
			return nil, fmt.Errorf("%w: unknown menu item %s", ErrValidation, req.ItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: catalog: %v", ErrUnavailable, err)
		}
		lines = append(lines, Line{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  req.Quantity,
		})
		subtotal.Amount += item.Price.Amount * int64(req.Quantity)
	}

	tax := subtotal.Percent(s.pricing.TaxPercent)
	deliveryCharge := types.Money{Amount: s.pricing.DeliveryCharge, Currency: currency}
	total := subtotal.Add(tax).Add(deliveryCharge)

	addr := cmd.Address
	if addr.Location == nil && s.geocoder != nil {
		// Geocoding enriches the live map; its failure never blocks placement.
		if pos, err := s.geocoder.Geocode(ctx, addr); err != nil {
			slog.Warn("geocode failed", "error", err)
		} else {
			addr.Location = pos
		}
	}

	code, err := s.otp.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: otp: %v", ErrUnavailable, err)
	}

	now := time.Now()
	o := &Order{
		ID:             types.ID(uuid.NewString()),
		UserID:         actor.ID,
		Lines:          lines,
		Status:         StatusPlaced,
		StatusVersion:  0,
		Subtotal:       subtotal,
		Tax:            tax,
		DeliveryCharge: deliveryCharge,
		Total:          total,
		OTP:            code,
		Address:        addr,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentStatus:  PaymentPending,
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.journal(ctx, o.ID, StatusNone, StatusPlaced, actor)
	s.notify(ctx, Notification{Kind: NotifyOrderPlaced, Order: o})
	s.emit(ctx, o.ID, StatusNone, StatusPlaced, actor.Role)
	if s.broadcast != nil {
		s.broadcast.StatusChanged(o, actor.Role)
	}
	return o, nil
}

func (s *Service) Accept(ctx context.Context, actor types.Actor, orderID types.ID) (*Order, error) {
	if actor.Role != types.RoleAdmin {
		return nil, fmt.Errorf("%w: admin capability required", ErrNotAuthorized)
	}
	return s.transition(ctx, actor, orderID, StatusAccepted, nil, NotifyOrderAccepted)
}

type AssignCommand struct {
	OrderID   types.ID
	PartnerID types.ID
}

func (s *Service) Assign(ctx context.Context, actor types.Actor, cmd AssignCommand) (*Order, error) {
	if actor.Role != types.RoleAdmin {
		return nil, fmt.Errorf("%w: admin capability required", ErrNotAuthorized)
	}
	o, err := s.get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusAssigned) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusAssigned)
	}
	if err := s.assigner.Bind(ctx, o, cmd.PartnerID); err != nil {
		return nil, err
	}
	s.journal(ctx, o.ID, o.Status, StatusAssigned, actor)
	updated, err := s.get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notification{Kind: NotifyOrderAssigned, Order: updated, PartnerID: updated.PartnerID})
	s.emit(ctx, o.ID, o.Status, StatusAssigned, actor.Role)
	if s.broadcast != nil {
		s.broadcast.StatusChanged(updated, actor.Role)
	}
	return updated, nil
}

func (s *Service) StartDelivering(ctx context.Context, actor types.Actor, orderID types.ID) (*Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireBoundPartner(o, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, orderID, StatusDelivering, nil, NotifyDeliveryStart)
}

type ConfirmCommand struct {
	OrderID types.ID
	OTP     string
}

func (s *Service) ConfirmDelivered(ctx context.Context, actor types.Actor, cmd ConfirmCommand) (*Order, error) {
	o, err := s.get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := requireBoundPartner(o, actor); err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusDelivered) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusDelivered)
	}
	if o.PaymentStatus != PaymentCompleted && o.PaymentMethod != PaymentCash {
		return nil, fmt.Errorf("%w: online payment not completed", ErrInvalidTransition)
	}
	if !otp.Verify(o.OTP, cmd.OTP) {
		return nil, ErrOtpMismatch
	}

	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusDelivered, o.StatusVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
	}
	if o.PaymentMethod == PaymentCash && o.PaymentStatus != PaymentCompleted {
		if err := s.store.CompletePayment(ctx, o.ID); err != nil {
			slog.Warn("cash payment auto-complete failed", "order_id", o.ID, "error", err)
		}
	}
	s.journal(ctx, o.ID, o.Status, StatusDelivered, actor)

	partnerID := *o.PartnerID
	if err := s.partners.Release(ctx, partnerID); err != nil {
		slog.Warn("partner release failed", "partner_id", partnerID, "error", err)
	}
	if s.stats != nil {
		if err := s.stats.Recompute(ctx, partnerID); err != nil {
			slog.Warn("stats recompute failed", "partner_id", partnerID, "error", err)
		}
	}

	updated, err := s.get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notification{Kind: NotifyOrderDelivered, Order: updated, PartnerID: &partnerID})
	s.emit(ctx, o.ID, o.Status, StatusDelivered, actor.Role)
	if s.broadcast != nil {
		s.broadcast.StatusChanged(updated, actor.Role)
	}
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, actor types.Actor, orderID types.ID) (*Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case types.RoleAdmin:
	case types.RoleUser:
		if o.UserID != actor.ID {
			return nil, fmt.Errorf("%w: not the order owner", ErrNotAuthorized)
		}
	default:
		return nil, fmt.Errorf("%w: role %s cannot cancel", ErrNotAuthorized, actor.Role)
	}
	return s.transition(ctx, actor, orderID, StatusCancelled, nil, NotifyOrderCancelled)
}

type FeedbackCommand struct {
	OrderID types.ID
	Rating  int
	Tip     int64
	Comment string
}

func (s *Service) SubmitFeedback(ctx context.Context, actor types.Actor, cmd FeedbackCommand) (*Order, error) {
	o, err := s.get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != types.RoleUser || o.UserID != actor.ID {
		return nil, fmt.Errorf("%w: only the order owner may leave feedback", ErrNotAuthorized)
	}
	if o.Status != StatusDelivered {
		return nil, fmt.Errorf("%w: feedback requires a delivered order", ErrInvalidTransition)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be within 1..5", ErrValidation)
	}
	if cmd.Tip < 0 {
		return nil, fmt.Errorf("%w: tip must not be negative", ErrValidation)
	}

	fb := Feedback{
		Rating:    cmd.Rating,
		Tip:       types.Money{Amount: cmd.Tip, Currency: s.pricing.Currency},
		Comment:   cmd.Comment,
		CreatedAt: time.Now(),
	}
	ok, err := s.store.SetFeedback(ctx, o.ID, fb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: feedback already submitted", ErrInvalidTransition)
	}
	if s.stats != nil && o.PartnerID != nil {
		if err := s.stats.Recompute(ctx, *o.PartnerID); err != nil {
			slog.Warn("stats recompute failed", "partner_id", *o.PartnerID, "error", err)
		}
	}
	return s.get(ctx, cmd.OrderID)
}

// RecordLocation durably appends a delivery location sample. The sample is
// stored whatever the order status; it is only fanned out while delivering,
// since no customer view is authoritative outside that state.
func (s *Service) RecordLocation(ctx context.Context, actor types.Actor, orderID types.ID, pos types.Point) error {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := requireBoundPartner(o, actor); err != nil {
		return err
	}
	pt := LocationPoint{Position: pos, RecordedAt: time.Now()}
	if err := s.store.AppendLocation(ctx, o.ID, pt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.partners.UpdateLocation(ctx, actor.ID, pos, pt.RecordedAt); err != nil {
		slog.Warn("partner location update failed", "partner_id", actor.ID, "error", err)
	}
	if o.Status != StatusDelivering {
		return nil
	}
	o.CurrentLocation = &pt
	if s.broadcast != nil {
		s.broadcast.LocationUpdated(o, pt)
	}
	return nil
}

// Get returns an order to its owner, an admin, or the bound partner.
func (s *Service) Get(ctx context.Context, actor types.Actor, orderID types.ID) (*Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case types.RoleAdmin:
	case types.RoleUser:
		if o.UserID != actor.ID {
			return nil, fmt.Errorf("%w: not the order owner", ErrNotAuthorized)
		}
	case types.RoleDelivery:
		if o.PartnerID == nil || *o.PartnerID != actor.ID {
			return nil, fmt.Errorf("%w: order not assigned to caller", ErrNotAuthorized)
		}
	default:
		return nil, ErrNotAuthorized
	}
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, actor types.Actor) ([]Order, error) {
	if actor.Role != types.RoleUser {
		return nil, fmt.Errorf("%w: user role required", ErrNotAuthorized)
	}
	orders, err := s.store.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return orders, nil
}

func (s *Service) LocationHistory(ctx context.Context, actor types.Actor, orderID types.ID) ([]LocationPoint, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	pts, err := s.store.LocationHistory(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pts, nil
}

// transition applies a guarded single-step move and runs the side channels.
func (s *Service) transition(ctx context.Context, actor types.Actor, orderID types.ID, to Status, partnerID *types.ID, notifyKind string) (*Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, to, o.StatusVersion, partnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
	}
	s.journal(ctx, o.ID, o.Status, to, actor)
	updated, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notification{Kind: notifyKind, Order: updated, PartnerID: updated.PartnerID})
	s.emit(ctx, o.ID, o.Status, to, actor.Role)
	if s.broadcast != nil {
		s.broadcast.StatusChanged(updated, actor.Role)
	}
	return updated, nil
}

func (s *Service) get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return o, nil
}

func (s *Service) journal(ctx context.Context, orderID types.ID, from, to Status, actor types.Actor) {
	actorID := actor.ID
	err := s.store.AppendEvent(ctx, &Event{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ActorRole:  actor.Role,
		ActorID:    &actorID,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		slog.Warn("event journal append failed", "order_id", orderID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("notification failed", "kind", n.Kind, "order_id", n.Order.ID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, orderID types.ID, from, to Status, role types.Role) {
	if s.stream == nil {
		return
	}
	e := StreamEvent{OrderID: orderID, From: from, To: to, ActorRole: role, At: time.Now()}
	if err := s.stream.Publish(ctx, e); err != nil {
		slog.Warn("stream publish failed", "order_id", orderID, "error", err)
	}
}

func requireBoundPartner(o *Order, actor types.Actor) error {
	if actor.Role != types.RoleDelivery {
		return fmt.Errorf("%w: delivery role required", ErrNotAuthorized)
	}
	if o.PartnerID == nil || *o.PartnerID != actor.ID {
		return fmt.Errorf("%w: order not assigned to caller", ErrNotAuthorized)
	}
	return nil
}
