package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/identifier"
)

const defaultCheckoutAttempts = 3

// Notifier is told about committed order events. Implementations must not
// block the caller and must not fail the operation that triggered them.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	PaymentConfirmed(ctx context.Context, o *Order, change StatusChange)
	StatusChanged(ctx context.Context, o *Order, change StatusChange)
}

type Service interface {
	CreateOrder(ctx context.Context, draft *Draft) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrderByTrackingToken(ctx context.Context, token string) (*Order, error)
	ChangeStatus(ctx context.Context, orderNumber string, to Status, actor Actor, reason string) (StatusChange, error)
	ApplyPaymentStatus(ctx context.Context, orderNumber string, to Status, reason string) (StatusChange, error)
	StatusHistory(ctx context.Context, orderNumber string) ([]StatusChange, error)
}

type service struct {
	orderRepo        Repository
	policy           TransitionPolicy
	notifier         Notifier
	audit            AuditSink
	checkoutAttempts int
}

type ServiceOption func(*service)

func WithPolicy(policy TransitionPolicy) ServiceOption {
	return func(s *service) {
		if policy != nil {
			s.policy = policy
		}
	}
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithAuditSink(a AuditSink) ServiceOption {
	return func(s *service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithCheckoutAttempts bounds how many sequence values a checkout may burn on
// tracking token collisions.
func WithCheckoutAttempts(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.checkoutAttempts = n
		}
	}
}

func NewService(orderRepo Repository, opts ...ServiceOption) Service {
	s := &service{
		orderRepo:        orderRepo,
		policy:           PermissivePolicy,
		notifier:         nopNotifier{},
		audit:            nopAuditSink{},
		checkoutAttempts: defaultCheckoutAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, draft *Draft) (*Order, error) {
	if err := ValidateDraft(draft); err != nil {
		log.Warn().Err(err).Msg("service: rejected checkout")
		return nil, err
	}

	status := InitialStatus(draft.PaymentMethod)

	var (
		created *Order
		err     error
	)
	for attempt := 1; attempt <= s.checkoutAttempts; attempt++ {
		created, err = s.orderRepo.CreateOrder(ctx, draft, status)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTrackingTokenCollision) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("service: tracking token collision, retrying with next sequence value")
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation), errors.Is(err, ErrUnresolvedReference):
			log.Warn().Err(err).Msg("service: checkout rejected by repository")
			return nil, err
		case errors.Is(err, ErrTrackingTokenCollision):
			log.Error().Err(err).Int("attempts", s.checkoutAttempts).Msg("service: tracking token collisions exhausted checkout attempts")
			return nil, fmt.Errorf("service: failed to create order: %w: %w", ErrPersistence, err)
		}
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	compareClaimedTotals(draft, created)

	log.Info().
		Str("order_number", created.OrderNumber).
		Stringer("status", created.Status).
		Str("total", created.Total.StringFixed(2)).
		Msg("service: order created successfully")

	s.notifier.OrderCreated(ctx, created)

	return created, nil
}

func compareClaimedTotals(draft *Draft, o *Order) {
	if draft.ClaimedSubtotal != nil && !draft.ClaimedSubtotal.Equal(o.Subtotal) {
		log.Warn().
			Str("order_number", o.OrderNumber).
			Str("claimed_subtotal", draft.ClaimedSubtotal.StringFixed(2)).
			Str("subtotal", o.Subtotal.StringFixed(2)).
			Msg("service: storefront subtotal differs from catalog prices")
	}
	if draft.ClaimedTotal != nil && !draft.ClaimedTotal.Equal(o.Total) {
		log.Warn().
			Str("order_number", o.OrderNumber).
			Str("claimed_total", draft.ClaimedTotal.StringFixed(2)).
			Str("total", o.Total.StringFixed(2)).
			Msg("service: storefront total differs from computed total")
	}
}

// ValidateDraft checks everything that can be checked before the catalog is
// consulted.
func ValidateDraft(draft *Draft) error {
	if draft == nil {
		return fmt.Errorf("%w: empty checkout", ErrValidation)
	}

	var problems []string
	if len(draft.Items) == 0 {
		problems = append(problems, "order must contain at least one item")
	}
	for i, item := range draft.Items {
		if strings.TrimSpace(item.ProductCode) == "" {
			problems = append(problems, fmt.Sprintf("item %d: product code is required", i))
		}
		if item.Quantity < 1 {
			problems = append(problems, fmt.Sprintf("item %d: quantity must be at least 1", i))
		}
		for _, code := range item.OptionCodes {
			if strings.TrimSpace(code) == "" {
				problems = append(problems, fmt.Sprintf("item %d: option code cannot be empty", i))
				break
			}
		}
	}
	if !draft.PaymentMethod.Valid() {
		problems = append(problems, fmt.Sprintf("unknown payment method %q", draft.PaymentMethod))
	}
	if draft.Customer.FirstName == "" || draft.Customer.LastName == "" || draft.Customer.Phone == "" {
		problems = append(problems, "customer name and phone are required")
	}
	if draft.Recipient != nil && (draft.Recipient.FirstName == "" || draft.Recipient.LastName == "" || draft.Recipient.Phone == "") {
		problems = append(problems, "recipient name and phone are required when a recipient is given")
	}
	if draft.Delivery.Method == "" {
		problems = append(problems, "delivery method is required")
	}
	if draft.Discount.IsNegative() {
		problems = append(problems, "discount cannot be negative")
	}
	if draft.DeliveryCost.IsNegative() {
		problems = append(problems, "delivery cost cannot be negative")
	}
	if !WholeCents(draft.Discount) {
		problems = append(problems, "discount cannot have fractions of a cent")
	}
	if !WholeCents(draft.DeliveryCost) {
		problems = append(problems, "delivery cost cannot have fractions of a cent")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (s *service) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.orderRepo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Str("order_number", orderNumber).Msg("service: order not found by number")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to fetch order by number in repository")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

// GetOrderByTrackingToken treats a malformed token the same as an unknown one
// so the endpoint does not reveal the token format.
func (s *service) GetOrderByTrackingToken(ctx context.Context, token string) (*Order, error) {
	if !identifier.ValidToken(token) {
		log.Warn().Msg("service: malformed tracking token")
		return nil, ErrOrderNotFound
	}

	o, err := s.orderRepo.GetOrderByTrackingToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Msg("service: order not found by tracking token")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Msg("service: failed to fetch order by tracking token in repository")
		return nil, fmt.Errorf("service: failed to fetch order by tracking token: %w", err)
	}
	return o, nil
}

func (s *service) ChangeStatus(ctx context.Context, orderNumber string, to Status, actor Actor, reason string) (StatusChange, error) {
	if !to.Valid() {
		log.Warn().Str("order_number", orderNumber).Stringer("new_status", to).Msg("service: unknown status requested")
		return StatusChange{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	change, err := s.updateStatus(ctx, orderNumber, to, actor, reason)
	if err != nil || !change.Changed() {
		return change, err
	}

	if o, ok := s.loadForNotification(ctx, orderNumber); ok {
		s.notifier.StatusChanged(ctx, o, change)
	}
	return change, nil
}

// ApplyPaymentStatus records a verified gateway outcome. Repeated callbacks
// for an already applied status change nothing and send nothing.
func (s *service) ApplyPaymentStatus(ctx context.Context, orderNumber string, to Status, reason string) (StatusChange, error) {
	change, err := s.updateStatus(ctx, orderNumber, to, GatewayActor(), reason)
	if err != nil || !change.Changed() {
		return change, err
	}

	if o, ok := s.loadForNotification(ctx, orderNumber); ok {
		if change.To == StatusPaid {
			s.notifier.PaymentConfirmed(ctx, o, change)
		} else {
			s.notifier.StatusChanged(ctx, o, change)
		}
	}
	return change, nil
}

func (s *service) updateStatus(ctx context.Context, orderNumber string, to Status, actor Actor, reason string) (StatusChange, error) {
	change, err := s.orderRepo.UpdateOrderStatus(ctx, orderNumber, to, actor, reason, s.policy)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			log.Warn().Err(err).Str("order_number", orderNumber).Stringer("new_status", to).Msg("service: order not found, cannot update status")
			return StatusChange{}, ErrOrderNotFound
		case errors.Is(err, ErrInvalidStatusTransition):
			log.Warn().Err(err).Str("order_number", orderNumber).Stringer("new_status", to).Str("actor", actor.Name).Msg("service: invalid status transition attempt")
			return StatusChange{}, err
		}
		log.Error().Err(err).Str("order_number", orderNumber).Stringer("new_status", to).Msg("service: failed to update order status in repository")
		return StatusChange{}, fmt.Errorf("service: failed to update order status: %w", err)
	}

	if !change.Changed() {
		log.Info().Str("order_number", orderNumber).Stringer("status", to).Msg("service: order status is already the same, no update needed")
		return change, nil
	}

	s.audit.Record(ctx, change)
	log.Info().
		Str("order_number", orderNumber).
		Stringer("old_status", change.From).
		Stringer("new_status", change.To).
		Str("source", string(change.Source)).
		Msg("service: order status updated successfully")
	return change, nil
}

func (s *service) loadForNotification(ctx context.Context, orderNumber string) (*Order, bool) {
	o, err := s.orderRepo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to load order for notification")
		return nil, false
	}
	return o, true
}

func (s *service) StatusHistory(ctx context.Context, orderNumber string) ([]StatusChange, error) {
	changes, err := s.orderRepo.ListStatusChanges(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to list status changes in repository")
		return nil, fmt.Errorf("service: failed to list status changes: %w", err)
	}
	return changes, nil
}

type nopNotifier struct{}

func (nopNotifier) OrderCreated(context.Context, *Order) {}

func (nopNotifier) PaymentConfirmed(context.Context, *Order, StatusChange) {}

func (nopNotifier) StatusChanged(context.Context, *Order, StatusChange) {}
