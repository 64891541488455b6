package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

const defaultTimeout = 10 * time.Second

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher only logs events. It is used when no broker is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log.Info().
		Str("routing_key", ev.RoutingKey()).
		Str("order_number", ev.Order()).
		Msg("notification: broker not configured, event logged only")
	return nil
}

// Notifier sends order events in the background. Dispatch runs on a context
// detached from the request so a finished HTTP response does not cancel it.
type Notifier struct {
	dispatcher Dispatcher
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewNotifier(dispatcher Dispatcher, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{dispatcher: dispatcher, timeout: timeout}
}

func (n *Notifier) OrderCreated(ctx context.Context, o *order.Order) {
	n.send(ctx, NewOrderCreatedAdmin(o))
	if o.Customer.Email != "" {
		n.send(ctx, NewOrderCreatedCustomer(o))
	}
}

func (n *Notifier) PaymentConfirmed(ctx context.Context, o *order.Order, change order.StatusChange) {
	n.send(ctx, NewPaymentConfirmed(o, change))
}

func (n *Notifier) StatusChanged(ctx context.Context, o *order.Order, change order.StatusChange) {
	n.send(ctx, NewOrderStatusChanged(o, change))
}

// Wait blocks until every dispatch started so far has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(ctx context.Context, ev Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Str("routing_key", ev.RoutingKey()).
					Str("order_number", ev.Order()).
					Str("panic_value", fmt.Sprint(p)).
					Msg("notification: dispatcher panicked")
			}
		}()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.dispatcher.Dispatch(dctx, ev); err != nil {
			log.Error().Err(err).
				Str("routing_key", ev.RoutingKey()).
				Str("order_number", ev.Order()).
				Msg("notification: failed to dispatch event")
		}
	}()
}
