package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher is the subset of *amqp.Channel the dispatcher uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Envelope wraps every event published to the exchange.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Event     `json:"payload"`
}

type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       Publisher
	reopen   func() (Publisher, error)
	exchange string
	now      func() time.Time
	mu       sync.Mutex
}

type AMQPOption func(*AMQPDispatcher)

// WithReopen sets how a closed channel is replaced. It is called with the
// dispatcher lock held.
func WithReopen(reopen func() (Publisher, error)) AMQPOption {
	return func(d *AMQPDispatcher) {
		d.reopen = reopen
	}
}

// DialAMQP connects to the broker and declares a durable topic exchange. A
// channel closed by the broker is reopened on the next dispatch, redialing
// when the connection is gone too.
func DialAMQP(url, exchange string) (*AMQPDispatcher, error) {
	d := NewAMQPDispatcher(nil, exchange)
	d.reopen = func() (Publisher, error) {
		return d.openChannel(url)
	}

	ch, err := d.openChannel(url)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.ch = ch

	log.Info().Str("exchange", exchange).Msg("notification: connected to broker")
	return d, nil
}

func (d *AMQPDispatcher) openChannel(url string) (*amqp.Channel, error) {
	if d.conn == nil || d.conn.IsClosed() {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("notification: failed to connect to broker: %w", err)
		}
		d.conn = conn
	}

	ch, err := d.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notification: failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(d.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("notification: failed to declare exchange %s: %w", d.exchange, err)
	}
	return ch, nil
}

func NewAMQPDispatcher(ch Publisher, exchange string, opts ...AMQPOption) *AMQPDispatcher {
	d := &AMQPDispatcher{
		ch:       ch,
		exchange: exchange,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, ev Event) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("notification: failed to generate message id: %w", err)
	}
	now := d.now()

	body, err := json.Marshal(Envelope{
		ID:         id.String(),
		Type:       ev.RoutingKey(),
		OccurredAt: now,
		Payload:    ev,
	})
	if err != nil {
		return fmt.Errorf("notification: failed to encode %s: %w", ev.RoutingKey(), err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id.String(),
		Timestamp:    now,
		Type:         ev.RoutingKey(),
		Body:         body,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.ch.PublishWithContext(ctx, d.exchange, ev.RoutingKey(), false, false, msg)
	if err != nil && d.reopen != nil && d.channelClosed(err) {
		log.Warn().Err(err).Str("routing_key", ev.RoutingKey()).Msg("notification: channel closed, reopening")
		ch, reopenErr := d.reopen()
		if reopenErr != nil {
			return fmt.Errorf("notification: failed to publish %s for order %s: %w: %w", ev.RoutingKey(), ev.Order(), err, reopenErr)
		}
		d.closeChannel()
		d.ch = ch
		err = d.ch.PublishWithContext(ctx, d.exchange, ev.RoutingKey(), false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("notification: failed to publish %s for order %s: %w", ev.RoutingKey(), ev.Order(), err)
	}

	log.Debug().
		Str("routing_key", ev.RoutingKey()).
		Str("order_number", ev.Order()).
		Str("message_id", id.String()).
		Msg("notification: event published")
	return nil
}

// channelClosed reports whether err means the current channel is unusable.
// Broker-side closes surface as *amqp.Error values that are not ErrClosed
// itself, so the channel state is checked as well.
func (d *AMQPDispatcher) channelClosed(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	ch, ok := d.ch.(*amqp.Channel)
	return ok && ch != nil && ch.IsClosed()
}

func (d *AMQPDispatcher) closeChannel() {
	if ch, ok := d.ch.(*amqp.Channel); ok && ch != nil {
		_ = ch.Close()
	}
}

func (d *AMQPDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeChannel()
	if d.conn != nil {
		_ = d.conn.Close()
	}
}
