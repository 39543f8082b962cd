package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-gateway/internal/reliability"
	"github.com/glimte/mmate-gateway/routing"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange used for topic destinations
const DefaultExchange = "communication_exchange"

// Publisher sends gateway payloads to queues and topics
type Publisher struct {
	channel        *Channel
	exchange       string
	confirmTimeout time.Duration
	publishTimeout time.Duration
	persistent     bool
	breaker        *reliability.CircuitBreaker
	logger         *slog.Logger
	now            func() time.Time
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithExchange sets the exchange for topic destinations
func WithExchange(exchange string) PublisherOption {
	return func(p *Publisher) {
		p.exchange = exchange
	}
}

// WithConfirmTimeout sets how long to wait for a broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout bounds a publish when ctx has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPersistentDelivery marks messages persistent
func WithPersistentDelivery(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.persistent = enabled
	}
}

// WithCircuitBreaker guards broker writes with cb
func WithCircuitBreaker(cb *reliability.CircuitBreaker) PublisherOption {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher
func NewPublisher(channel *Channel, options ...PublisherOption) *Publisher {
	p := &Publisher{
		channel:        channel,
		exchange:       DefaultExchange,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		logger:         slog.Default(),
		now:            time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Exchange returns the exchange used for topic destinations
func (p *Publisher) Exchange() string {
	return p.exchange
}

// Route maps a destination to an exchange and routing key. Queues are
// addressed through the default exchange.
func (p *Publisher) Route(destination routing.Destination) (exchange, routingKey string, err error) {
	switch destination.Kind {
	case routing.Queue:
		return "", destination.Name, nil
	case routing.Topic:
		return p.exchange, destination.Name, nil
	default:
		return "", "", ErrUnknownDestination
	}
}

// Publish sends payload to destination. Without confirm mode it returns
// once the frame is written; with it, once the broker acks.
func (p *Publisher) Publish(ctx context.Context, destination routing.Destination, payload []byte) error {
	exchange, routingKey, err := p.Route(destination)
	if err != nil {
		return p.publishError(exchange, destination.Name, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.New().String(),
		Timestamp:   p.now().UTC(),
		Body:        payload,
	}
	if p.persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	var confirmed bool
	send := func() error {
		ack, err := p.channel.Publish(ctx, exchange, routingKey, msg)
		if err != nil || ack == nil {
			return err
		}
		confirmed = true
		return p.waitForConfirm(ctx, ack)
	}

	if p.breaker != nil {
		err = p.breaker.Execute(ctx, send)
	} else {
		err = send()
	}
	if err != nil {
		if reliability.IsRejection(err) {
			p.logger.Warn("publish blocked by open circuit",
				"exchange", exchange,
				"routingKey", routingKey)
		}
		return p.publishError(exchange, routingKey, err)
	}

	p.logger.Debug("message published",
		"exchange", exchange,
		"routingKey", routingKey,
		"messageId", msg.MessageId,
		"confirmed", confirmed)
	return nil
}

func (p *Publisher) waitForConfirm(ctx context.Context, ack <-chan bool) error {
	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case ok, open := <-ack:
		if !open {
			return ErrChannelClosed
		}
		if !ok {
			return ErrPublishNacked
		}
		return nil
	case <-timer.C:
		return ErrPublishNotConfirmed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) publishError(exchange, routingKey string, err error) error {
	return &PublishError{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Confirmed:  p.channel != nil && p.channel.ConfirmMode(),
		Err:        err,
		Timestamp:  time.Now(),
	}
}
