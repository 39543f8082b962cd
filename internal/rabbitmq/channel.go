package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the part of *amqp.Channel the gateway uses
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	IsClosed() bool
	Close() error
}

// ChannelOpener opens a channel on the current connection
type ChannelOpener interface {
	OpenChannel() (AMQPChannel, error)
}

// ChannelOpenerFunc is a function adapter for ChannelOpener
type ChannelOpenerFunc func() (AMQPChannel, error)

// OpenChannel implements ChannelOpener
func (f ChannelOpenerFunc) OpenChannel() (AMQPChannel, error) {
	return f()
}

// Channel owns the single long-lived AMQP channel of the process. It is
// reopened when the connection comes back and is never rotated per
// request. In confirm mode it matches broker acks to publishes by
// delivery tag.
type Channel struct {
	opener  ChannelOpener
	confirm bool
	logger  *slog.Logger

	mu      sync.Mutex
	ch      AMQPChannel
	nextTag uint64
	pending map[uint64]chan bool
	opened  time.Time
}

// ChannelOption configures the channel
type ChannelOption func(*Channel)

// WithConfirms puts the channel in publisher-confirm mode
func WithConfirms(enabled bool) ChannelOption {
	return func(c *Channel) {
		c.confirm = enabled
	}
}

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates a channel holder. Call Open to open the channel.
func NewChannel(opener ChannelOpener, options ...ChannelOption) *Channel {
	c := &Channel{
		opener:  opener,
		logger:  slog.Default(),
		pending: make(map[uint64]chan bool),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Open opens the channel if it is not open yet
func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked()
}

func (c *Channel) openLocked() error {
	if c.ch != nil && !c.ch.IsClosed() {
		return nil
	}
	c.ch = nil
	c.failPendingLocked()

	ch, err := c.opener.OpenChannel()
	if err != nil {
		return &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}

	if c.confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return &ChannelError{Op: "enable confirms", Err: err, Timestamp: time.Now()}
		}
		confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 64))
		go c.trackConfirms(ch, confirms)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchClose(ch, closed)

	c.ch = ch
	c.nextTag = 0
	c.opened = time.Now()
	c.logger.Info("channel opened", "confirm", c.confirm)
	return nil
}

// IsOpen reports whether the channel can publish
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && !c.ch.IsClosed()
}

// ConfirmMode reports whether publishes wait for broker confirms
func (c *Channel) ConfirmMode() bool {
	return c.confirm
}

// Publish sends msg. In confirm mode the returned channel yields the
// broker's ack (true) or nack (false) and is closed without a value if
// the channel dies first. Outside confirm mode it is nil.
func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (<-chan bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil || c.ch.IsClosed() {
		if err := c.openLocked(); err != nil {
			return nil, err
		}
	}

	var ack chan bool
	if c.confirm {
		ack = make(chan bool, 1)
		c.nextTag++
		c.pending[c.nextTag] = ack
	}

	if err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		if c.confirm {
			delete(c.pending, c.nextTag)
			c.nextTag--
		}
		return nil, err
	}

	return ack, nil
}

// Do runs fn with the open channel. Calls are serialized with Publish.
func (c *Channel) Do(fn func(ch AMQPChannel) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(); err != nil {
		return err
	}
	return fn(c.ch)
}

// Close closes the channel
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil
	}
	ch := c.ch
	c.ch = nil
	c.failPendingLocked()
	if ch.IsClosed() {
		return nil
	}
	return ch.Close()
}

// OnConnected reopens the channel on the new connection
func (c *Channel) OnConnected() {
	if err := c.Open(); err != nil {
		c.logger.Error("failed to reopen channel after reconnect", "error", err)
	}
}

// OnDisconnected drops the dead channel
func (c *Channel) OnDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = nil
	c.failPendingLocked()
	c.logger.Warn("channel lost", "error", err)
}

// OnReconnecting implements ConnectionStateListener
func (c *Channel) OnReconnecting(attempt int) {}

func (c *Channel) trackConfirms(ch AMQPChannel, confirms <-chan amqp.Confirmation) {
	for confirm := range confirms {
		c.mu.Lock()
		if c.ch != ch {
			c.mu.Unlock()
			continue
		}
		if ack, ok := c.pending[confirm.DeliveryTag]; ok {
			ack <- confirm.Ack
			delete(c.pending, confirm.DeliveryTag)
		}
		c.mu.Unlock()
	}
}

func (c *Channel) watchClose(ch AMQPChannel, closed <-chan *amqp.Error) {
	err, ok := <-closed
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != ch {
		return
	}
	c.ch = nil
	c.failPendingLocked()
	if ok && err != nil {
		c.logger.Warn("channel closed by broker", "error", err)
	}
}

func (c *Channel) failPendingLocked() {
	for tag, ack := range c.pending {
		close(ack)
		delete(c.pending, tag)
	}
}
