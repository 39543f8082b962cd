package rabbitmq

import (
	"context"
	"time"

	"github.com/glimte/mmate-gateway/routing"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Verifier checks that destinations exist on the broker without declaring
// them. The broker closes a channel whose passive declare fails, so each
// check runs on its own short-lived channel and never on the publishing
// one.
type Verifier struct {
	opener   ChannelOpener
	exchange string
}

// NewVerifier creates a verifier. Topic destinations are checked against
// exchange.
func NewVerifier(opener ChannelOpener, exchange string) *Verifier {
	return &Verifier{opener: opener, exchange: exchange}
}

// Verify returns nil when destination can receive messages: its queue
// exists, or for topics the exchange exists.
func (v *Verifier) Verify(ctx context.Context, destination routing.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := v.opener.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	component, name := "queue", destination.Name
	switch destination.Kind {
	case routing.Queue:
		_, err = ch.QueueDeclarePassive(destination.Name, true, false, false, false, nil)
	case routing.Topic:
		component, name = "exchange", v.exchange
		err = ch.ExchangeDeclarePassive(v.exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	default:
		return ErrUnknownDestination
	}

	if err != nil {
		return &TopologyError{
			Component: component,
			Name:      name,
			Op:        "verify",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
