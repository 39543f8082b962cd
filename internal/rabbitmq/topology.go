package rabbitmq

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-gateway/routing"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Topology represents the exchanges and queues the gateway relies on
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
}

// GatewayTopology returns a durable topic exchange and, when
// declareQueues is set, a durable queue for every queue destination of
// table.
func GatewayTopology(exchange string, table *routing.Table, declareQueues bool) Topology {
	topology := Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: exchange, Type: amqp.ExchangeTopic, Durable: true},
		},
	}

	if declareQueues && table != nil {
		for _, dest := range table.Destinations() {
			if dest.Kind == routing.Queue {
				topology.Queues = append(topology.Queues, QueueDeclaration{Name: dest.Name, Durable: true})
			}
		}
	}

	return topology
}

// TopologyManager declares topology on the shared channel
type TopologyManager struct {
	channel *Channel
	logger  *slog.Logger
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(channel *Channel, logger *slog.Logger) *TopologyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopologyManager{channel: channel, logger: logger}
}

// DeclareTopology declares every exchange then every queue. Declarations
// are idempotent on the broker.
func (tm *TopologyManager) DeclareTopology(topology Topology) error {
	return tm.channel.Do(func(ch AMQPChannel) error {
		for _, exchange := range topology.Exchanges {
			if err := tm.declareExchange(ch, exchange); err != nil {
				return err
			}
		}
		for _, queue := range topology.Queues {
			if err := tm.declareQueue(ch, queue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (tm *TopologyManager) declareExchange(ch AMQPChannel, exchange ExchangeDeclaration) error {
	if exchange.Name == "" {
		return &TopologyError{
			Component: "exchange",
			Op:        "declare",
			Err:       fmt.Errorf("%w: empty exchange name", ErrInvalidConfiguration),
			Timestamp: time.Now(),
		}
	}

	err := ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      exchange.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	tm.logger.Info("exchange declared", "exchange", exchange.Name, "type", exchange.Type)
	return nil
}

func (tm *TopologyManager) declareQueue(ch AMQPChannel, queue QueueDeclaration) error {
	_, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      queue.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	tm.logger.Info("queue declared", "queue", queue.Name)
	return nil
}
