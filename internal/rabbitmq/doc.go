// Package rabbitmq connects the gateway to RabbitMQ.
//
// This package includes:
//   - ConnectionManager: dials the broker and reconnects with backoff
//   - Channel: the single long-lived channel, reopened after a reconnect
//   - Publisher: sends payloads to queues and topics, optionally waiting for confirms
//   - TopologyManager: declares the topic exchange and, on request, the queues
//
// Queue destinations are published through the default exchange with the
// queue name as routing key. Topic destinations go to the configured topic
// exchange with the topic as routing key.
package rabbitmq
