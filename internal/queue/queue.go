// Package queue is the message bus between the ingest API, the correlation
// coordinator and downstream incident consumers. Kafka, NATS JetStream and
// an in-process channel implement it.
package queue

import (
	"context"
	"maps"
)

// Header names shared by producers and consumers.
const (
	// HeaderType is the inbound message type ("event", "ticket", ...).
	HeaderType = "type"
	// HeaderHost and HeaderService name the supervised item of an inbound message.
	HeaderHost    = "host"
	HeaderService = "service"
	// HeaderKind is the payload kind of an outbound message (incident, delta, removed, rule).
	HeaderKind = "kind"
	// HeaderMessageID deduplicates outbound messages on brokers that support it.
	HeaderMessageID = "message_id"
)

// Message is one unit on the bus.
type Message struct {
	// Key keeps related messages in order: the host partition key for
	// inbound messages, the incident id for outbound ones.
	Key []byte

	// Value is the JSON payload.
	Value []byte

	Headers map[string]string
}

// Header returns a header value, "" when absent.
func (m *Message) Header(name string) string {
	return m.Headers[name]
}

// WithHeader returns a copy of m carrying one more header. The original
// is left untouched, so a message may be re-queued while still being read.
func (m *Message) WithHeader(name, value string) *Message {
	headers := make(map[string]string, len(m.Headers)+1)
	maps.Copy(headers, m.Headers)
	headers[name] = value
	return &Message{Key: m.Key, Value: m.Value, Headers: headers}
}

// Producer publishes messages. Implementations must be safe for concurrent use.
type Producer interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// MessageHandler processes one consumed message.
// A handler error wrapping retry.ErrTransient asks for redelivery; any
// other error is logged and the message is not processed again.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer feeds messages to a handler until ctx is done or Close is called.
type Consumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}
