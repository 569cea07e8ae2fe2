// Package nats provides a JetStream implementation of queue.Producer.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"correlator/internal/config"
	"correlator/internal/queue"
)

const streamMaxAge = 24 * time.Hour

// keyHeader carries queue.Message.Key, which JetStream has no slot for.
const keyHeader = "Correlator-Key"

// Producer implements queue.Producer by publishing to a JetStream subject.
type Producer struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewProducer connects to NATS and ensures the output stream exists when
// AllowCreateBuckets is set.
func NewProducer(cfg *config.NATSConfig) (*Producer, error) {
	nc, err := nats.Connect(cfg.ServerURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to init jetstream: %w", err)
	}

	if cfg.AllowCreateBuckets {
		if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &Producer{nc: nc, js: js, subject: cfg.Subject}, nil
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("failed to get stream %q: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    streamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %q: %w", name, err)
	}
	return nil
}

// newMsg converts a queue message into a NATS message on subject.
func newMsg(subject string, msg *queue.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Value
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if len(msg.Key) > 0 {
		m.Header.Set(keyHeader, string(msg.Key))
	}
	if id := msg.Header(queue.HeaderMessageID); id != "" {
		m.Header.Set(nats.MsgIdHdr, id)
	}
	return m
}

// Publish sends a message to the stream subject.
func (p *Producer) Publish(ctx context.Context, msg *queue.Message) error {
	if _, err := p.js.PublishMsg(newMsg(p.subject, msg), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *Producer) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
