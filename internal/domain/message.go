// Package domain contains the core entities of the event correlator:
// inbound messages, raw events, correlated events and their acknowledgement lifecycle.
package domain

import (
	"errors"
	"time"
)

// MessageType identifies what an inbound message carries.
type MessageType string

const (
	// MessageTypeEvent is a state observation about a supervised item.
	MessageTypeEvent MessageType = "event"
	// MessageTypeTicket links a trouble ticket to an incident.
	MessageTypeTicket MessageType = "ticket"
	// MessageTypeComputationOrder asks for a state recomputation of high-level services.
	MessageTypeComputationOrder MessageType = "computation-order"
)

// IsValid returns true if the message type is supported.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeEvent, MessageTypeTicket, MessageTypeComputationOrder:
		return true
	}
	return false
}

// Message is an inbound message as received from the monitoring bus or the HTTP API.
type Message struct {
	// Type drives the processing path; only "event" reaches the correlation core.
	Type MessageType `json:"type"`

	// Host is the name of the supervised host.
	Host string `json:"host"`

	// Service is the name of the supervised service. Empty for host-level observations.
	Service string `json:"service,omitempty"`

	// State is the observed state.
	State State `json:"state"`

	// Message is the free-text output of the check.
	Message string `json:"message"`

	// Timestamp is when the observation was made.
	Timestamp time.Time `json:"timestamp"`

	// Ticket carries the ticket id for "ticket" messages.
	Ticket string `json:"ticket,omitempty"`
}

// Validation errors for Message.
var (
	ErrInvalidType      = errors.New("type must be 'event', 'ticket' or 'computation-order'")
	ErrEmptyHost        = errors.New("host is required")
	ErrInvalidState     = errors.New("invalid state")
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// Validate checks that the message carries what its type needs.
func (m *Message) Validate() error {
	if !m.Type.IsValid() {
		return ErrInvalidType
	}
	if m.Type != MessageTypeEvent {
		return nil
	}
	if m.Host == "" {
		return ErrEmptyHost
	}
	if !m.State.IsValid() {
		return ErrInvalidState
	}
	if m.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// InternalMessage is the enriched message published to the input queue.
type InternalMessage struct {
	Message

	// PartitionKey keeps every message of one host on the same partition.
	PartitionKey string `json:"partition_key"`

	// ReceivedAt is when the message was accepted by the ingest service.
	ReceivedAt time.Time `json:"received_at"`
}
