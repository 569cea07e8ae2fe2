package domain

import (
	"errors"
	"time"
)

// ErrEventNotFound is returned when a raw event cannot be found.
var ErrEventNotFound = errors.New("event not found")

// ErrSupItemNotFound is returned when a supervised item cannot be found.
var ErrSupItemNotFound = errors.New("supervised item not found")

// SupItem is a supervised item: a host, or a service on a host.
type SupItem struct {
	ID      int64  `json:"id"`
	Host    string `json:"host"`
	Service string `json:"service,omitempty"`
}

// Name returns "host" or "host/service".
func (s *SupItem) Name() string {
	return ItemName(s.Host, s.Service)
}

// ItemName formats a supervised item reference.
func ItemName(host, service string) string {
	if service == "" {
		return host
	}
	return host + "/" + service
}

// Event is one raw state observation about a supervised item.
// A row is reused while the item keeps reporting; a new row is only
// created once the previous one is closed out.
type Event struct {
	ID           int64     `json:"id"`
	SupItemID    int64     `json:"supitem_id"`
	CurrentState State     `json:"current_state"`
	InitialState State     `json:"initial_state"`
	PeakState    State     `json:"peak_state"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent creates a raw event from a first observation.
func NewEvent(supItemID int64, msg *Message) *Event {
	return &Event{
		SupItemID:    supItemID,
		CurrentState: msg.State,
		InitialState: msg.State,
		PeakState:    msg.State,
		Message:      msg.Message,
		Timestamp:    msg.Timestamp,
	}
}

// Observe applies a newer observation to the event.
func (e *Event) Observe(msg *Message) {
	e.CurrentState = msg.State
	e.PeakState = e.PeakState.MoreSevere(msg.State)
	e.Message = msg.Message
	e.Timestamp = msg.Timestamp
}

// IsResolved returns true if the current state ends the outage.
func (e *Event) IsResolved() bool {
	return e.CurrentState.IsResolved()
}
