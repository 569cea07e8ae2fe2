package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrEventNotFound is returned when a correlated event cannot be found.
var ErrCorrEventNotFound = errors.New("correlated event not found")

// ErrInvalidAckTransition is returned for acknowledgement changes the lifecycle forbids.
var ErrInvalidAckTransition = errors.New("invalid acknowledgement transition")

// AckState is the acknowledgement lifecycle of a correlated event.
type AckState string

const (
	// AckNone means nobody has looked at the incident yet.
	AckNone AckState = "NONE"
	// AckKnown means an operator has acknowledged the incident.
	AckKnown AckState = "KNOWN"
	// AckClosed means the incident was closed by an operator.
	AckClosed AckState = "CLOSED"
)

var ackRank = map[AckState]int{
	AckNone:   0,
	AckKnown:  1,
	AckClosed: 2,
}

// ParseAckState converts a name (case-insensitive) into an AckState.
func ParseAckState(name string) (AckState, error) {
	s := AckState(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := ackRank[s]; !ok {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidAckTransition, name)
	}
	return s, nil
}

// CanMoveTo reports whether an operator may move from s to next.
// Operators only move forward; CLOSED -> NONE happens through reactivation.
func (s AckState) CanMoveTo(next AckState) bool {
	from, ok := ackRank[s]
	if !ok {
		return false
	}
	to, ok := ackRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CorrEvent is a correlated event: an aggregate of raw events under one cause.
type CorrEvent struct {
	ID int64 `json:"id"`

	// CauseID is the raw event at the root of the aggregate.
	CauseID int64 `json:"cause_id"`

	// Priority is policy defined; lower usually means more severe.
	Priority int `json:"priority"`

	// Occurrence counts the observations folded into this incident.
	Occurrence int `json:"occurrence"`

	Ack AckState `json:"ack"`

	// Timestamp is the "active since" mark, used as the ordering guard.
	Timestamp time.Time `json:"timestamp_active"`

	TroubleTicket string `json:"trouble_ticket,omitempty"`

	// ImpactedHLS holds the names of the high-level services impacted by the cause.
	ImpactedHLS []string `json:"impacted_hls,omitempty"`
}

// NewCorrEvent creates a fresh incident rooted at the given raw event.
func NewCorrEvent(causeID int64, priority int, active time.Time) *CorrEvent {
	return &CorrEvent{
		CauseID:    causeID,
		Priority:   priority,
		Occurrence: 1,
		Ack:        AckNone,
		Timestamp:  active,
	}
}

// IsStale reports whether an observation made at ts predates the incident.
func (c *CorrEvent) IsStale(ts time.Time) bool {
	return c.Timestamp.After(ts)
}

// Reactivate forces a closed incident back to NONE after a new outage.
func (c *CorrEvent) Reactivate(ts time.Time) {
	c.Ack = AckNone
	c.Timestamp = ts
}

// CorrEventFilter provides filtering options for listing correlated events.
type CorrEventFilter struct {
	Ack    AckState
	Limit  int
	Offset int
}

// History is one audit-trail record attached to a raw event.
type History struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Text      string    `json:"text"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// History types.
const (
	HistoryAckChange    = "ACKNOWLEDGEMENT_CHANGE_STATE"
	HistoryTicketChange = "TICKET_CHANGE"
)
