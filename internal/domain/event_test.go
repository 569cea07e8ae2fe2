package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMessage_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "valid host event",
			msg:     Message{Type: MessageTypeEvent, Host: "web-1", State: StateDown, Timestamp: now},
			wantErr: nil,
		},
		{
			name:    "valid service event",
			msg:     Message{Type: MessageTypeEvent, Host: "web-1", Service: "http", State: StateCritical, Timestamp: now},
			wantErr: nil,
		},
		{
			name:    "invalid type",
			msg:     Message{Type: "alarm", Host: "web-1", State: StateDown, Timestamp: now},
			wantErr: ErrInvalidType,
		},
		{
			name:    "missing host",
			msg:     Message{Type: MessageTypeEvent, State: StateDown, Timestamp: now},
			wantErr: ErrEmptyHost,
		},
		{
			name:    "invalid state",
			msg:     Message{Type: MessageTypeEvent, Host: "web-1", State: State(42), Timestamp: now},
			wantErr: ErrInvalidState,
		},
		{
			name:    "missing timestamp",
			msg:     Message{Type: MessageTypeEvent, Host: "web-1", State: StateDown},
			wantErr: ErrMissingTimestamp,
		},
		{
			name:    "ticket needs no host",
			msg:     Message{Type: MessageTypeTicket, Ticket: "T-1"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestState_JSON(t *testing.T) {
	var msg Message
	payload := `{"type":"event","host":"h","state":"unreachable","timestamp":"2024-01-02T03:04:05Z"}`
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if msg.State != StateUnreachable {
		t.Errorf("State = %v, want UNREACHABLE", msg.State)
	}

	out, err := json.Marshal(msg.State)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(out) != `"UNREACHABLE"` {
		t.Errorf("Marshal = %s, want \"UNREACHABLE\"", out)
	}

	if err := json.Unmarshal([]byte(`"SIDEWAYS"`), &msg.State); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Unmarshal unknown state error = %v, want ErrInvalidState", err)
	}
}

func TestState_IsResolved(t *testing.T) {
	for _, s := range []State{StateOK, StateUp} {
		if !s.IsResolved() {
			t.Errorf("%v should be resolved", s)
		}
	}
	for _, s := range []State{StateUnknown, StateWarning, StateUnreachable, StateCritical, StateDown} {
		if s.IsResolved() {
			t.Errorf("%v should not be resolved", s)
		}
	}
}

func TestEvent_Observe(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	event := NewEvent(7, &Message{State: StateWarning, Message: "slow", Timestamp: t0})

	event.Observe(&Message{State: StateCritical, Message: "down", Timestamp: t0.Add(time.Minute)})
	event.Observe(&Message{State: StateOK, Message: "fine", Timestamp: t0.Add(2 * time.Minute)})

	if event.InitialState != StateWarning {
		t.Errorf("InitialState = %v, want WARNING", event.InitialState)
	}
	if event.PeakState != StateCritical {
		t.Errorf("PeakState = %v, want CRITICAL", event.PeakState)
	}
	if event.CurrentState != StateOK {
		t.Errorf("CurrentState = %v, want OK", event.CurrentState)
	}
	if !event.IsResolved() {
		t.Error("event should be resolved")
	}
	if event.Message != "fine" {
		t.Errorf("Message = %q, want fine", event.Message)
	}
}

func TestItemName(t *testing.T) {
	if got := ItemName("h1", ""); got != "h1" {
		t.Errorf("ItemName(h1) = %q", got)
	}
	if got := ItemName("h1", "http"); got != "h1/http" {
		t.Errorf("ItemName(h1, http) = %q", got)
	}
}
