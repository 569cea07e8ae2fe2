package publish

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"correlator/internal/domain"
	"correlator/internal/queue/memory"
)

func newPublisher() (*QueuePublisher, *memory.Queue) {
	q := memory.NewQueue(16)
	return NewQueuePublisher(q, slog.New(slog.NewTextHandler(io.Discard, nil))), q
}

func TestPublishIncident(t *testing.T) {
	p, q := newPublisher()
	ce := domain.NewCorrEvent(11, 2, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	ce.ID = 7
	ce.ImpactedHLS = []string{"shop"}

	err := p.PublishIncident(context.Background(), &Incident{
		CorrEvent: ce,
		Cause:     &domain.Event{ID: 11, CurrentState: domain.StateDown},
		Item:      &domain.SupItem{Host: "router"},
		Members:   []int64{11, 12},
		Change:    ChangeNew,
	})
	if err != nil {
		t.Fatalf("PublishIncident error: %v", err)
	}

	msgs := q.Drain()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if string(msgs[0].Key) != "7" || msgs[0].Headers["kind"] != KindIncident {
		t.Errorf("key = %q, headers = %v", msgs[0].Key, msgs[0].Headers)
	}
	if msgs[0].Headers["message_id"] == "" {
		t.Error("message_id header missing")
	}

	var got IncidentPayload
	if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.ID != 7 || got.Change != ChangeNew || got.State != domain.StateDown || got.Host != "router" {
		t.Errorf("payload = %+v", got)
	}
	if !slices.Equal(got.Members, []int64{11, 12}) {
		t.Errorf("members = %v", got.Members)
	}
}

func TestPublishDeltaAndRemoved(t *testing.T) {
	p, q := newPublisher()
	ctx := context.Background()

	if err := p.PublishDelta(ctx, []int64{3}, nil, []int64{1}); err != nil {
		t.Fatalf("PublishDelta error: %v", err)
	}
	if err := p.PublishRemoved(ctx, []int64{2}); err != nil {
		t.Fatalf("PublishRemoved error: %v", err)
	}

	msgs := q.Drain()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}

	var delta DeltaPayload
	if err := json.Unmarshal(msgs[0].Value, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Kind != KindDelta || !slices.Equal(delta.Added, []int64{3}) || delta.Removed == nil {
		t.Errorf("delta = %+v", delta)
	}

	var removed RemovedPayload
	if err := json.Unmarshal(msgs[1].Value, &removed); err != nil {
		t.Fatal(err)
	}
	if removed.Kind != KindRemoved || !slices.Equal(removed.Incidents, []int64{2}) {
		t.Errorf("removed = %+v", removed)
	}
}

func TestPublishRaw(t *testing.T) {
	p, q := newPublisher()
	if err := p.PublishRaw(context.Background(), []byte(`{"x":1}`)); err != nil {
		t.Fatalf("PublishRaw error: %v", err)
	}
	msgs := q.Drain()
	if len(msgs) != 1 || string(msgs[0].Value) != `{"x":1}` || msgs[0].Headers["kind"] != KindRule {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestPublish_ClosedQueue(t *testing.T) {
	p, q := newPublisher()
	_ = q.Close()
	if err := p.PublishRemoved(context.Background(), []int64{1}); err == nil {
		t.Error("PublishRemoved should fail on a closed queue")
	}
}
