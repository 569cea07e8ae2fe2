package memory

import (
	"context"
	"sync"

	"correlator/internal/domain"
)

// HistoryRepository is an in-memory implementation of store.HistoryRepository.
type HistoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	records []*domain.History
}

// NewHistoryRepository creates a new in-memory history repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Append stores a new history record and sets its ID.
func (r *HistoryRepository) Append(ctx context.Context, h *domain.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	h.ID = r.nextID
	hCopy := *h
	r.records = append(r.records, &hCopy)
	return nil
}

// ListForEvent returns the history of a raw event, oldest first.
func (r *HistoryRepository) ListForEvent(ctx context.Context, eventID int64) ([]*domain.History, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.History
	for _, h := range r.records {
		if h.EventID == eventID {
			hCopy := *h
			results = append(results, &hCopy)
		}
	}
	return results, nil
}
