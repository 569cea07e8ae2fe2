// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"

	"correlator/internal/domain"
)

// SupItemRepository is an in-memory implementation of store.SupItemRepository.
type SupItemRepository struct {
	mu     sync.RWMutex
	nextID int64

	// items stores all items by ID
	items map[int64]*domain.SupItem

	// byName provides lookup by "host/service"
	byName map[string]*domain.SupItem
}

// NewSupItemRepository creates a new in-memory supervised item repository.
func NewSupItemRepository() *SupItemRepository {
	return &SupItemRepository{
		items:  make(map[int64]*domain.SupItem),
		byName: make(map[string]*domain.SupItem),
	}
}

// Resolve returns the item for (host, service), creating it if needed.
func (r *SupItemRepository) Resolve(ctx context.Context, host, service string) (*domain.SupItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := domain.ItemName(host, service)
	if item, exists := r.byName[name]; exists {
		result := *item
		return &result, nil
	}

	r.nextID++
	item := &domain.SupItem{ID: r.nextID, Host: host, Service: service}
	r.items[item.ID] = item
	r.byName[name] = item

	result := *item
	return &result, nil
}

// Find returns the item for (host, service).
func (r *SupItemRepository) Find(ctx context.Context, host, service string) (*domain.SupItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.byName[domain.ItemName(host, service)]
	if !exists {
		return nil, domain.ErrSupItemNotFound
	}
	result := *item
	return &result, nil
}

// GetByID retrieves an item by its ID.
func (r *SupItemRepository) GetByID(ctx context.Context, id int64) (*domain.SupItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, domain.ErrSupItemNotFound
	}
	result := *item
	return &result, nil
}
