package card

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Card
}

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Card)}
}

func (r *memoryRepository) Get(_ context.Context, id string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.storage[id]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return c.Clone(), nil
}

func (r *memoryRepository) Save(_ context.Context, c Card) (Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.storage[c.ID]
	switch {
	case c.Version == 0 && exists:
		return Card{}, ErrVersionConflict
	case c.Version != 0 && (!exists || current.Version != c.Version):
		return Card{}, ErrVersionConflict
	}
	c.Version++
	r.storage[c.ID] = c.Clone()
	return c, nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[id]; !ok {
		return ErrCardNotFound
	}
	delete(r.storage, id)
	return nil
}

func (r *memoryRepository) List(_ context.Context) ([]Card, error) {
	return r.filter(func(Card) bool { return true }), nil
}

func (r *memoryRepository) ListByCustomer(_ context.Context, customerID string) ([]Card, error) {
	return r.filter(func(c Card) bool { return c.CustomerID == customerID }), nil
}

func (r *memoryRepository) filter(keep func(Card) bool) []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Card
	for _, c := range r.storage {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
