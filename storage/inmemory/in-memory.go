package inmemory

import (
	"context"
	"sync"

	"github.com/and161185/racknerd-exporter/model"
	"github.com/and161185/racknerd-exporter/storage"
)

// MemStorage keeps the latest snapshot in memory. Snapshots are never modified after
// Save, so readers share them without copying.
type MemStorage struct {
	mu     sync.RWMutex
	latest model.Snapshot
	saved  bool
	saves  int
}

func NewMemStorage(ctx context.Context) *MemStorage {
	return &MemStorage{}
}

func (store *MemStorage) Save(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	store.latest = snap
	store.saved = true
	store.saves++
	return nil
}

func (store *MemStorage) Latest(ctx context.Context) (model.Snapshot, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if !store.saved {
		return model.Snapshot{}, storage.ErrNoSnapshot
	}
	return store.latest, nil
}

// Saves returns how many snapshots were stored.
func (store *MemStorage) Saves() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.saves
}
