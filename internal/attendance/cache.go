package attendance

import (
	"context"
	"sync"
)

// studentCache memoizes id lookups for the lifetime of one report.
type studentCache struct {
	store StudentStore
	mu    sync.Mutex
	byID  map[string]*Student
}

func newStudentCache(store StudentStore) *studentCache {
	return &studentCache{store: store, byID: make(map[string]*Student)}
}

func (c *studentCache) get(ctx context.Context, id string) (*Student, error) {
	c.mu.Lock()
	st, ok := c.byID[id]
	c.mu.Unlock()
	if ok {
		return st, nil
	}
	st, err := c.store.StudentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byID[id] = st
	c.mu.Unlock()
	return st, nil
}
