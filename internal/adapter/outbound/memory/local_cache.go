// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
)

// DefaultScopedCapacity bounds the number of role-scoped entries kept.
const DefaultScopedCapacity = 1024

// LocalCache implements outbound.LocalCache in memory.
// Thread-safe for concurrent access. Scoped entries are evicted least
// recently used first once capacity is reached.
type LocalCache struct {
	mu     sync.RWMutex
	record *session.Record
	scoped *lru.Cache[outbound.ScopedKey, []byte]
}

// NewLocalCache creates an empty cache holding at most capacity scoped
// entries. A non-positive capacity uses DefaultScopedCapacity.
func NewLocalCache(capacity int) (*LocalCache, error) {
	if capacity <= 0 {
		capacity = DefaultScopedCapacity
	}
	scoped, err := lru.New[outbound.ScopedKey, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &LocalCache{scoped: scoped}, nil
}

// SaveSession stores a copy of rec.
func (c *LocalCache) SaveSession(_ context.Context, rec session.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = copyRecord(&rec)
	return nil
}

// LoadSession returns a copy of the stored record, or nil.
func (c *LocalCache) LoadSession(context.Context) (*session.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return nil, nil
	}
	return copyRecord(c.record), nil
}

// ClearSession removes the stored record.
func (c *LocalCache) ClearSession(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = nil
	return nil
}

// PutScoped stores a copy of value.
func (c *LocalCache) PutScoped(_ context.Context, key outbound.ScopedKey, value []byte) error {
	c.scoped.Add(key, slices.Clone(value))
	return nil
}

// GetScoped returns a copy of the value under key.
func (c *LocalCache) GetScoped(_ context.Context, key outbound.ScopedKey) ([]byte, error) {
	v, ok := c.scoped.Get(key)
	if !ok {
		return nil, outbound.ErrScopedNotFound
	}
	return slices.Clone(v), nil
}

// ListScoped lists keys for subjectID, optionally filtered by role, sorted.
func (c *LocalCache) ListScoped(_ context.Context, subjectID string, r role.AccountRole) ([]outbound.ScopedKey, error) {
	var out []outbound.ScopedKey
	for _, k := range c.scoped.Keys() {
		if k.SubjectID == subjectID && (r == "" || k.Role == r) {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b outbound.ScopedKey) int {
		if a.Role != b.Role {
			if a.Role < b.Role {
				return -1
			}
			return 1
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// ClearAll removes everything.
func (c *LocalCache) ClearAll(context.Context) error {
	c.mu.Lock()
	c.record = nil
	c.mu.Unlock()
	c.scoped.Purge()
	return nil
}

// Ping always succeeds.
func (c *LocalCache) Ping(context.Context) error { return nil }

// Close is a no-op.
func (c *LocalCache) Close() error { return nil }

// Len returns the number of scoped entries.
func (c *LocalCache) Len() int { return c.scoped.Len() }

func copyRecord(rec *session.Record) *session.Record {
	out := *rec
	if rec.Selection != nil {
		sel := *rec.Selection
		out.Selection = &sel
	}
	return &out
}

// Compile-time interface verification.
var _ outbound.LocalCache = (*LocalCache)(nil)
