package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
)

// FileCache implements outbound.LocalCache on a single JSON file.
//
// Every write is a read-modify-write under an exclusive lock on a sidecar
// .lock file, so several processes (the server and CLI commands) can share
// one file. Writes go through a temp file, fsync and rename; the previous
// version is kept as .bak.
type FileCache struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFileCache creates a cache backed by path. The parent directory is
// created on first write.
func NewFileCache(path string, logger *slog.Logger) *FileCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCache{
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the state file path.
func (c *FileCache) Path() string { return c.path }

// SaveSession replaces the cached session record.
func (c *FileCache) SaveSession(_ context.Context, rec session.Record) error {
	return c.update(func(st *ClientState) {
		st.Session = &rec
	})
}

// LoadSession returns the cached record, or nil.
func (c *FileCache) LoadSession(context.Context) (*session.Record, error) {
	st, err := c.load()
	if err != nil {
		return nil, err
	}
	return st.Session, nil
}

// ClearSession removes the cached record.
func (c *FileCache) ClearSession(context.Context) error {
	return c.update(func(st *ClientState) {
		st.Session = nil
	})
}

// PutScoped stores value under key.
func (c *FileCache) PutScoped(_ context.Context, key outbound.ScopedKey, value []byte) error {
	if !key.Valid() {
		return fmt.Errorf("invalid scoped key %q", key.String())
	}
	return c.update(func(st *ClientState) {
		entry := ScopedEntry{Key: key, Value: slices.Clone(value), UpdatedAt: c.now()}
		if i := st.find(key); i >= 0 {
			st.Scoped[i] = entry
			return
		}
		st.Scoped = append(st.Scoped, entry)
	})
}

// GetScoped returns the value under key or outbound.ErrScopedNotFound.
func (c *FileCache) GetScoped(_ context.Context, key outbound.ScopedKey) ([]byte, error) {
	st, err := c.load()
	if err != nil {
		return nil, err
	}
	i := st.find(key)
	if i < 0 {
		return nil, outbound.ErrScopedNotFound
	}
	return st.Scoped[i].Value, nil
}

// ListScoped lists keys for subjectID, optionally filtered by role.
func (c *FileCache) ListScoped(_ context.Context, subjectID string, r role.AccountRole) ([]outbound.ScopedKey, error) {
	st, err := c.load()
	if err != nil {
		return nil, err
	}
	var out []outbound.ScopedKey
	for _, e := range st.Scoped {
		if e.Key.SubjectID == subjectID && (r == "" || e.Key.Role == r) {
			out = append(out, e.Key)
		}
	}
	slices.SortFunc(out, func(a, b outbound.ScopedKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return out, nil
}

// ClearAll removes the session record and all scoped data. The .bak copy is
// removed too so no cached data survives on disk.
func (c *FileCache) ClearAll(context.Context) error {
	err := c.update(func(st *ClientState) {
		st.Session = nil
		st.Scoped = []ScopedEntry{}
	})
	if err != nil {
		return err
	}
	if rmErr := os.Remove(c.path + ".bak"); rmErr != nil && !os.IsNotExist(rmErr) {
		c.logger.Warn("failed to remove state backup", "error", rmErr)
	}
	return nil
}

// Ping checks that the state file, if present, parses.
func (c *FileCache) Ping(context.Context) error {
	_, err := c.load()
	return err
}

// Close is a no-op; the file is not held open.
func (c *FileCache) Close() error { return nil }

func (c *FileCache) load() (*ClientState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

// read must be called with c.mu held.
func (c *FileCache) read() (*ClientState, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c.emptyState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(c.path); statErr == nil && info.Mode().Perm()&0077 != 0 {
			c.logger.Warn("state file is readable by other users, expected 0600",
				"path", c.path, "mode", fmt.Sprintf("%04o", info.Mode().Perm()))
		}
	}

	var st ClientState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if st.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported state file version %q", st.Version)
	}
	return &st, nil
}

func (c *FileCache) update(mutate func(*ClientState)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	lock, err := os.OpenFile(c.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()
	release, err := lockState(lock)
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer release()

	st, err := c.read()
	if err != nil {
		return err
	}
	mutate(st)
	st.UpdatedAt = c.now()

	if current, readErr := os.ReadFile(c.path); readErr == nil {
		if writeErr := os.WriteFile(c.path+".bak", current, 0600); writeErr != nil {
			c.logger.Warn("failed to write state backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := c.writeAtomic(append(data, '\n')); err != nil {
		return err
	}
	c.logger.Debug("state saved", "path", c.path)
	return nil
}

func (c *FileCache) writeAtomic(data []byte) error {
	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (c *FileCache) emptyState() *ClientState {
	now := c.now()
	return &ClientState{
		Version:   CurrentVersion,
		Scoped:    []ScopedEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Compile-time interface verification.
var _ outbound.LocalCache = (*FileCache)(nil)
