// Package state persists client-local state to a JSON file.
package state

import (
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
)

// CurrentVersion is the state file format version.
const CurrentVersion = "1"

// ClientState is the on-disk document.
type ClientState struct {
	Version string `json:"version"`
	// Session is the cached session record, absent after sign-out.
	Session *session.Record `json:"session,omitempty"`
	// Scoped holds role-scoped cached data.
	Scoped    []ScopedEntry `json:"scoped"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ScopedEntry is one role-scoped value. Value is base64 in JSON.
type ScopedEntry struct {
	Key       outbound.ScopedKey `json:"key"`
	Value     []byte             `json:"value"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *ClientState) find(key outbound.ScopedKey) int {
	for i, e := range s.Scoped {
		if e.Key == key {
			return i
		}
	}
	return -1
}
