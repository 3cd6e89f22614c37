package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Pinger is a component that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotReader reports the cached session state.
type SnapshotReader interface {
	Snapshot() session.Snapshot
}

// HealthChecker verifies component health.
type HealthChecker struct {
	components map[string]Pinger
	sessions   SnapshotReader
	version    string
	timeout    time.Duration
}

// NewHealthChecker creates a HealthChecker. components maps a check name to
// the component pinged for it; sessions may be nil.
func NewHealthChecker(components map[string]Pinger, sessions SnapshotReader, version string) *HealthChecker {
	return &HealthChecker{
		components: components,
		sessions:   sessions,
		version:    version,
		timeout:    2 * time.Second,
	}
}

// Check performs health checks on all components. A degraded session is
// reported but does not make the process unhealthy.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string, len(h.components)+2)
	healthy := true

	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.components[name].Ping(pctx)
		cancel()
		if err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if h.sessions != nil {
		snap := h.sessions.Snapshot()
		switch {
		case snap.Degraded && snap.HasCredential:
			checks["session"] = "degraded"
		case snap.Authenticated():
			checks["session"] = "present"
		case snap.HasCredential:
			checks["session"] = "expired"
		default:
			checks["session"] = "absent"
		}
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
