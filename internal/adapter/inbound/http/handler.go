package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/inbound"
	"github.com/swiftdrop/accountgate/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (64 KB).
const maxRequestBodySize = 64 << 10

// LogoutHeader is set to "true" on a successful logout response.
const LogoutHeader = "X-Auth-Logout"

// SessionView is the JSON shape of the cached session. Tokens are never
// included.
type SessionView struct {
	Authenticated      bool       `json:"authenticated"`
	SubjectID          string     `json:"subject_id,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	ActiveRole         string     `json:"active_role,omitempty"`
	GrantedRoles       []string   `json:"granted_roles,omitempty"`
	NeedsRoleSelection bool       `json:"needs_role_selection"`
	Degraded           bool       `json:"degraded,omitempty"`
}

// NewSessionView builds the JSON view of snap.
func NewSessionView(snap session.Snapshot) SessionView {
	if !snap.Authenticated() {
		return SessionView{}
	}
	exp := snap.Session.ExpiresAt
	v := SessionView{
		Authenticated: true,
		SubjectID:     snap.Session.SubjectID,
		ExpiresAt:     &exp,
		Degraded:      snap.Degraded,
	}
	if snap.Selection != nil {
		v.ActiveRole = string(snap.Selection.ActiveRole)
		v.GrantedRoles = snap.Selection.GrantedRoles.Strings()
		v.NeedsRoleSelection = snap.Selection.NeedsRoleSelection()
	}
	return v
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type switchRequest struct {
	Role string `json:"role" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// APIHandler serves the account JSON API.
type APIHandler struct {
	svc      inbound.AccountService
	validate *validator.Validate
	logger   *slog.Logger
	limiter  *signInLimiter
}

// NewAPIHandler creates an APIHandler. Sign-ins are throttled after ten
// failures per email within five minutes.
func NewAPIHandler(svc inbound.AccountService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
		limiter:  newSignInLimiter(defaultSignInMaxFailures, defaultSignInWindow),
	}
}

// SetSignInLimit changes the sign-in throttle.
func (h *APIHandler) SetSignInLimit(maxFailures int, window time.Duration) {
	h.limiter = newSignInLimiter(maxFailures, window)
}

// Routes registers the API routes on a new mux.
func (h *APIHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signin", h.handleSignIn)
	mux.HandleFunc("GET /api/auth/session", h.handleSession)
	mux.HandleFunc("POST /api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/auth/switch", h.handleSwitch)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/route/decide", h.handleDecide)
	return mux
}

func (h *APIHandler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "email and password are required", "")
		return
	}
	if ok, retryAfter := h.limiter.allow(req.Email); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.respondError(w, r, http.StatusTooManyRequests, "too many failed sign-in attempts", "")
		return
	}

	snap, err := h.svc.SignIn(r.Context(), session.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		var authErr *session.AuthError
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.limiter.fail(req.Email)
		}
		switch {
		case errors.Is(err, service.ErrInvalidSignInInput):
			h.respondError(w, r, http.StatusBadRequest, "invalid email or password format", "")
		case errors.As(err, &authErr) && authErr.Kind == session.NetworkFailure:
			h.respondError(w, r, http.StatusBadGateway, "identity provider unavailable", authErr.Kind.String())
		case errors.As(err, &authErr):
			h.respondError(w, r, http.StatusUnauthorized, "sign-in failed", authErr.Kind.String())
		default:
			h.log(r).Error("sign-in failed", "error", err)
			h.respondError(w, r, http.StatusInternalServerError, "sign-in failed", "")
		}
		return
	}
	h.limiter.succeed(req.Email)
	setNoCache(w.Header())
	h.respondJSON(w, r, http.StatusOK, NewSessionView(snap))
}

func (h *APIHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	setNoCache(w.Header())
	h.respondJSON(w, r, http.StatusOK, NewSessionView(h.svc.Snapshot()))
}

func (h *APIHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Refresh(r.Context())
	setNoCache(w.Header())
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			h.respondError(w, r, http.StatusUnauthorized, "no session", "")
			return
		}
		kind := session.KindOf(err)
		if kind == session.NetworkFailure {
			h.respondError(w, r, http.StatusBadGateway, "identity provider unavailable", kind.String())
			return
		}
		h.respondError(w, r, http.StatusUnauthorized, "session refresh failed", kind.String())
		return
	}
	h.respondJSON(w, r, http.StatusOK, NewSessionView(snap))
}

func (h *APIHandler) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "role is required", "")
		return
	}

	target := role.AccountRole(strings.ToLower(strings.TrimSpace(req.Role)))
	sel, err := h.svc.SwitchTo(r.Context(), target)
	switch {
	case err == nil:
		h.respondJSON(w, r, http.StatusOK, sel)
	case errors.Is(err, session.ErrNoSession):
		h.respondError(w, r, http.StatusUnauthorized, "no session", "")
	case errors.Is(err, role.ErrNotGranted):
		h.respondError(w, r, http.StatusForbidden, "role not granted", "not_granted")
	case errors.Is(err, role.ErrStaleGrantSet):
		h.respondError(w, r, http.StatusConflict, "session changed during switch", "stale_grant_set")
	default:
		h.log(r).Error("role switch failed", "error", err)
		h.respondError(w, r, http.StatusBadGateway, "account roles unavailable", "")
	}
}

func (h *APIHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.respondError(w, r, http.StatusBadRequest, "path is required", "")
		return
	}
	setNoCache(w.Header())
	h.respondJSON(w, r, http.StatusOK, h.svc.Decide(path))
}

// handleLogout always wipes local state. The status reports how the
// server-side sign-out went.
func (h *APIHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	setNoCache(w.Header())
	err := h.svc.Logout(r.Context())
	if err == nil {
		w.Header().Set(LogoutHeader, "true")
		h.respondJSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
		return
	}

	logger := h.log(r)
	if authErr, ok := providerRejection(err); ok {
		logger.Warn("logout rejected by identity provider", "kind", authErr.Kind.String(), "error", err)
		h.respondError(w, r, http.StatusBadRequest, authErr.Error(), authErr.Kind.String())
		return
	}
	logger.Error("logout failed", "error", err)
	h.respondError(w, r, http.StatusInternalServerError, "logout failed", "")
}

// providerRejection reports whether err carries a sign-out failure the
// identity provider itself answered, as opposed to a transport failure.
func providerRejection(err error) (*session.AuthError, bool) {
	var logoutErr *service.LogoutError
	if !errors.As(err, &logoutErr) {
		return nil, false
	}
	var authErr *session.AuthError
	if !errors.As(logoutErr.Err, &authErr) {
		return nil, false
	}
	switch {
	case authErr.Kind == session.Expired, authErr.Kind == session.Revoked:
		return authErr, true
	case authErr.Status >= 400 && authErr.Status < 500:
		return authErr, true
	}
	return nil, false
}

// log returns the request-scoped logger, falling back to the handler's.
func (h *APIHandler) log(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return h.logger
}

// --- JSON helpers ---

func (h *APIHandler) respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log(r).Error("failed to encode JSON response", "error", err)
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, r *http.Request, status int, message, kind string) {
	h.respondJSON(w, r, status, errorResponse{Error: message, Kind: kind})
}

func (h *APIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
