// Package guard decides whether a navigation attempt may proceed given the
// current session and role state, and where to send it otherwise.
package guard

import (
	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// StateKind is the coarse authentication state seen by the guard.
type StateKind int

const (
	Unauthenticated StateKind = iota
	AuthenticatedNoRole
	AuthenticatedWithRole
)

func (k StateKind) String() string {
	switch k {
	case AuthenticatedNoRole:
		return "authenticated_no_role"
	case AuthenticatedWithRole:
		return "authenticated_with_role"
	}
	return "unauthenticated"
}

// State is the resolved input to Decide.
type State struct {
	Kind      StateKind
	SubjectID string
	Role      role.AccountRole
	Granted   role.Set
}

// StateOf derives the guard state from a store snapshot.
func StateOf(snap session.Snapshot) State {
	if snap.Session == nil || snap.Selection == nil {
		return State{Kind: Unauthenticated}
	}
	st := State{
		Kind:      AuthenticatedNoRole,
		SubjectID: snap.Session.SubjectID,
		Granted:   snap.Selection.GrantedRoles,
	}
	if !snap.Selection.NeedsRoleSelection() {
		st.Kind = AuthenticatedWithRole
		st.Role = snap.Selection.ActiveRole
	}
	return st
}

// Reasons reported with a Decision.
const (
	ReasonPublic                = "public"
	ReasonAllowed               = "allowed"
	ReasonSignInRequired        = "sign_in_required"
	ReasonRoleSelectionRequired = "role_selection_required"
	ReasonRoleRestricted        = "role_restricted"
	ReasonConditionDenied       = "condition_denied"
)

// Decision is the outcome of one navigation attempt. It is never cached.
type Decision struct {
	Allow bool `json:"allow"`
	// Destination is where a denied navigation is sent.
	Destination string `json:"destination,omitempty"`
	// ReturnTo is the originally requested path when a sign-in is required.
	ReturnTo string `json:"return_to,omitempty"`
	Reason   string `json:"reason"`
}
