// Package role contains the account-role domain: the roles a subject may
// operate under and the rule that picks the active one.
package role

import (
	"encoding/binary"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AccountRole is one of the account modes a subject may operate under.
type AccountRole string

// Known account roles.
const (
	Business AccountRole = "business"
	Driver   AccountRole = "driver"
	Personal AccountRole = "personal"
)

// All lists every known role in lexicographic order.
var All = []AccountRole{Business, Driver, Personal}

// IsValid reports whether r is a known role.
func (r AccountRole) IsValid() bool {
	switch r {
	case Business, Driver, Personal:
		return true
	}
	return false
}

func (r AccountRole) String() string { return string(r) }

// Parse converts s (case-insensitive, surrounding space ignored) into an
// AccountRole.
func Parse(s string) (AccountRole, error) {
	r := AccountRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", &UnknownRoleError{Value: s}
	}
	return r, nil
}

// UnknownRoleError is returned by Parse for values outside the known roles.
type UnknownRoleError struct {
	Value string
}

func (e *UnknownRoleError) Error() string {
	return "unknown account role " + strconv.Quote(e.Value)
}

// Set is an immutable, sorted, duplicate-free collection of granted roles.
// The zero value is the empty set.
type Set struct {
	roles []AccountRole
}

// NewSet builds a Set from roles. Unknown roles are dropped so a malformed
// entry from an external store can never become a grant.
func NewSet(roles ...AccountRole) Set {
	out := make([]AccountRole, 0, len(roles))
	for _, r := range roles {
		if r.IsValid() {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return Set{roles: slices.Compact(out)}
}

// ParseSet builds a Set from raw strings, ignoring values that do not parse.
func ParseSet(values ...string) Set {
	roles := make([]AccountRole, 0, len(values))
	for _, v := range values {
		if r, err := Parse(v); err == nil {
			roles = append(roles, r)
		}
	}
	return NewSet(roles...)
}

// Contains reports whether r is in the set.
func (s Set) Contains(r AccountRole) bool {
	_, found := slices.BinarySearch(s.roles, r)
	return found
}

// Len returns the number of roles.
func (s Set) Len() int { return len(s.roles) }

// IsEmpty reports whether no role is granted.
func (s Set) IsEmpty() bool { return len(s.roles) == 0 }

// Roles returns a copy of the roles in lexicographic order.
func (s Set) Roles() []AccountRole { return slices.Clone(s.roles) }

// Strings returns the roles as strings in lexicographic order.
func (s Set) Strings() []string {
	out := make([]string, len(s.roles))
	for i, r := range s.roles {
		out[i] = string(r)
	}
	return out
}

// MarshalJSON encodes the set as a sorted array of role names.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of role names, dropping unknown values.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = ParseSet(values...)
	return nil
}

// Equal reports whether both sets hold the same roles.
func (s Set) Equal(other Set) bool { return slices.Equal(s.roles, other.roles) }

// Fingerprint returns a stable hash of the set, used to tell grant sets
// apart in logs and persisted state without listing them.
func (s Set) Fingerprint() uint64 {
	d := xxhash.New()
	var sep [8]byte
	for _, r := range s.roles {
		_, _ = d.WriteString(string(r))
		binary.LittleEndian.PutUint64(sep[:], uint64(len(r)))
		_, _ = d.Write(sep[:])
	}
	return d.Sum64()
}

// Selection is the resolved role view handed to the rest of the application.
// An empty ActiveRole means the subject still has to pick a role.
type Selection struct {
	SubjectID    string      `json:"subject_id"`
	ActiveRole   AccountRole `json:"active_role,omitempty"`
	GrantedRoles Set         `json:"granted_roles"`
}

// NeedsRoleSelection reports whether no active role could be resolved.
func (s Selection) NeedsRoleSelection() bool { return s.ActiveRole == "" }

// Equal reports whether two selections describe the same state.
func (s Selection) Equal(other Selection) bool {
	return s.SubjectID == other.SubjectID &&
		s.ActiveRole == other.ActiveRole &&
		s.GrantedRoles.Equal(other.GrantedRoles)
}
