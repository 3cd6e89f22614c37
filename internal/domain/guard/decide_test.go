package guard

import (
	"errors"
	"testing"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// funcCondition adapts a function into a Condition.
type funcCondition func(ConditionInput) (bool, error)

func (f funcCondition) Matches(in ConditionInput) (bool, error) { return f(in) }

type mapCompiler map[string]funcCondition

func (m mapCompiler) CompileCondition(expr string) (Condition, error) {
	c, ok := m[expr]
	if !ok {
		return nil, errors.New("unknown expression")
	}
	return c, nil
}

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(TableConfig{
		SignInPath:        "/signin",
		RoleSelectionPath: "/select-role",
		Homes: map[role.AccountRole]string{
			role.Personal: "/home",
			role.Business: "/business",
			role.Driver:   "/driver",
		},
		Rules: []Rule{
			{Prefix: "/", Public: true},
			{Prefix: "/about", Public: true},
			{Prefix: "/driver", Role: role.Driver},
			{Prefix: "/business", Role: role.Business},
			{Prefix: "/business/pricing", Public: true},
			{Prefix: "/orders", Condition: "not-driver"},
			{Prefix: "/broken", Condition: "fails"},
		},
	}, mapCompiler{
		"not-driver": func(in ConditionInput) (bool, error) { return in.Role != role.Driver, nil },
		"fails":      func(ConditionInput) (bool, error) { return false, errors.New("eval error") },
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func withRole(r role.AccountRole, granted ...role.AccountRole) State {
	return State{Kind: AuthenticatedWithRole, SubjectID: "sub-1", Role: r, Granted: role.NewSet(granted...)}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	noRole := State{Kind: AuthenticatedNoRole, SubjectID: "sub-1"}
	anon := State{Kind: Unauthenticated}

	tests := []struct {
		name  string
		path  string
		state State
		want  Decision
	}{
		{
			name:  "unauthenticated protected path goes to sign-in",
			path:  "/dashboard",
			state: anon,
			want:  Decision{Destination: "/signin", ReturnTo: "/dashboard", Reason: ReasonSignInRequired},
		},
		{
			name:  "query string preserved for return",
			path:  "/orders/42?tab=items",
			state: anon,
			want:  Decision{Destination: "/signin", ReturnTo: "/orders/42?tab=items", Reason: ReasonSignInRequired},
		},
		{
			name:  "root is public",
			path:  "/",
			state: anon,
			want:  Decision{Allow: true, Reason: ReasonPublic},
		},
		{
			name:  "root rule does not make subpaths public",
			path:  "/settings",
			state: anon,
			want:  Decision{Destination: "/signin", ReturnTo: "/settings", Reason: ReasonSignInRequired},
		},
		{
			name:  "sign-in page is public",
			path:  "/signin",
			state: anon,
			want:  Decision{Allow: true, Reason: ReasonPublic},
		},
		{
			name:  "longest prefix wins",
			path:  "/business/pricing",
			state: anon,
			want:  Decision{Allow: true, Reason: ReasonPublic},
		},
		{
			name:  "off-site return path dropped",
			path:  "//evil.example/x",
			state: anon,
			want:  Decision{Destination: "/signin", ReturnTo: "/", Reason: ReasonSignInRequired},
		},
		{
			name:  "no role goes to role selection even for public paths",
			path:  "/about",
			state: noRole,
			want:  Decision{Destination: "/select-role", Reason: ReasonRoleSelectionRequired},
		},
		{
			name:  "no role may open role selection",
			path:  "/select-role",
			state: noRole,
			want:  Decision{Allow: true, Reason: ReasonAllowed},
		},
		{
			name:  "role restricted to another role goes home",
			path:  "/driver/jobs",
			state: withRole(role.Personal, role.Personal),
			want:  Decision{Destination: "/home", Reason: ReasonRoleRestricted},
		},
		{
			name:  "matching role allowed",
			path:  "/driver/jobs",
			state: withRole(role.Driver, role.Driver),
			want:  Decision{Allow: true, Reason: ReasonAllowed},
		},
		{
			name:  "condition false goes home",
			path:  "/orders",
			state: withRole(role.Driver, role.Driver),
			want:  Decision{Destination: "/driver", Reason: ReasonConditionDenied},
		},
		{
			name:  "condition true allowed",
			path:  "/orders/7",
			state: withRole(role.Business, role.Business),
			want:  Decision{Allow: true, Reason: ReasonAllowed},
		},
		{
			name:  "condition error denies",
			path:  "/broken",
			state: withRole(role.Personal, role.Personal),
			want:  Decision{Destination: "/home", Reason: ReasonConditionDenied},
		},
		{
			name:  "unmatched path allowed with role",
			path:  "/dashboard",
			state: withRole(role.Personal, role.Personal),
			want:  Decision{Allow: true, Reason: ReasonAllowed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Decide(table, tt.path, tt.state); got != tt.want {
				t.Errorf("Decide(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewTable_Validation(t *testing.T) {
	t.Parallel()

	homes := map[role.AccountRole]string{role.Personal: "/home", role.Business: "/business", role.Driver: "/driver"}

	tests := []struct {
		name    string
		cfg     TableConfig
		wantErr error
	}{
		{
			name:    "missing home",
			cfg:     TableConfig{Homes: map[role.AccountRole]string{role.Personal: "/home"}},
			wantErr: ErrMissingHome,
		},
		{
			name:    "condition without compiler",
			cfg:     TableConfig{Homes: homes, Rules: []Rule{{Prefix: "/x", Condition: "true"}}},
			wantErr: ErrConditionWithoutCompiler,
		},
		{
			name: "home restricted to another role",
			cfg:  TableConfig{Homes: homes, Rules: []Rule{{Prefix: "/home", Role: role.Driver}}},
		},
		{
			name: "unknown role",
			cfg:  TableConfig{Homes: homes, Rules: []Rule{{Prefix: "/x", Role: "admin"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTable(tt.cfg, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
