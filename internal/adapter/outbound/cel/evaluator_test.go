package cel

import (
	"strings"
	"testing"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/role"
)

func TestCompileCondition_Errors(t *testing.T) {
	t.Parallel()

	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}

	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"syntax", "this is not CEL !!!"},
		{"unknown variable", `tool_name == "x"`},
		{"non-bool", `path + "x"`},
		{"too long", strings.Repeat("a", maxExpressionLength+1)},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := c.CompileCondition(tt.expr); err == nil {
				t.Errorf("CompileCondition(%q) succeeded", tt.expr)
			}
		})
	}
}

func TestCondition_Matches(t *testing.T) {
	t.Parallel()

	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	in := guard.ConditionInput{
		Path:      "/orders/42",
		SubjectID: "user-1",
		Role:      role.Personal,
		Granted:   []string{"driver", "personal"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`role in ["personal", "business"]`, true},
		{`role == "driver"`, false},
		{`has_role(granted_roles, "driver")`, true},
		{`has_role(granted_roles, "business")`, false},
		{`glob("/orders/*", path)`, true},
		{`path.startsWith("/orders") && size(granted_roles) > 1`, true},
		{`subject_id != ""`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			cond, err := c.CompileCondition(tt.expr)
			if err != nil {
				t.Fatalf("CompileCondition: %v", err)
			}
			got, err := cond.Matches(in)
			if err != nil {
				t.Fatalf("Matches: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompiler_DrivesRouteTable(t *testing.T) {
	t.Parallel()

	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	table, err := guard.NewTable(guard.TableConfig{
		SignInPath:        "/signin",
		RoleSelectionPath: "/select-role",
		Homes: map[role.AccountRole]string{
			role.Personal: "/home", role.Business: "/business", role.Driver: "/driver",
		},
		Rules: []guard.Rule{{Prefix: "/invoices", Condition: `role == "business"`}},
	}, c)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	st := guard.State{Kind: guard.AuthenticatedWithRole, SubjectID: "u", Role: role.Personal, Granted: role.NewSet(role.Personal)}
	d := guard.Decide(table, "/invoices/1", st)
	if d.Allow || d.Destination != "/home" || d.Reason != guard.ReasonConditionDenied {
		t.Errorf("decision = %+v", d)
	}
}
