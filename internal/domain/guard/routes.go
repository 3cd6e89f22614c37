package guard

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// ConditionInput is the data a route condition can inspect.
type ConditionInput struct {
	Path      string
	SubjectID string
	Role      role.AccountRole
	Granted   []string
}

// Condition is a compiled route condition.
type Condition interface {
	Matches(in ConditionInput) (bool, error)
}

// ConditionCompiler turns a condition expression into a Condition.
// Defined here to avoid circular imports with the CEL adapter.
type ConditionCompiler interface {
	CompileCondition(expr string) (Condition, error)
}

// Rule describes a path prefix. The longest matching prefix wins.
type Rule struct {
	Prefix string
	// Public rules never require authentication.
	Public bool
	// Role restricts the prefix to subjects whose active role is Role.
	Role role.AccountRole
	// Condition is an optional expression that must hold for entry.
	Condition string

	cond Condition
}

// TableConfig is the input to NewTable.
type TableConfig struct {
	SignInPath        string
	RoleSelectionPath string
	Homes             map[role.AccountRole]string
	Rules             []Rule
}

// Table is an immutable, compiled route table.
type Table struct {
	signInPath        string
	roleSelectionPath string
	homes             map[role.AccountRole]string
	rules             []Rule
}

var (
	// ErrMissingHome is returned when a known role has no home path.
	ErrMissingHome = errors.New("role has no home path")
	// ErrConditionWithoutCompiler is returned when a rule has a condition
	// but no compiler was supplied.
	ErrConditionWithoutCompiler = errors.New("route condition requires a compiler")
)

// NewTable validates cfg and compiles its conditions.
func NewTable(cfg TableConfig, compiler ConditionCompiler) (*Table, error) {
	t := &Table{
		signInPath:        cleanPath(cfg.SignInPath),
		roleSelectionPath: cleanPath(cfg.RoleSelectionPath),
		homes:             make(map[role.AccountRole]string, len(cfg.Homes)),
	}
	for _, r := range role.All {
		home, ok := cfg.Homes[r]
		if !ok || home == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingHome, r)
		}
		t.homes[r] = cleanPath(home)
	}

	for _, rule := range cfg.Rules {
		rule.Prefix = cleanPath(rule.Prefix)
		if rule.Role != "" && !rule.Role.IsValid() {
			return nil, fmt.Errorf("route %s: unknown role %q", rule.Prefix, rule.Role)
		}
		if rule.Condition != "" {
			if compiler == nil {
				return nil, fmt.Errorf("route %s: %w", rule.Prefix, ErrConditionWithoutCompiler)
			}
			cond, err := compiler.CompileCondition(rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rule.Prefix, err)
			}
			rule.cond = cond
		}
		t.rules = append(t.rules, rule)
	}
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Prefix) > len(t.rules[j].Prefix)
	})

	for r, home := range t.homes {
		if rule, ok := t.Match(home); ok && rule.Role != "" && rule.Role != r {
			return nil, fmt.Errorf("home %s of role %s is restricted to %s", home, r, rule.Role)
		}
	}
	return t, nil
}

// SignInPath returns the sign-in page.
func (t *Table) SignInPath() string { return t.signInPath }

// RoleSelectionPath returns the role-selection page.
func (t *Table) RoleSelectionPath() string { return t.roleSelectionPath }

// Home returns the landing page for r.
func (t *Table) Home(r role.AccountRole) string { return t.homes[r] }

// Match returns the rule with the longest prefix matching p.
func (t *Table) Match(p string) (Rule, bool) {
	for _, rule := range t.rules {
		if prefixMatches(rule.Prefix, p) {
			return rule, true
		}
	}
	return Rule{}, false
}

// prefixMatches treats "/" as the root page only, and any other prefix as
// a path segment boundary.
func prefixMatches(prefix, p string) bool {
	if p == prefix {
		return true
	}
	if prefix == "/" {
		return false
	}
	return strings.HasPrefix(p, prefix+"/")
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
