package cel

import (
	"path"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
)

// NewRouteEnvironment creates the CEL environment for route conditions.
//
// Variables: path, role, granted_roles, subject_id.
// Functions: glob(pattern, s) using path.Match semantics, and
// has_role(granted_roles, name).
func NewRouteEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("path", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("granted_roles", cel.ListType(cel.StringType)),
		cel.Variable("subject_id", cel.StringType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					matched, _ := path.Match(pattern.Value().(string), s.Value().(string))
					return types.Bool(matched)
				}),
			),
		),

		cel.Function("has_role",
			cel.Overload("has_role_list_string",
				[]*cel.Type{cel.ListType(cel.StringType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(list, name ref.Val) ref.Val {
					roles, ok := list.(traits.Lister)
					if !ok {
						return types.Bool(false)
					}
					return types.Bool(roles.Contains(name) == types.True)
				}),
			),
		),
	)
}

// activation maps a condition input onto the environment's variables.
func activation(in guard.ConditionInput) map[string]any {
	granted := in.Granted
	if granted == nil {
		granted = []string{}
	}
	return map[string]any{
		"path":          in.Path,
		"role":          string(in.Role),
		"granted_roles": granted,
		"subject_id":    in.SubjectID,
	}
}
