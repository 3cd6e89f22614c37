package guard

import "strings"

// Decide is the navigation state machine. It depends only on its inputs.
//
//   - Unauthenticated: public paths pass, everything else goes to sign-in
//     with the requested path kept in ReturnTo.
//   - AuthenticatedNoRole: everything except the role-selection page goes
//     to role selection.
//   - AuthenticatedWithRole: a path restricted to another role, or whose
//     condition does not hold, goes to the active role's home.
func Decide(t *Table, requested string, st State) Decision {
	p := requested
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = cleanPath(p)
	rule, matched := t.Match(p)

	switch st.Kind {
	case Unauthenticated:
		if p == t.signInPath || (matched && rule.Public) {
			return Decision{Allow: true, Reason: ReasonPublic}
		}
		return Decision{
			Destination: t.signInPath,
			ReturnTo:    returnPath(requested),
			Reason:      ReasonSignInRequired,
		}

	case AuthenticatedNoRole:
		if p == t.roleSelectionPath {
			return Decision{Allow: true, Reason: ReasonAllowed}
		}
		return Decision{Destination: t.roleSelectionPath, Reason: ReasonRoleSelectionRequired}
	}

	if matched && rule.Role != "" && rule.Role != st.Role {
		return Decision{Destination: t.Home(st.Role), Reason: ReasonRoleRestricted}
	}
	if matched && rule.cond != nil {
		ok, err := rule.cond.Matches(ConditionInput{
			Path:      p,
			SubjectID: st.SubjectID,
			Role:      st.Role,
			Granted:   st.Granted.Strings(),
		})
		if err != nil || !ok {
			return Decision{Destination: t.Home(st.Role), Reason: ReasonConditionDenied}
		}
	}
	if matched && rule.Public {
		return Decision{Allow: true, Reason: ReasonPublic}
	}
	return Decision{Allow: true, Reason: ReasonAllowed}
}

// returnPath keeps the requested path and query, dropping anything that
// could send the user off-site after sign-in.
func returnPath(requested string) string {
	if i := strings.IndexByte(requested, '#'); i >= 0 {
		requested = requested[:i]
	}
	if strings.HasPrefix(requested, "//") || strings.HasPrefix(requested, "/\\") {
		return "/"
	}
	if !strings.HasPrefix(requested, "/") {
		return "/" + requested
	}
	return requested
}
