package role

import "errors"

var (
	// ErrNotGranted is the kind of a switch to a role outside the grant set.
	ErrNotGranted = errors.New("role not granted")
	// ErrStaleGrantSet is the kind of a switch that raced with a subject change.
	ErrStaleGrantSet = errors.New("grant set is stale")
	// ErrEmptySubject is returned when grants are requested without a subject.
	ErrEmptySubject = errors.New("subject id is empty")
)

// SwitchKind classifies a failed role switch.
type SwitchKind int

const (
	// NotGranted means the target role is not in the subject's grant set.
	NotGranted SwitchKind = iota + 1
	// StaleGrantSet means the session changed subject while the switch ran.
	StaleGrantSet
)

func (k SwitchKind) String() string {
	switch k {
	case NotGranted:
		return "not_granted"
	case StaleGrantSet:
		return "stale_grant_set"
	}
	return "unknown"
}

// SwitchError reports why a role switch was refused.
type SwitchError struct {
	Kind   SwitchKind
	Target AccountRole
}

func (e *SwitchError) Error() string {
	switch e.Kind {
	case NotGranted:
		return "switch to " + string(e.Target) + ": role not granted"
	case StaleGrantSet:
		return "switch to " + string(e.Target) + ": session changed during switch"
	}
	return "switch to " + string(e.Target) + ": failed"
}

// Is matches the kind sentinels ErrNotGranted and ErrStaleGrantSet.
func (e *SwitchError) Is(target error) bool {
	switch target {
	case ErrNotGranted:
		return e.Kind == NotGranted
	case ErrStaleGrantSet:
		return e.Kind == StaleGrantSet
	}
	return false
}
