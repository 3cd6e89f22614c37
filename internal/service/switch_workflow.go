package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/telemetry"
)

// Switch outcomes passed to SwitchRecorder.
const (
	SwitchOK         = "ok"
	SwitchNotGranted = "not_granted"
	SwitchStale      = "stale"
	SwitchFailed     = "error"
)

// SwitchStore is the part of the session store the switch workflow drives.
type SwitchStore interface {
	Snapshot() session.Snapshot
	Switch(ctx context.Context, subjectID string, granted role.Set, target role.AccountRole) (role.Selection, error)
}

// SwitchRecorder observes completed switch attempts.
type SwitchRecorder interface {
	RecordSwitch(result string)
}

// SwitchWorkflow changes the active account role after re-validating the
// granted set against the account-role store.
type SwitchWorkflow struct {
	store    SwitchStore
	resolver *role.Resolver
	recorder SwitchRecorder
	logger   *slog.Logger
}

// NewSwitchWorkflow creates a SwitchWorkflow. recorder may be nil.
func NewSwitchWorkflow(store SwitchStore, resolver *role.Resolver, recorder SwitchRecorder, logger *slog.Logger) *SwitchWorkflow {
	return &SwitchWorkflow{store: store, resolver: resolver, recorder: recorder, logger: logger}
}

// SwitchTo makes target the active role. Grants are always fetched fresh so
// a revocation is seen even when the cached selection still lists the role.
// On any failure the current selection is left as it was.
func (w *SwitchWorkflow) SwitchTo(ctx context.Context, target role.AccountRole) (sel role.Selection, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerService, "switch.SwitchTo",
		attribute.String(telemetry.AttrTargetRole, string(target)),
	)
	defer span.End()
	defer func() {
		telemetry.RecordError(span, err)
		w.record(err)
	}()

	snap := w.store.Snapshot()
	if snap.Session == nil {
		return role.Selection{}, session.ErrNoSession
	}
	subject := snap.Session.SubjectID
	span.SetAttributes(attribute.String(telemetry.AttrSubjectID, subject))

	if !target.IsValid() {
		return role.Selection{}, &role.SwitchError{Kind: role.NotGranted, Target: target}
	}

	granted, err := w.resolver.Granted(ctx, subject)
	if err != nil {
		return role.Selection{}, fmt.Errorf("fetch granted roles: %w", err)
	}
	if !granted.Contains(target) {
		w.logger.Info("role switch denied", "subject_id", subject, "role", target, "granted", granted.Strings())
		return role.Selection{}, &role.SwitchError{Kind: role.NotGranted, Target: target}
	}

	sel, err = w.store.Switch(ctx, subject, granted, target)
	if err != nil {
		return role.Selection{}, err
	}
	w.logger.Info("active role switched", "subject_id", subject, "role", sel.ActiveRole)
	return sel, nil
}

func (w *SwitchWorkflow) record(err error) {
	if w.recorder == nil {
		return
	}
	result := SwitchOK
	switch {
	case err == nil:
	case errors.Is(err, role.ErrNotGranted):
		result = SwitchNotGranted
	case errors.Is(err, role.ErrStaleGrantSet):
		result = SwitchStale
	default:
		result = SwitchFailed
	}
	w.recorder.RecordSwitch(result)
}
