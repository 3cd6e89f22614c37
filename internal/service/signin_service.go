package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/telemetry"
)

// ErrInvalidSignInInput is returned when the email or password is malformed.
var ErrInvalidSignInInput = errors.New("invalid sign-in input")

// SessionEstablisher commits a freshly issued session.
type SessionEstablisher interface {
	Establish(ctx context.Context, sess *session.Session) (session.Snapshot, error)
}

type signInInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,max=1024"`
}

// SignInService exchanges credentials for a session and commits it.
type SignInService struct {
	provider session.IdentityProvider
	store    SessionEstablisher
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSignInService creates a SignInService.
func NewSignInService(provider session.IdentityProvider, store SessionEstablisher, logger *slog.Logger) *SignInService {
	return &SignInService{
		provider: provider,
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// SignIn authenticates with the identity provider and establishes the
// resulting session. Provider failures are returned as *session.AuthError.
func (s *SignInService) SignIn(ctx context.Context, creds session.Credentials) (session.Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerService, "signin.SignIn")
	defer span.End()

	if err := s.validate.Struct(signInInput(creds)); err != nil {
		return session.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSignInInput, err)
	}

	sess, err := s.provider.SignIn(ctx, creds)
	if err != nil {
		authErr := session.Classify(err)
		telemetry.RecordError(span, authErr)
		s.logger.Info("sign-in rejected", "kind", authErr.Kind.String())
		return session.Snapshot{}, authErr
	}
	span.SetAttributes(attribute.String(telemetry.AttrSubjectID, sess.SubjectID))

	snap, err := s.store.Establish(ctx, sess)
	if err != nil {
		telemetry.RecordError(span, err)
		return session.Snapshot{}, fmt.Errorf("establish session: %w", err)
	}
	s.logger.Info("signed in", "subject_id", sess.SubjectID)
	return snap, nil
}
