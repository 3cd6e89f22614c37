package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	celadapter "github.com/swiftdrop/accountgate/internal/adapter/outbound/cel"
	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// RegisterCustomValidators registers the accountgate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	compiler, err := celadapter.NewCompiler()
	if err != nil {
		return fmt.Errorf("create condition compiler: %w", err)
	}
	rules := map[string]validator.Func{
		"account_role":     validateAccountRole,
		"url_path":         validateURLPath,
		"duration":         validateDuration,
		"telemetry_output": validateTelemetryOutput,
		"cel_expr": func(fl validator.FieldLevel) bool {
			return compiler.Validate(fl.Field().String()) == nil
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func validateAccountRole(fl validator.FieldLevel) bool {
	return role.AccountRole(fl.Field().String()).IsValid()
}

// validateURLPath accepts absolute, same-origin paths without query or fragment.
func validateURLPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return strings.HasPrefix(p, "/") &&
		!strings.HasPrefix(p, "//") &&
		!strings.ContainsAny(p, "?#\\ ")
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateTelemetryOutput accepts "stdout", "stderr" or "file://<absolute-path>".
func validateTelemetryOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "stderr" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateGrants(); err != nil {
		return err
	}
	return c.validateHomes()
}

func (c *Config) validateIdentity() error {
	if c.Identity.Mode != IdentityModeLocal {
		return nil
	}
	if c.Identity.Local.Secret == "" {
		return errors.New("identity.local.secret is required when identity.mode is local")
	}
	seen := make(map[string]struct{}, len(c.Identity.Local.Users))
	for i, u := range c.Identity.Local.Users {
		key := strings.ToLower(u.Email)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("identity.local.users[%d]: duplicate email %s", i, u.Email)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (c *Config) validateGrants() error {
	if c.Grants.Backend == BackendHTTP && c.Grants.BaseURL == "" {
		return errors.New("grants.base_url (or identity.base_url) is required when grants.backend is http")
	}
	return nil
}

// validateHomes requires a home for every account role.
func (c *Config) validateHomes() error {
	for _, r := range role.All {
		if _, ok := c.Guard.Homes[string(r)]; !ok {
			return fmt.Errorf("guard.homes: missing home for role %s", r)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required", "required_if", "required_unless", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "account_role":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(roleNames(), ", "))
	case "url_path":
		return fmt.Sprintf("%s must be an absolute path without query or fragment", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as 30s or 5m", field)
	case "cel_expr":
		return fmt.Sprintf("%s is not a valid boolean condition", field)
	case "telemetry_output":
		return fmt.Sprintf("%s must be 'stdout', 'stderr' or 'file://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

func roleNames() []string {
	names := make([]string, len(role.All))
	for i, r := range role.All {
		names[i] = string(r)
	}
	return names
}
