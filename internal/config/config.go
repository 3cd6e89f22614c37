// Package config provides configuration types for accountgate.
//
// Configuration is read from accountgate.yaml and ACCOUNTGATE_* environment
// variables. Durations are strings in time.ParseDuration syntax.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// DevSubjectID is the subject of the development user.
const DevSubjectID = "dev-user"

// Identity provider modes.
const (
	IdentityModeLocal = "local"
	IdentityModeHTTP  = "http"
)

// Backends for grants and the local cache.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendHTTP   = "http"
	BackendFile   = "file"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the local HTTP API.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Identity configures the identity provider.
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`

	// Grants configures the account-role data store.
	Grants GrantsConfig `yaml:"grants" mapstructure:"grants"`

	// Cache configures persisted client state.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Guard configures navigation rules and background refresh.
	Guard GuardConfig `yaml:"guard" mapstructure:"guard"`

	// Logout configures the logout coordinator.
	Logout LogoutConfig `yaml:"logout" mapstructure:"logout"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode switches to a local identity provider and seeded grants.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// HTTPAddr defaults to "127.0.0.1:8377" (localhost only).
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error. DevMode forces debug.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins are browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// PIDFile is written by serve and read by stop.
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`

	// SignInMaxFailures failed sign-ins per email within SignInWindow make
	// the API answer 429. Defaults to 10 in "5m".
	SignInMaxFailures int    `yaml:"signin_max_failures" mapstructure:"signin_max_failures" validate:"omitempty,min=1"`
	SignInWindow      string `yaml:"signin_window" mapstructure:"signin_window" validate:"omitempty,duration"`
}

// IdentityConfig selects and configures the identity provider.
type IdentityConfig struct {
	// Mode is "http" for a remote provider or "local" for the built-in one.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=local http"`

	// BaseURL is the remote provider root, e.g. https://auth.example.com.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required_if=Mode http,omitempty,url"`

	// APIKey is sent as the apikey header to the remote provider.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds each provider call. Defaults to "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// Local configures the built-in provider.
	Local LocalIdentityConfig `yaml:"local" mapstructure:"local"`
}

// LocalIdentityConfig configures the built-in identity provider.
type LocalIdentityConfig struct {
	// Secret signs tokens. At least 32 bytes.
	Secret     string            `yaml:"secret" mapstructure:"secret" validate:"omitempty,min=32"`
	AccessTTL  string            `yaml:"access_ttl" mapstructure:"access_ttl" validate:"omitempty,duration"`
	RefreshTTL string            `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"omitempty,duration"`
	Users      []LocalUserConfig `yaml:"users" mapstructure:"users" validate:"omitempty,dive"`
}

// LocalUserConfig is a sign-in identity of the built-in provider.
type LocalUserConfig struct {
	SubjectID string `yaml:"subject_id" mapstructure:"subject_id" validate:"required"`
	Email     string `yaml:"email" mapstructure:"email" validate:"required,email"`
	// PasswordHash is an argon2id hash; generate with `accountgate hash-password`.
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash" validate:"required,startswith=$argon2id$"`
}

// GrantsConfig configures the account-role data store.
type GrantsConfig struct {
	// Backend is memory, sqlite or http.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=memory sqlite http"`

	// DSN is the SQLite database path for the sqlite backend.
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"required_if=Backend sqlite"`

	// BaseURL is the REST root for the http backend. Defaults to identity.base_url.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// Seed maps subject ids to granted role names. Loaded into memory and
	// sqlite backends at start.
	Seed map[string][]string `yaml:"seed" mapstructure:"seed" validate:"omitempty,dive,keys,required,endkeys,dive,account_role"`
}

// CacheConfig configures persisted client state.
type CacheConfig struct {
	// Backend is file, sqlite or memory.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=file sqlite memory"`

	// Path is the state file (file backend) or database (sqlite backend).
	Path string `yaml:"path" mapstructure:"path" validate:"required_unless=Backend memory"`

	// Capacity bounds role-scoped entries in the memory backend.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`
}

// GuardConfig configures navigation decisions and background refresh.
type GuardConfig struct {
	SignInPath        string `yaml:"sign_in_path" mapstructure:"sign_in_path" validate:"required,url_path"`
	RoleSelectionPath string `yaml:"role_selection_path" mapstructure:"role_selection_path" validate:"required,url_path"`

	// Homes maps each account role to its landing page.
	Homes map[string]string `yaml:"homes" mapstructure:"homes" validate:"required,dive,keys,account_role,endkeys,url_path"`

	// Routes are matched by longest prefix.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`

	// RefreshWindow triggers a refresh this long before expiry. Default "1m".
	RefreshWindow string `yaml:"refresh_window" mapstructure:"refresh_window" validate:"omitempty,duration"`

	// MaxStaleness triggers a refresh when the last one is older. Default "15m".
	MaxStaleness string `yaml:"max_staleness" mapstructure:"max_staleness" validate:"omitempty,duration"`

	// KeepSessionOnNetworkFailure serves the last known-good session,
	// marked degraded, while the provider is unreachable. Off by default:
	// the session is hidden until a refresh succeeds.
	KeepSessionOnNetworkFailure bool `yaml:"keep_session_on_network_failure" mapstructure:"keep_session_on_network_failure"`

	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RouteConfig is one navigation rule.
type RouteConfig struct {
	Prefix    string `yaml:"prefix" mapstructure:"prefix" validate:"required,url_path"`
	Public    bool   `yaml:"public" mapstructure:"public"`
	Role      string `yaml:"role" mapstructure:"role" validate:"omitempty,account_role"`
	Condition string `yaml:"condition" mapstructure:"condition" validate:"omitempty,cel_expr"`
}

// RetryConfig configures refresh retries on network failure.
type RetryConfig struct {
	InitialInterval string `yaml:"initial_interval" mapstructure:"initial_interval" validate:"omitempty,duration"`
	MaxInterval     string `yaml:"max_interval" mapstructure:"max_interval" validate:"omitempty,duration"`
	MaxAttempts     int    `yaml:"max_attempts" mapstructure:"max_attempts" validate:"omitempty,min=1,max=20"`
}

// LogoutConfig configures the logout coordinator.
type LogoutConfig struct {
	// RetryDelay is the pause before the single sign-out retry. Default "200ms".
	RetryDelay string `yaml:"retry_delay" mapstructure:"retry_delay" validate:"omitempty,duration"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "stderr", "stdout" or "file://<absolute-path>".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,telemetry_output"`

	ServiceName    string `yaml:"service_name" mapstructure:"service_name"`
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// SetDevDefaults fills in a working local setup for development. It runs
// before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"

	if c.Identity.Mode == "" {
		c.Identity.Mode = IdentityModeLocal
	}
	if c.Identity.Mode == IdentityModeLocal && c.Identity.Local.Secret == "" {
		c.Identity.Local.Secret = "accountgate-dev-secret-do-not-use-in-prod"
	}
	if c.Grants.Backend == "" {
		c.Grants.Backend = BackendMemory
	}
	if len(c.Grants.Seed) == 0 {
		c.Grants.Seed = map[string][]string{
			DevSubjectID: {string(role.Personal), string(role.Driver)},
		}
	}
	if !viper.IsSet("cache.backend") {
		c.Cache.Backend = BackendMemory
	}
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8377"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = filepath.Join(stateDir(), "accountgate.pid")
	}
	if c.Server.SignInMaxFailures == 0 {
		c.Server.SignInMaxFailures = 10
	}
	if c.Server.SignInWindow == "" {
		c.Server.SignInWindow = "5m"
	}

	if c.Identity.Timeout == "" {
		c.Identity.Timeout = "10s"
	}
	if c.Identity.Local.AccessTTL == "" {
		c.Identity.Local.AccessTTL = "1h"
	}
	if c.Identity.Local.RefreshTTL == "" {
		c.Identity.Local.RefreshTTL = "720h"
	}

	if c.Grants.BaseURL == "" {
		c.Grants.BaseURL = c.Identity.BaseURL
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendFile
	}
	if c.Cache.Path == "" && c.Cache.Backend != BackendMemory {
		name := "state.json"
		if c.Cache.Backend == BackendSQLite {
			name = "state.db"
		}
		c.Cache.Path = filepath.Join(stateDir(), name)
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 1024
	}

	if c.Guard.SignInPath == "" {
		c.Guard.SignInPath = "/signin"
	}
	if c.Guard.RoleSelectionPath == "" {
		c.Guard.RoleSelectionPath = "/select-role"
	}
	if len(c.Guard.Homes) == 0 {
		c.Guard.Homes = map[string]string{
			string(role.Personal): "/home",
			string(role.Business): "/business",
			string(role.Driver):   "/driver",
		}
	}
	if c.Guard.RefreshWindow == "" {
		c.Guard.RefreshWindow = "1m"
	}
	if c.Guard.MaxStaleness == "" {
		c.Guard.MaxStaleness = "15m"
	}
	if c.Guard.Retry.InitialInterval == "" {
		c.Guard.Retry.InitialInterval = "500ms"
	}
	if c.Guard.Retry.MaxInterval == "" {
		c.Guard.Retry.MaxInterval = "10s"
	}
	if c.Guard.Retry.MaxAttempts == 0 {
		c.Guard.Retry.MaxAttempts = 5
	}

	if c.Logout.RetryDelay == "" {
		c.Logout.RetryDelay = "200ms"
	}

	if c.Telemetry.Output == "" {
		c.Telemetry.Output = "stderr"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "accountgate"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "1m"
	}
}

// TableConfig converts the guard section to a route table definition.
func (g GuardConfig) TableConfig() guard.TableConfig {
	homes := make(map[role.AccountRole]string, len(g.Homes))
	for r, home := range g.Homes {
		homes[role.AccountRole(r)] = home
	}
	rules := make([]guard.Rule, 0, len(g.Routes))
	for _, rc := range g.Routes {
		rules = append(rules, guard.Rule{
			Prefix:    rc.Prefix,
			Public:    rc.Public,
			Role:      role.AccountRole(rc.Role),
			Condition: rc.Condition,
		})
	}
	return guard.TableConfig{
		SignInPath:        g.SignInPath,
		RoleSelectionPath: g.RoleSelectionPath,
		Homes:             homes,
		Rules:             rules,
	}
}

// Duration parses s, returning def when s is empty or malformed. Fields are
// validated before use, so def only applies to unset fields.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// stateDir is where accountgate keeps its files by default.
func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".accountgate"
	}
	return filepath.Join(home, ".accountgate")
}

// Starter returns the configuration written by init-config.
func Starter() *Config {
	cfg := &Config{
		Identity: IdentityConfig{
			Mode:    IdentityModeHTTP,
			BaseURL: "https://auth.example.com",
		},
		Grants: GrantsConfig{Backend: BackendHTTP},
		Cache:  CacheConfig{Backend: BackendFile},
		Guard: GuardConfig{
			Routes: []RouteConfig{
				{Prefix: "/", Public: true},
				{Prefix: "/signin", Public: true},
				{Prefix: "/driver", Role: string(role.Driver)},
				{Prefix: "/business", Role: string(role.Business)},
				{Prefix: "/orders", Condition: `role != "driver"`},
			},
		},
	}
	cfg.SetDefaults()
	cfg.Server.PIDFile = ""
	cfg.Cache.Path = ""
	return cfg
}
