package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, accountgate.yaml/.yml is searched for in
// standard locations. The explicit extension keeps Viper from matching the
// accountgate binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("accountgate")
		viper.SetConfigType("yaml")
	}

	// ACCOUNTGATE_SERVER_HTTP_ADDR overrides server.http_addr.
	viper.SetEnvPrefix("ACCOUNTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".accountgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "accountgate"))
		}
	} else {
		paths = append(paths, "/etc/accountgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first accountgate.yaml or .yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "accountgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar keys so they can be overridden from the
// environment. Lists and maps (routes, users, seed) come from the file only.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.tls_cert_file",
		"server.tls_key_file",
		"server.pid_file",
		"server.signin_max_failures",
		"server.signin_window",

		"identity.mode",
		"identity.base_url",
		"identity.api_key",
		"identity.timeout",
		"identity.local.secret",
		"identity.local.access_ttl",
		"identity.local.refresh_ttl",

		"grants.backend",
		"grants.dsn",
		"grants.base_url",

		"cache.backend",
		"cache.path",
		"cache.capacity",

		"guard.sign_in_path",
		"guard.role_selection_path",
		"guard.refresh_window",
		"guard.max_staleness",
		"guard.keep_session_on_network_failure",
		"guard.retry.initial_interval",
		"guard.retry.max_interval",
		"guard.retry.max_attempts",

		"logout.retry_delay",

		"telemetry.enabled",
		"telemetry.output",
		"telemetry.service_name",
		"telemetry.metric_interval",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults but neither dev
// defaults nor validation, so CLI flags can still change DevMode.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or "".
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
