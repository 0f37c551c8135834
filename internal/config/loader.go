package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory argument is
// resolved to the config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $LMCBRIDGE_CONFIG, ~/.config/lmcbridge/config.yaml, /etc/lmcbridge/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("LMCBRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "lmcbridge", "config.yaml"))
	}
	candidates = append(candidates, "/etc/lmcbridge/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $LMCBRIDGE_CONFIG, ~/.config/lmcbridge, /etc/lmcbridge, ./config.yaml)")
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}

	if cfg.Driver.Interpreter == "" {
		cfg.Driver.Interpreter = defaults.Driver.Interpreter
	}
	if cfg.Driver.TerminationGrace == 0 {
		cfg.Driver.TerminationGrace = defaults.Driver.TerminationGrace
	}
	if cfg.Driver.QueueSize == 0 {
		cfg.Driver.QueueSize = defaults.Driver.QueueSize
	}

	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
	if cfg.Events.FrameInterval == 0 {
		cfg.Events.FrameInterval = defaults.Events.FrameInterval
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} placeholders with environment values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
// Connections without a type are not rejected here: the orchestrator skips them at run time.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if strings.TrimSpace(cfg.Driver.Interpreter) == "" {
		return fmt.Errorf("driver.interpreter is required")
	}
	if cfg.Driver.TerminationGrace < 0 {
		return fmt.Errorf("driver.termination_grace must not be negative")
	}
	if cfg.Driver.QueueSize < 0 {
		return fmt.Errorf("driver.queue_size must not be negative")
	}
	if cfg.Events.FrameInterval < 0 {
		return fmt.Errorf("events.frame_interval must not be negative")
	}

	if cfg.API.Enabled {
		if err := checkResolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkResolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.enabled requires api.auth.api_key or api.auth.tokens")
		}
	}

	for i, c := range cfg.Connections {
		for _, p := range c.Params {
			if err := checkResolved(fmt.Sprintf("connections[%d].%s", i, p.Key), p.Value); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkResolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// UnknownTypes returns a warning for every connection whose type is not one of KnownTypes.
func UnknownTypes(cfg *Config) []string {
	var warnings []string
	for i, c := range cfg.Connections {
		if c.Type == "" {
			warnings = append(warnings, fmt.Sprintf("connections[%d]: no type, connection will be skipped", i))
			continue
		}
		if !slices.Contains(KnownTypes, c.Type) && c.Type != "test" {
			warnings = append(warnings, fmt.Sprintf("connections[%d]: unknown type %q", i, c.Type))
		}
	}
	return warnings
}

// GraceOrDefault returns the configured termination grace, or the default when unset.
func (d DriverConfig) GraceOrDefault() time.Duration {
	if d.TerminationGrace > 0 {
		return d.TerminationGrace
	}
	return Defaults().Driver.TerminationGrace
}
