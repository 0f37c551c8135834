package config

import "time"

// Config represents the complete lmcbridge configuration.
type Config struct {
	Service     ServiceConfig    `yaml:"service"`
	Driver      DriverConfig     `yaml:"driver"`
	Events      EventsConfig     `yaml:"events"`
	API         APIConfig        `yaml:"api,omitempty"`
	Connections []ConnectionSpec `yaml:"connections"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// DriverConfig controls how driver subprocesses are launched.
type DriverConfig struct {
	// Interpreter runs the extracted driver script. The script path is its first argument.
	Interpreter string `yaml:"interpreter"`

	// Builtin runs "lmcbridge driver" instead of the Python script. It only
	// provides the "test" source.
	Builtin bool `yaml:"builtin"`

	TerminationGrace time.Duration `yaml:"termination_grace"`

	// QueueSize bounds the frames buffered between the supervisors and the frame consumer.
	QueueSize int `yaml:"queue_size"`
}

// EventsConfig controls the in-memory event hub used by the API and watch TUI.
type EventsConfig struct {
	Buffer        int           `yaml:"buffer"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// KnownTypes lists the connection types the driver understands.
// "test" is accepted by the driver for self-tests but is not advertised.
var KnownTypes = []string{
	"vicon",
	"optitrack",
	"optitrack_closed_source",
	"qualisys",
	"nokov",
	"vrpn",
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "lmcbridge",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/lmcbridge.lock",
		},
		Driver: DriverConfig{
			Interpreter:      "python3",
			TerminationGrace: 5 * time.Second,
			QueueSize:        256,
		},
		Events: EventsConfig{
			Buffer:        256,
			FrameInterval: time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
