package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
connections:
  - type: vicon
    hostname: 10.0.0.5
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.Connections) != 1 || cfg.Connections[0].Type != "vicon" {
					t.Fatalf("connections not parsed: %+v", cfg.Connections)
				}
				// Check defaults applied
				if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
					t.Error("default logging not applied")
				}
				if cfg.Driver.Interpreter != "python3" {
					t.Errorf("driver.interpreter = %q, want python3", cfg.Driver.Interpreter)
				}
				if cfg.Driver.TerminationGrace != 5*time.Second {
					t.Error("default termination_grace not applied")
				}
				if cfg.Events.FrameInterval != time.Second {
					t.Error("default frame_interval not applied")
				}
				if cfg.API.Enabled {
					t.Error("api should be disabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: stage-bridge
  log_level: debug
  log_format: text
  lock_path: /tmp/lmcbridge-test.lock
driver:
  interpreter: /opt/venv/bin/python
  termination_grace: 2s
  queue_size: 64
events:
  buffer: 32
  frame_interval: 250ms
api:
  enabled: true
  listen: 0.0.0.0:9090
  auth:
    tokens:
      - token: viewer
        scopes: [connections:ro]
connections:
  - type: qualisys
    name: Lab
    hostname: 192.168.1.10
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "stage-bridge" || cfg.Service.LogFormat != "text" {
					t.Error("service not parsed")
				}
				if cfg.Driver.TerminationGrace != 2*time.Second || cfg.Driver.QueueSize != 64 {
					t.Error("driver not parsed")
				}
				if cfg.Events.FrameInterval != 250*time.Millisecond {
					t.Error("events.frame_interval not parsed")
				}
				if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].Scopes[0] != "connections:ro" {
					t.Error("api tokens not parsed")
				}
				if cfg.Connections[0].Name != "Lab" {
					t.Error("connection name not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${LMC_TEST_KEY}
connections:
  - type: vicon
    hostname: ${LMC_TEST_HOST}
`,
			env: map[string]string{"LMC_TEST_KEY": "s3cret", "LMC_TEST_HOST": "10.1.1.1"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "s3cret" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
				if v, _ := cfg.Connections[0].Get("hostname"); v != "10.1.1.1" {
					t.Errorf("hostname = %q", v)
				}
			},
		},
		{
			name: "unresolved env var in connection",
			yaml: `
connections:
  - type: vicon
    hostname: ${LMC_TEST_UNSET_HOST}
`,
			wantErr: true,
		},
		{
			name:    "api enabled without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: true,
		},
		{
			name:    "connection option must be scalar",
			yaml:    "connections:\n  - type: vicon\n    hostname: [a, b]\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "connections: [",
			wantErr: true,
		},
		{
			name: "connection without type is kept",
			yaml: "connections:\n  - name: orphan\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.Connections) != 1 || cfg.Connections[0].Type != "" {
					t.Fatalf("connections = %+v", cfg.Connections)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpFile := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(tmpFile, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(tmpFile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("connections: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}

	empty := t.TempDir()
	if _, err := Load(empty); err == nil || !strings.Contains(err.Error(), "config.yaml not found") {
		t.Fatalf("expected missing config.yaml error, got %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "hostname: ${LMC_HOST}",
			env:   map[string]string{"LMC_HOST": "10.0.0.5"},
			want:  "hostname: 10.0.0.5",
		},
		{
			name:  "multiple vars",
			input: "${LMC_A}:${LMC_B}",
			env:   map[string]string{"LMC_A": "x", "LMC_B": "y"},
			want:  "x:y",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${LMC_UNDEFINED_VAR}",
			want:  "key: ${LMC_UNDEFINED_VAR}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := interpolateEnv(tt.input); got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Connections = []ConnectionSpec{{Type: "vicon"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid log level", mutate: func(c *Config) { c.Service.LogLevel = "trace" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Service.LogFormat = "xml" }, wantErr: true},
		{name: "missing interpreter", mutate: func(c *Config) { c.Driver.Interpreter = " " }, wantErr: true},
		{name: "negative grace", mutate: func(c *Config) { c.Driver.TerminationGrace = -time.Second }, wantErr: true},
		{name: "negative queue size", mutate: func(c *Config) { c.Driver.QueueSize = -1 }, wantErr: true},
		{name: "negative frame interval", mutate: func(c *Config) { c.Events.FrameInterval = -1 }, wantErr: true},
		{
			name: "api token without value",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Auth.Tokens = []APIToken{{Scopes: []string{"*"}}}
			},
			wantErr: true,
		},
		{
			name: "api with key",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Auth.APIKey = "k"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnknownTypes(t *testing.T) {
	cfg := &Config{Connections: []ConnectionSpec{
		{Type: "vicon"},
		{Type: "test"},
		{Type: "mocapX"},
		{Name: "untyped"},
	}}

	warnings := UnknownTypes(cfg)
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", warnings)
	}
	if !strings.Contains(warnings[0], `connections[2]: unknown type "mocapX"`) {
		t.Errorf("warnings[0] = %q", warnings[0])
	}
	if !strings.Contains(warnings[1], "connections[3]: no type") {
		t.Errorf("warnings[1] = %q", warnings[1])
	}
}

func TestGraceOrDefault(t *testing.T) {
	if got := (DriverConfig{}).GraceOrDefault(); got != 5*time.Second {
		t.Errorf("GraceOrDefault() = %v", got)
	}
	if got := (DriverConfig{TerminationGrace: time.Second}).GraceOrDefault(); got != time.Second {
		t.Errorf("GraceOrDefault() = %v", got)
	}
}

func TestDiscoverConfigPathPrefersEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("connections: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LMCBRIDGE_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() failed: %v", err)
	}
	if got != path {
		t.Errorf("DiscoverConfigPath() = %q, want %q", got, path)
	}
}
