package runtime

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/rootstack/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rootstack.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Slots != 128 || cfg.Workers != 1 || cfg.RecvTimeout != time.Millisecond {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
slots = 8
stack-size = 32
channel-capacity = 4
recv-timeout = "5ms"
workers = 2
error-color = true
runtime-dir = "/opt/rootstack"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := DefaultConfig()
	want.Slots = 8
	want.StackSize = 32
	want.ChannelCapacity = 4
	want.RecvTimeout = 5 * time.Millisecond
	want.Workers = 2
	want.ErrorColor = true
	want.RuntimeDir = "/opt/rootstack"
	if cfg != want {
		t.Errorf("LoadConfig =\n%+v\nwant\n%+v", cfg, want)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		path string
	}{
		{"unknown key", "slots = 4\nthreads = 2\n", ""},
		{"bad syntax", "slots = = 4\n", ""},
		{"invalid value", "slots = 0\n", "slots"},
		{"wrong type", "workers = \"many\"\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput}) {
				t.Fatalf("LoadConfig = %v, want invalid config input", err)
			}
			var e *errors.Error
			if tt.path != "" && (!stderrors.As(err, &e) || len(e.Path) == 0 || e.Path[0] != tt.path) {
				t.Errorf("error path = %v, want %s", e, tt.path)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		key  string
	}{
		{"slots", func(c *Config) { c.Slots = 0 }, "slots"},
		{"stack size", func(c *Config) { c.StackSize = 0 }, "stack-size"},
		{"max below size", func(c *Config) { c.MaxStackSlots = c.StackSize - 1 }, "max-stack-slots"},
		{"channel capacity", func(c *Config) { c.ChannelCapacity = -1 }, "channel-capacity"},
		{"control capacity", func(c *Config) { c.ControlCapacity = -1 }, "control-capacity"},
		{"recv timeout", func(c *Config) { c.RecvTimeout = 0 }, "recv-timeout"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("Validate = %v, want *errors.Error", err)
			}
			if e.Kind != errors.KindInvalidInput || len(e.Path) != 1 || e.Path[0] != tt.key {
				t.Errorf("Validate = %v, want invalid %s", err, tt.key)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.ChannelCapacity = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("unbuffered task queue rejected: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RuntimeDir = "/from/file"

	t.Setenv(EnvRuntimeDir, "")
	cfg.ApplyEnv()
	if cfg.RuntimeDir != "/from/file" {
		t.Errorf("empty env overrode RuntimeDir: %q", cfg.RuntimeDir)
	}

	t.Setenv(EnvRuntimeDir, "/from/env")
	cfg.ApplyEnv()
	if cfg.RuntimeDir != "/from/env" {
		t.Errorf("RuntimeDir = %q, want /from/env", cfg.RuntimeDir)
	}
	if hc := cfg.HeapConfig(); hc.Dir != "/from/env" || hc.GCThreshold != cfg.GCThreshold {
		t.Errorf("HeapConfig = %+v", hc)
	}
	if so := cfg.StackOptions(); so.Size != cfg.StackSize || so.MaxSlots != cfg.MaxStackSlots {
		t.Errorf("StackOptions = %+v", so)
	}
}
