package runtime

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/stack"
)

// EnvRuntimeDir names the directory relative Include paths resolve against.
const EnvRuntimeDir = "ROOTSTACK_RUNTIME_DIR"

// Config configures a Pool.
type Config struct {
	// Slots is the number of dedicated task slots per worker loop.
	Slots int `toml:"slots"`

	// StackSize is the root capacity of the first page of each stack.
	StackSize int `toml:"stack-size"`

	// MaxStackSlots bounds the root slots a single stack may allocate.
	MaxStackSlots int `toml:"max-stack-slots"`

	// ChannelCapacity is the capacity of the shared task queue.
	ChannelCapacity int `toml:"channel-capacity"`

	// ControlCapacity is the capacity of the main loop's control queue.
	ControlCapacity int `toml:"control-capacity"`

	// RecvTimeout is how long an idle loop waits for work before yielding to
	// the runtime.
	RecvTimeout time.Duration `toml:"recv-timeout"`

	// Workers is the number of loops. Loops other than the main one adopt
	// their thread into the runtime.
	Workers int `toml:"workers"`

	ErrorColor bool `toml:"error-color"`

	// RuntimeDir resolves relative Include paths.
	RuntimeDir string `toml:"runtime-dir"`

	// GCThreshold is the allocation count between automatic collections of
	// the reference runtime.
	GCThreshold int `toml:"gc-threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Slots:           128,
		StackSize:       stack.DefaultSize,
		MaxStackSlots:   stack.DefaultMaxSlots,
		ChannelCapacity: 32,
		ControlCapacity: 8,
		RecvTimeout:     time.Millisecond,
		Workers:         1,
		GCThreshold:     heap.DefaultGCThreshold,
	}
}

// LoadConfig reads a TOML file over the defaults. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", ")))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if dir := os.Getenv(EnvRuntimeDir); dir != "" {
		c.RuntimeDir = dir
	}
}

// Validate checks that the configuration can start a pool.
func (c *Config) Validate() error {
	switch {
	case c.Slots < 1:
		return configError("slots", c.Slots, "must be at least 1")
	case c.StackSize < 1:
		return configError("stack-size", c.StackSize, "must be at least 1")
	case c.MaxStackSlots < c.StackSize:
		return configError("max-stack-slots", c.MaxStackSlots, "must not be below stack-size")
	case c.ChannelCapacity < 0:
		return configError("channel-capacity", c.ChannelCapacity, "must not be negative")
	case c.ControlCapacity < 0:
		return configError("control-capacity", c.ControlCapacity, "must not be negative")
	case c.RecvTimeout <= 0:
		return configError("recv-timeout", c.RecvTimeout, "must be positive")
	case c.Workers < 1:
		return configError("workers", c.Workers, "must be at least 1")
	}
	return nil
}

func configError(key string, v any, msg string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(key).
		Value(v).
		Detail("%s (got %v)", msg, v).
		Build()
}

// StackOptions returns the stack options of each dedicated stack.
func (c *Config) StackOptions() stack.Options {
	return stack.Options{Size: c.StackSize, MaxSlots: c.MaxStackSlots}
}

// HeapConfig returns the reference runtime configuration.
func (c *Config) HeapConfig() heap.Config {
	return heap.Config{GCThreshold: c.GCThreshold, Dir: c.RuntimeDir}
}
