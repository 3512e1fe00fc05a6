// Package config handles ledvm.toml daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// FileName is the configuration file looked up by the daemons.
const FileName = "ledvm.toml"

type Config struct {
	Display Display `toml:"display"`
	Runner  Runner  `toml:"runner"`
	Server  Server  `toml:"server"`
	Storage Storage `toml:"storage"`
	Log     Log     `toml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

type Display struct {
	Pixels     int  `toml:"pixels"`
	Cols       int  `toml:"cols"`
	Serpentine bool `toml:"serpentine"`
	// Scale is the on-screen size of one LED in the desktop simulator.
	Scale int `toml:"scale"`
}

type Runner struct {
	// StepBudget is the number of instructions executed between checks for
	// program switches and cancellation.
	StepBudget int `toml:"step_budget"`
	// MaxSteps ends a run that executes more instructions. Zero disables it.
	MaxSteps   uint64 `toml:"max_steps"`
	StackLimit int    `toml:"stack_limit"`
	// IdleProgram is an assembly file used as the idle program. The built-in
	// blank-and-wait program is used when empty.
	IdleProgram string        `toml:"idle_program"`
	Tick        time.Duration `toml:"tick"`
	Seed        int64         `toml:"seed"`
	Debug       bool          `toml:"debug"`
}

type Server struct {
	Listen string `toml:"listen"`
}

type Storage struct {
	// Driver is "memory", "dir" or "sqlite".
	Driver       string        `toml:"driver"`
	Path         string        `toml:"path"`
	SyncInterval time.Duration `toml:"sync_interval"`
	Quota        ByteSize      `toml:"quota"`
}

// ByteSize accepts either an integer or a human readable size such as
// "4 MiB".
type ByteSize int

func (b *ByteSize) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		*b = ByteSize(v)
	case string:
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", v, err)
		}
		*b = ByteSize(n)
	default:
		return fmt.Errorf("size must be an integer or a string, got %T", v)
	}
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

func Default() *Config {
	return &Config{
		Display: Display{Pixels: 150, Cols: 15, Scale: 24},
		Runner: Runner{
			StepBudget: 10000,
			StackLimit: 1024,
			Tick:       time.Millisecond,
		},
		Server: Server{Listen: ":8080"},
		Storage: Storage{
			Driver:       "dir",
			Path:         "ledvm_programs",
			SyncInterval: 3 * time.Second,
			Quota:        4 << 20,
		},
	}
}

// Load parses path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// LoadIfExists is Load, except that a missing file yields the defaults.
func LoadIfExists(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Display.Pixels <= 0:
		return fmt.Errorf("display.pixels must be positive, got %d", c.Display.Pixels)
	case c.Display.Cols < 0:
		return fmt.Errorf("display.cols must not be negative, got %d", c.Display.Cols)
	case c.Display.Scale <= 0:
		return fmt.Errorf("display.scale must be positive, got %d", c.Display.Scale)
	case c.Runner.StepBudget <= 0:
		return fmt.Errorf("runner.step_budget must be positive, got %d", c.Runner.StepBudget)
	case c.Runner.StackLimit < 0:
		return fmt.Errorf("runner.stack_limit must not be negative, got %d", c.Runner.StackLimit)
	case c.Runner.Tick < 0:
		return fmt.Errorf("runner.tick must not be negative, got %v", c.Runner.Tick)
	case c.Storage.Quota < 0:
		return fmt.Errorf("storage.quota must not be negative, got %d", c.Storage.Quota)
	case c.Storage.SyncInterval <= 0:
		return fmt.Errorf("storage.sync_interval must be positive, got %v", c.Storage.SyncInterval)
	}
	switch c.Storage.Driver {
	case "memory":
	case "dir", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}
