// Package config provides configuration management for the Godot debugger
// bridge.
//
// Configuration controls:
//   - Capability mode (readonly vs full): determines which tools are available
//   - Permission flags: control launch, attach and execution control
//   - Engine settings: the godot executable and the debugger listen address
//   - Safety limits: maximum sessions and session timeout
//
// Configuration is read with viper from a JSON, YAML or TOML file, and any
// key can be overridden from the environment with the GODOT_DAP_ prefix
// (engine.port becomes GODOT_DAP_ENGINE_PORT).
package config

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "GODOT_DAP"

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Only inspection tools
	ModeFull     CapabilityMode = "full"     // All tools enabled
)

// Config holds the server configuration
type Config struct {
	// Capability levels
	Mode         CapabilityMode `json:"mode" mapstructure:"mode"`
	AllowSpawn   bool           `json:"allowSpawn" mapstructure:"allowSpawn"`
	AllowAttach  bool           `json:"allowAttach" mapstructure:"allowAttach"`
	AllowExecute bool           `json:"allowExecute" mapstructure:"allowExecute"`

	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Limits for safety
	MaxSessions    int           `json:"maxSessions" mapstructure:"maxSessions"`
	SessionTimeout time.Duration `json:"sessionTimeout" mapstructure:"sessionTimeout"`

	LogLevel string `json:"logLevel" mapstructure:"logLevel"`
}

// EngineConfig holds settings for running and talking to the game.
type EngineConfig struct {
	Path           string        `json:"path" mapstructure:"path"` // godot 3.x executable
	Address        string        `json:"address" mapstructure:"address"`
	Port           int           `json:"port" mapstructure:"port"`
	ConnectTimeout time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	InspectTimeout time.Duration `json:"inspectTimeout" mapstructure:"inspectTimeout"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"requestTimeout"`
	WriteHighWater int           `json:"writeHighWater" mapstructure:"writeHighWater"` // bytes queued before the sender holds back
}

// findGodot searches for a godot 3 executable in common locations
func findGodot() string {
	for _, name := range []string{"godot3", "godot", "Godot"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	var locations []string
	switch runtime.GOOS {
	case "darwin":
		locations = []string{
			"/Applications/Godot.app/Contents/MacOS/Godot",
			"/opt/homebrew/bin/godot",
		}
	case "linux":
		locations = []string{
			"/usr/bin/godot3",
			"/usr/local/bin/godot3",
			"/var/lib/flatpak/exports/bin/org.godotengine.Godot3",
		}
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Fall back to default name (will fail if not in PATH, but provides clear error)
	return "godot"
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeFull,
		AllowSpawn:   true,
		AllowAttach:  true,
		AllowExecute: true,
		Engine: EngineConfig{
			Path:           findGodot(),
			Address:        "127.0.0.1",
			Port:           6007,
			ConnectTimeout: 30 * time.Second,
			InspectTimeout: 3 * time.Second,
			RequestTimeout: 10 * time.Second,
			WriteHighWater: 64 << 10,
		},
		MaxSessions:    10,
		SessionTimeout: 30 * time.Minute,
		LogLevel:       "info",
	}
}

// FlagKeys maps command line flag names to the configuration keys they
// override.
var FlagKeys = map[string]string{
	"mode":      "mode",
	"log-level": "logLevel",
	"godot":     "engine.path",
	"port":      "engine.port",
}

// LoadConfig loads configuration from path, or from defaults and the
// environment alone when path is empty. The file format follows the
// extension.
func LoadConfig(path string) (*Config, error) {
	return Load(path, nil)
}

// Load is LoadConfig with the flags named in FlagKeys taking precedence
// over the file and the environment. Flags the user did not set change
// nothing.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("allowSpawn", d.AllowSpawn)
	v.SetDefault("allowAttach", d.AllowAttach)
	v.SetDefault("allowExecute", d.AllowExecute)
	v.SetDefault("engine.path", d.Engine.Path)
	v.SetDefault("engine.address", d.Engine.Address)
	v.SetDefault("engine.port", d.Engine.Port)
	v.SetDefault("engine.connectTimeout", d.Engine.ConnectTimeout)
	v.SetDefault("engine.inspectTimeout", d.Engine.InspectTimeout)
	v.SetDefault("engine.requestTimeout", d.Engine.RequestTimeout)
	v.SetDefault("engine.writeHighWater", d.Engine.WriteHighWater)
	v.SetDefault("maxSessions", d.MaxSessions)
	v.SetDefault("sessionTimeout", d.SessionTimeout)
	v.SetDefault("logLevel", d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeReadOnly, ModeFull:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeReadOnly, ModeFull, c.Mode)
	}
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port %d is out of range", c.Engine.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("maxSessions must be at least 1, got %d", c.MaxSessions)
	}
	return nil
}

// CanUseControlTools returns true if control tools are enabled
func (c *Config) CanUseControlTools() bool {
	return c.Mode == ModeFull
}

// CanSpawn returns true if launching games is allowed
func (c *Config) CanSpawn() bool {
	return c.AllowSpawn
}

// CanAttach returns true if waiting for a game to connect is allowed
func (c *Config) CanAttach() bool {
	return c.AllowAttach
}

// CanExecute returns true if continue, step and pause are allowed
func (c *Config) CanExecute() bool {
	return c.Mode == ModeFull && c.AllowExecute
}
