// Package config loads the daemon configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fadcrypt/fadcrypt/internal/constants"
)

const (
	TrustAny    = "any"
	TrustUID    = "uid"
	TrustPolkit = "polkit"

	DefaultPolkitAction = "org.fadcrypt.daemon.manage"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a TOML string ("30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type TrustConfig struct {
	Mode         string   `toml:"mode"`
	AllowedUIDs  []uint32 `toml:"allowed_uids"`
	PolkitAction string   `toml:"polkit_action"`
}

type Config struct {
	ControlSocket      string      `toml:"control_socket"`
	DecisionSocket     string      `toml:"decision_socket"`
	LockFile           string      `toml:"lock_file"`
	LogFile            string      `toml:"log_file"`
	LogLevel           string      `toml:"log_level"`
	HelperTimeout      Duration    `toml:"helper_timeout"`
	DecisionTimeout    Duration    `toml:"decision_timeout"`
	MonitorStopTimeout Duration    `toml:"monitor_stop_timeout"`
	MaxFrameSize       int         `toml:"max_frame_size"`
	ImmutableMethod    string      `toml:"immutable_method"`
	ChattrPath         string      `toml:"chattr_path"`
	MetricsListen      string      `toml:"metrics_listen"`
	MonitorExempt      []string    `toml:"monitor_exempt"`
	Trust              TrustConfig `toml:"trust"`
}

// Load reads path. A missing file is created with the defaults; keys absent
// from an existing file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := saveToDisk(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		ControlSocket:      constants.ControlSocketPath,
		DecisionSocket:     constants.DecisionSocketPath,
		LockFile:           constants.LockFilePath,
		LogFile:            constants.LogFilePath,
		LogLevel:           "info",
		HelperTimeout:      Duration{constants.DefaultHelperTimeout},
		DecisionTimeout:    Duration{constants.DefaultDecisionTimeout},
		MonitorStopTimeout: Duration{constants.DefaultMonitorStopTimeout},
		MaxFrameSize:       constants.DefaultMaxFrameSize,
		ImmutableMethod:    "chattr",
		ChattrPath:         "chattr",
		Trust: TrustConfig{
			Mode:         TrustAny,
			PolkitAction: DefaultPolkitAction,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.ControlSocket == "" {
		errs = append(errs, errors.New("control_socket is empty"))
	}
	if c.DecisionSocket == "" {
		errs = append(errs, errors.New("decision_socket is empty"))
	}
	for name, d := range map[string]Duration{
		"helper_timeout":       c.HelperTimeout,
		"decision_timeout":     c.DecisionTimeout,
		"monitor_stop_timeout": c.MonitorStopTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, errors.New("max_frame_size must be positive"))
	}
	if !slices.Contains([]string{"chattr", "ioctl"}, c.ImmutableMethod) {
		errs = append(errs, fmt.Errorf("immutable_method %q is not chattr or ioctl", c.ImmutableMethod))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch c.Trust.Mode {
	case TrustAny:
	case TrustUID:
		if len(c.Trust.AllowedUIDs) == 0 {
			errs = append(errs, errors.New("trust mode uid needs allowed_uids"))
		}
	case TrustPolkit:
		if c.Trust.PolkitAction == "" {
			errs = append(errs, errors.New("trust mode polkit needs polkit_action"))
		}
	default:
		errs = append(errs, fmt.Errorf("trust mode %q is not any, uid or polkit", c.Trust.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func saveToDisk(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
