// Package config loads the bridge configuration: built-in defaults, then an
// optional JSON or YAML file, then SKYHAP_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/skyhap/bridge/internal/bridge"
	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/monitoring"
	"github.com/skyhap/bridge/internal/mqtt"
	"github.com/skyhap/bridge/internal/osc"
	"github.com/skyhap/bridge/internal/serialmux"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: SKYHAP_OSC__LISTEN sets osc.listen.
const EnvPrefix = "SKYHAP_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

type Config struct {
	OSC     OSCConfig         `json:"osc"`
	Serial  SerialConfig      `json:"serial"`
	Haptics HapticsConfig     `json:"haptics"`
	Bridge  BridgeConfig      `json:"bridge"`
	Admin   AdminConfig       `json:"admin"`
	MQTT    mqtt.Config       `json:"mqtt"`
	Logging monitoring.Config `json:"logging"`
}

type OSCConfig struct {
	Listen string `json:"listen"`
	// Prefix may be set to "" to accept bare point names.
	Prefix *string `json:"prefix,omitempty"`
	RcvBuf int     `json:"rcv_buf"`
}

// GetPrefix returns the prefix or the default.
func (c OSCConfig) GetPrefix() string {
	if c.Prefix == nil {
		return haptics.DefaultPrefix
	}
	return *c.Prefix
}

type SerialConfig struct {
	Device                string `json:"device"`
	serialmux.PortOptions `json:",squash"`
}

type HapticsConfig struct {
	Wrap  int    `json:"wrap"`
	Ramp  *int   `json:"ramp,omitempty"`
	Curve string `json:"curve"`
	// Points replaces the default R1-R7/L1-L7 map when non-empty.
	Points  map[string]int    `json:"points"`
	Aliases map[string]string `json:"aliases"`
}

// GetRamp returns the ramp or the default.
func (c HapticsConfig) GetRamp() int {
	if c.Ramp == nil {
		return haptics.DefaultRamp
	}
	return *c.Ramp
}

// GetPoints returns the configured point map or the default one.
func (c HapticsConfig) GetPoints() map[string]int {
	if len(c.Points) == 0 {
		return haptics.DefaultPoints()
	}
	return c.Points
}

// Translator builds the immutable translator described by the section.
func (c HapticsConfig) Translator(prefix string) (*haptics.Translator, error) {
	points, err := haptics.NewPointMap(c.GetPoints(), c.Aliases)
	if err != nil {
		return nil, fmt.Errorf("haptics points: %w", err)
	}
	curve, err := haptics.CurveByName(c.Curve, c.Wrap)
	if err != nil {
		return nil, fmt.Errorf("haptics curve: %w", err)
	}
	return haptics.NewTranslator(haptics.EngineConfig{
		Prefix: prefix,
		Ramp:   c.GetRamp(),
		Curve:  curve,
		Points: points,
	})
}

type BridgeConfig struct {
	QueueSize    int   `json:"queue_size"`
	ZeroOnExit   *bool `json:"zero_on_exit,omitempty"`
	ResetOnStart *bool `json:"reset_on_start,omitempty"`
}

// GetZeroOnExit returns the zero_on_exit value or the default.
func (c BridgeConfig) GetZeroOnExit() bool {
	if c.ZeroOnExit == nil {
		return true
	}
	return *c.ZeroOnExit
}

// GetResetOnStart returns the reset_on_start value or the default.
func (c BridgeConfig) GetResetOnStart() bool {
	if c.ResetOnStart == nil {
		return true
	}
	return *c.ResetOnStart
}

type AdminConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Listen  string `json:"listen"`
}

// GetEnabled returns the enabled value or the default.
func (c AdminConfig) GetEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset values. Pointer fields stay nil and resolve through
// their Get accessors.
func (c *Config) SetDefaults() {
	if c.OSC.Listen == "" {
		c.OSC.Listen = osc.DefaultListenAddress
	}
	if c.Haptics.Wrap == 0 {
		c.Haptics.Wrap = haptics.DefaultWrap
	}
	if c.Haptics.Curve == "" {
		c.Haptics.Curve = "cubic"
	}
	if c.Bridge.QueueSize == 0 {
		c.Bridge.QueueSize = bridge.DefaultQueueSize
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "localhost:9080"
	}
	if c.MQTT.Enabled {
		c.MQTT.SetDefaults()
	}
	c.Logging.SetDefaults()
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.OSC.Listen); err != nil {
		return fmt.Errorf("invalid osc.listen %q: %w", c.OSC.Listen, err)
	}
	if c.OSC.RcvBuf < 0 {
		return fmt.Errorf("osc.rcv_buf must be non-negative, got %d", c.OSC.RcvBuf)
	}
	if _, err := c.Serial.PortOptions.Normalise(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Haptics.Wrap <= 0 {
		return fmt.Errorf("haptics.wrap must be positive, got %d", c.Haptics.Wrap)
	}
	if r := c.Haptics.GetRamp(); r < 0 {
		return fmt.Errorf("haptics.ramp must be non-negative, got %d", r)
	}
	if _, err := c.Haptics.Translator(c.OSC.GetPrefix()); err != nil {
		return err
	}
	if c.Bridge.QueueSize < 0 {
		return fmt.Errorf("bridge.queue_size must be non-negative, got %d", c.Bridge.QueueSize)
	}
	if c.Admin.GetEnabled() {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			return fmt.Errorf("invalid admin.listen %q: %w", c.Admin.Listen, err)
		}
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Load reads the file at path, when path is not empty, applies environment
// overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := checkFile(path); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q: expected .json, .yaml or .yml", ext)
	}
}

func checkFile(path string) error {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return errors.New("config path is a directory")
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	return nil
}
