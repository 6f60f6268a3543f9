package robot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/logging"
	"gopkg.in/yaml.v2"
)

const DefaultConfigFile = "loong.toml"

var ErrInvalidConfig = errors.New("robot: invalid config")

// Config holds the loong configuration.
type Config struct {
	Logging  logging.Config  `toml:"logging" yaml:"logging"`
	Admin    AdminConfig     `toml:"admin" yaml:"admin"`
	Bus      BusConfig       `toml:"bus" yaml:"bus"`
	OCU      OCUConfig       `toml:"ocu" yaml:"ocu"`
	Channels []ChannelConfig `toml:"channels" yaml:"channels"`
}

// AdminConfig configures the HTTP admin server that also hosts the bus.
type AdminConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Addr        string   `toml:"addr" yaml:"addr"`
	CORSOrigins []string `toml:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// BusConfig is where clients such as `loong send` reach the bus hub.
type BusConfig struct {
	URL string `toml:"url" yaml:"url"`
}

// OCUConfig configures the operator control unit key channel.
type OCUConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Local      string `toml:"local" yaml:"local"`
	Remote     string `toml:"remote" yaml:"remote"`
	IntervalMS int    `toml:"interval_ms" yaml:"interval_ms"`
	// Sequence is the enable procedure run by `loong run --enable`: mani or joint.
	Sequence string `toml:"sequence" yaml:"sequence"`
}

// Interval is the key resend period.
func (o OCUConfig) Interval() time.Duration {
	return time.Duration(o.IntervalMS) * time.Millisecond
}

// ChannelConfig configures one command/feedback channel.
type ChannelConfig struct {
	Name             string `toml:"name" yaml:"name"`
	Profile          string `toml:"profile" yaml:"profile"`
	Kind             string `toml:"kind,omitempty" yaml:"kind,omitempty"`
	Local            string `toml:"local" yaml:"local"`
	Remote           string `toml:"remote" yaml:"remote"`
	Hz               int    `toml:"hz" yaml:"hz"`
	ReceiveTimeoutMS int    `toml:"receive_timeout_ms,omitempty" yaml:"receive_timeout_ms,omitempty"`
	Input            string `toml:"input" yaml:"input"`
	Output           string `toml:"output" yaml:"output"`

	DOF     DOFConfig     `toml:"dof,omitempty" yaml:"dof,omitempty"`
	Modes   *Modes        `toml:"modes,omitempty" yaml:"modes,omitempty"`
	Actions ActionsConfig `toml:"actions,omitempty" yaml:"actions,omitempty"`
}

// DOFConfig overrides the profile's DOF counts. Zero keeps the profile value.
type DOFConfig struct {
	Joints      int `toml:"joints,omitempty" yaml:"joints,omitempty"`
	FingerLeft  int `toml:"finger_left,omitempty" yaml:"finger_left,omitempty"`
	FingerRight int `toml:"finger_right,omitempty" yaml:"finger_right,omitempty"`
	Arm         int `toml:"arm,omitempty" yaml:"arm,omitempty"`
	Neck        int `toml:"neck,omitempty" yaml:"neck,omitempty"`
	Lumbar      int `toml:"lumbar,omitempty" yaml:"lumbar,omitempty"`
}

// ActionsConfig tunes the sequencer. Zero values select the built-in
// defaults.
type ActionsConfig struct {
	GrabFinger       float32   `toml:"grab_finger,omitempty" yaml:"grab_finger,omitempty"`
	GrabThreshold    float32   `toml:"grab_threshold,omitempty" yaml:"grab_threshold,omitempty"`
	GrabArmLeft      []float32 `toml:"grab_arm_left,omitempty" yaml:"grab_arm_left,omitempty"`
	GrabArmRight     []float32 `toml:"grab_arm_right,omitempty" yaml:"grab_arm_right,omitempty"`
	HomeArmLeft      []float32 `toml:"home_arm_left,omitempty" yaml:"home_arm_left,omitempty"`
	HomeArmRight     []float32 `toml:"home_arm_right,omitempty" yaml:"home_arm_right,omitempty"`
	HomeJoints       []float32 `toml:"home_joints,omitempty" yaml:"home_joints,omitempty"`
	HomeJointOffset  int       `toml:"home_joint_offset,omitempty" yaml:"home_joint_offset,omitempty"`
	ReturnTolerance  float32   `toml:"return_tolerance,omitempty" yaml:"return_tolerance,omitempty"`
	BudgetCycles     int       `toml:"budget_cycles,omitempty" yaml:"budget_cycles,omitempty"`
	CustomCycles     int       `toml:"custom_cycles,omitempty" yaml:"custom_cycles,omitempty"`
	CustomCompletion string    `toml:"custom_completion,omitempty" yaml:"custom_completion,omitempty"`
}

// ReceiveTimeout is the per-cycle receive timeout; zero lets the control
// loop pick one.
func (c ChannelConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMS) * time.Millisecond
}

// Resolve merges the channel over its profile and returns the frame shape,
// modes and gains the channel runs with.
func (c ChannelConfig) Resolve() (Profile, error) {
	p := Profile{Name: c.Name}
	if c.Profile != "" {
		var err error
		if p, err = ProfileByName(c.Profile); err != nil {
			return Profile{}, fmt.Errorf("%w: channel %q: %v", ErrInvalidConfig, c.Name, err)
		}
	}
	if c.Kind != "" {
		kind, err := frame.ParseKind(c.Kind)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: channel %q: %v", ErrInvalidConfig, c.Name, err)
		}
		p.Channel.Kind = kind
	}
	override(&p.Channel.Joints, c.DOF.Joints)
	override(&p.Channel.FingerLeft, c.DOF.FingerLeft)
	override(&p.Channel.FingerRight, c.DOF.FingerRight)
	override(&p.Channel.ArmDOF, c.DOF.Arm)
	override(&p.Channel.NeckDOF, c.DOF.Neck)
	override(&p.Channel.LumbarDOF, c.DOF.Lumbar)
	if c.Modes != nil {
		p.Modes = *c.Modes
	}
	if c.Remote != "" {
		p.Remote = c.Remote
	}
	if err := p.Channel.Validate(); err != nil {
		return Profile{}, fmt.Errorf("channel %q: %w", c.Name, err)
	}
	return p, nil
}

func override(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// DefaultConfig is what `loong setup` starts from.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8090",
		},
		Bus: BusConfig{URL: "ws://127.0.0.1:8090/bus"},
		OCU: OCUConfig{
			Remote:     "127.0.0.1:8000",
			IntervalMS: 500,
			Sequence:   "mani",
		},
		Channels: []ChannelConfig{
			{
				Name:    "mani",
				Profile: "mani",
				Local:   "0.0.0.0:0",
				Remote:  "127.0.0.1:8003",
				Hz:      50,
				Input:   "mani_command",
				Output:  "mani_status",
			},
			{
				Name:    "joint",
				Profile: "joint",
				Local:   "0.0.0.0:0",
				Remote:  "127.0.0.1:8006",
				Hz:      50,
				Input:   "joint_command",
				Output:  "joint_status",
			},
		},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = def.Admin.Addr
	}
	if c.Bus.URL == "" {
		c.Bus.URL = "ws://" + c.Admin.Addr + "/bus"
	}
	if c.OCU.IntervalMS <= 0 {
		c.OCU.IntervalMS = def.OCU.IntervalMS
	}
	if c.OCU.Remote == "" {
		c.OCU.Remote = def.OCU.Remote
	}
	if c.OCU.Sequence == "" {
		c.OCU.Sequence = def.OCU.Sequence
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Profile == "" && ch.Kind == "" {
			ch.Profile = ch.Name
		}
		if ch.Hz <= 0 {
			ch.Hz = 50
		}
		if ch.Input == "" {
			ch.Input = ch.Name + "_command"
		}
		if ch.Output == "" {
			ch.Output = ch.Name + "_status"
		}
	}
}

// Channel returns the channel called name.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// ValidateConfig checks the whole file after defaults were applied.
func ValidateConfig(c *Config) error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels configured", ErrInvalidConfig)
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("%w: logging level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.OCU.Sequence {
	case "mani", "joint":
	default:
		return fmt.Errorf("%w: ocu sequence must be mani or joint, got %q", ErrInvalidConfig, c.OCU.Sequence)
	}
	names := map[string]bool{}
	inputs := map[string]bool{}
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("%w: channel[%d] missing name", ErrInvalidConfig, i)
		}
		if names[ch.Name] {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidConfig, ch.Name)
		}
		names[ch.Name] = true
		if inputs[ch.Input] {
			return fmt.Errorf("%w: channel %q reuses input %q", ErrInvalidConfig, ch.Name, ch.Input)
		}
		inputs[ch.Input] = true
		if ch.Hz > 1000 {
			return fmt.Errorf("%w: channel %q hz %d exceeds 1000", ErrInvalidConfig, ch.Name, ch.Hz)
		}
		switch ch.Actions.CustomCompletion {
		case "", "cycles", "feedback":
		default:
			return fmt.Errorf("%w: channel %q custom_completion %q", ErrInvalidConfig, ch.Name, ch.Actions.CustomCompletion)
		}
		if _, err := ch.Resolve(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfigFrom loads a TOML or, by extension, YAML config file. Unknown
// keys are rejected.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg Config
	if isYAML(path) {
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	} else {
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown keys in %s: %v", ErrInvalidConfig, path, undecoded)
		}
	}
	cfg.applyDefaults()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveTo writes TOML, or YAML when path ends in .yaml/.yml.
func (c *Config) SaveTo(path string) error {
	var data []byte
	if isYAML(path) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
