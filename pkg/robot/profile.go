package robot

import (
	"fmt"
	"sort"

	"github.com/gwillem/loong/pkg/frame"
)

// Modes are the header values written into every command frame of a
// channel. They are passed through to the actuator unvalidated.
type Modes struct {
	InCharge    int16 `toml:"in_charge" yaml:"in_charge"`
	FilterLevel int16 `toml:"filter_level" yaml:"filter_level"`
	ArmMode     int16 `toml:"arm_mode" yaml:"arm_mode"`
	FingerMode  int16 `toml:"finger_mode" yaml:"finger_mode"`
	NeckMode    int16 `toml:"neck_mode" yaml:"neck_mode"`
	LumbarMode  int16 `toml:"lumbar_mode" yaml:"lumbar_mode"`

	State           int32   `toml:"state" yaml:"state"`
	TorqueLimitRate float32 `toml:"torque_limit_rate" yaml:"torque_limit_rate"`
	FilterRate      float32 `toml:"filter_rate" yaml:"filter_rate"`
}

// Apply writes the header fields relevant to cmd's channel kind.
func (m Modes) Apply(kind frame.Kind, cmd *frame.Command) {
	switch kind {
	case frame.KindManipulation:
		cmd.InCharge = m.InCharge
		cmd.FilterLevel = m.FilterLevel
		cmd.ArmMode = m.ArmMode
		cmd.FingerMode = m.FingerMode
		cmd.NeckMode = m.NeckMode
		cmd.LumbarMode = m.LumbarMode
	case frame.KindJoint:
		cmd.State = m.State
		cmd.TorqueLimitRate = m.TorqueLimitRate
		cmd.FilterRate = m.FilterRate
	}
}

// Profile is a named channel shape with the defaults it starts from.
type Profile struct {
	Name    string
	Channel frame.ChannelConfig
	Remote  string
	Modes   Modes
	Kp, Kd  Pose
}

// ManiProfile is the manipulation SDK channel of the full-body simulator.
func ManiProfile() Profile {
	return Profile{
		Name: "mani",
		Channel: frame.ChannelConfig{
			Kind:        frame.KindManipulation,
			Joints:      19,
			FingerLeft:  6,
			FingerRight: 6,
			ArmDOF:      7,
			NeckDOF:     2,
			LumbarDOF:   3,
		},
		Remote: "127.0.0.1:8003",
		Modes: Modes{
			InCharge:    1,
			FilterLevel: 1,
			ArmMode:     4,
			FingerMode:  3,
			NeckMode:    5,
		},
	}
}

// ManiCompactProfile is the manipulation channel of the upper-body rig: three
// fingers per hand and a single lumbar joint.
func ManiCompactProfile() Profile {
	return Profile{
		Name: "mani-compact",
		Channel: frame.ChannelConfig{
			Kind:        frame.KindManipulation,
			Joints:      12,
			FingerLeft:  3,
			FingerRight: 3,
			ArmDOF:      7,
			NeckDOF:     2,
			LumbarDOF:   1,
		},
		Remote: "127.0.0.1:8080",
		Modes: Modes{
			InCharge:    1,
			FilterLevel: 2,
			NeckMode:    5,
		},
	}
}

// JointProfile is the 31-joint SDK channel.
func JointProfile() Profile {
	return Profile{
		Name: "joint",
		Channel: frame.ChannelConfig{
			Kind:        frame.KindJoint,
			Joints:      31,
			FingerLeft:  6,
			FingerRight: 6,
			ArmDOF:      7,
			NeckDOF:     2,
			LumbarDOF:   3,
		},
		Remote: "127.0.0.1:8006",
		Modes: Modes{
			State:           1,
			TorqueLimitRate: 0.2,
			FilterRate:      0.05,
		},
		Kp: Pose{
			10, 10, 10, 10, 10, 10, 10,
			10, 10, 10, 10, 10, 10, 10,
			10, 10, 10, 10, 10,
			500, 400, 500, 500, 200, 200,
			500, 400, 500, 500, 200, 200,
		},
		Kd: Pose{
			0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1,
			0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1,
			0.1, 0.1, 0.1, 0.1, 0.1,
			1, 1, 2, 2, 1, 1,
			1, 1, 2, 2, 1, 1,
		},
	}
}

var profiles = map[string]func() Profile{
	"mani":         ManiProfile,
	"mani-compact": ManiCompactProfile,
	"joint":        JointProfile,
}

// ProfileByName looks up a built-in profile.
func ProfileByName(name string) (Profile, error) {
	fn, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (known: %v)", name, ProfileNames())
	}
	return fn(), nil
}

// ProfileNames lists the built-in profiles, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InitialCommand is the command a channel sends before any action: modes
// applied, arms at home, joints at the standing posture with the profile
// gains, fingers open.
func InitialCommand(cfg frame.ChannelConfig, modes Modes, kp, kd Pose) frame.Command {
	cmd := frame.NewCommand(cfg)
	modes.Apply(cfg.Kind, &cmd)
	switch cfg.Kind {
	case frame.KindManipulation:
		copy(cmd.ArmLeft, HomeArmLeft)
		copy(cmd.ArmRight, HomeArmRight)
	case frame.KindJoint:
		copy(cmd.J, StandJoints)
		copy(cmd.Kp, kp)
		copy(cmd.Kd, kd)
	}
	return cmd
}
