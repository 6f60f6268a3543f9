// Package frame implements the fixed-layout binary frames exchanged with the
// Loong actuation SDK over UDP.
//
// Every frame size and field offset is a pure function of a ChannelConfig.
// A Layout is derived once per channel and shared by the encoder and the
// decoder, so both directions always agree on where a field lives.
package frame

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedFrame = errors.New("frame: truncated frame")
	ErrMalformedField = errors.New("frame: malformed field")
	ErrShapeMismatch  = errors.New("frame: array length does not match channel config")
	ErrInvalidConfig  = errors.New("frame: invalid channel config")
)

// MaxJoints is the largest joint vector the joint SDK accepts.
const MaxJoints = 31

// Kind selects which command/sensor layout a channel speaks.
type Kind uint8

const (
	KindJoint Kind = iota + 1
	KindManipulation
)

func (k Kind) String() string {
	switch k {
	case KindJoint:
		return "joint"
	case KindManipulation:
		return "manipulation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "joint", "jnt":
		return KindJoint, nil
	case "manipulation", "mani":
		return KindManipulation, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, s)
	}
}

// ChannelConfig holds the DOF counts that shape one channel's frames.
type ChannelConfig struct {
	Kind        Kind
	Joints      int
	FingerLeft  int
	FingerRight int
	ArmDOF      int
	NeckDOF     int
	LumbarDOF   int
}

// Validate reports whether the config describes a layout the SDK can speak.
func (c ChannelConfig) Validate() error {
	if c.Kind != KindJoint && c.Kind != KindManipulation {
		return fmt.Errorf("%w: kind %v", ErrInvalidConfig, c.Kind)
	}
	if c.Joints <= 0 {
		return fmt.Errorf("%w: joints must be positive, got %d", ErrInvalidConfig, c.Joints)
	}
	if c.Kind == KindJoint && c.Joints > MaxJoints {
		return fmt.Errorf("%w: joint channel supports at most %d joints, got %d", ErrInvalidConfig, MaxJoints, c.Joints)
	}
	for name, v := range map[string]int{
		"finger_left":  c.FingerLeft,
		"finger_right": c.FingerRight,
		"arm":          c.ArmDOF,
		"neck":         c.NeckDOF,
		"lumbar":       c.LumbarDOF,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s dof is negative (%d)", ErrInvalidConfig, name, v)
		}
	}
	return nil
}
