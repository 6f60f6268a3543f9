package ocu

import (
	"fmt"
	"strings"
	"time"
)

// Key is the OCU mode key carried in the last frame byte.
type Key uint8

const (
	KeyNone           Key = 0
	KeyEnable         Key = 1
	KeyResetJoint     Key = 2
	KeyIdleJoint      Key = 3
	KeyStand          Key = 4
	KeyDamp           Key = 12
	KeyDisable        Key = 13
	KeyJointSDK       Key = 23
	KeyIdle           Key = 100
	KeyAct            Key = 106
	KeyStepStart      Key = 107
	KeyStepStop       Key = 108
	KeyReset          Key = 114
	KeyManipulation   Key = 116
	KeyUpperBodyStop  Key = 151
	KeyUpperBodyStart Key = 152
)

var keyNames = map[Key]string{
	KeyNone:           "none",
	KeyEnable:         "en",
	KeyResetJoint:     "rc_jnt",
	KeyIdleJoint:      "idle_jnt",
	KeyStand:          "rl",
	KeyDamp:           "damp",
	KeyDisable:        "dis",
	KeyJointSDK:       "jnt_sdk",
	KeyIdle:           "idle",
	KeyAct:            "act",
	KeyStepStart:      "step_start",
	KeyStepStop:       "step_stop",
	KeyReset:          "rc",
	KeyManipulation:   "mani",
	KeyUpperBodyStop:  "upper_stop",
	KeyUpperBodyStart: "upper_start",
}

func (k Key) String() string {
	if n, ok := keyNames[k]; ok {
		return n
	}
	return fmt.Sprintf("key(%d)", uint8(k))
}

// ParseKey accepts a key name or its number.
func ParseKey(s string) (Key, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range keyNames {
		if n == s {
			return k, nil
		}
	}
	var n uint8
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		return Key(n), nil
	}
	return 0, fmt.Errorf("unknown ocu key %q", s)
}

// ManiEnableSequence brings the robot from any state to external
// manipulation control.
func ManiEnableSequence() []Step {
	return []Step{
		{KeyDisable, 2 * time.Second},
		{KeyEnable, 2 * time.Second},
		{KeyReset, 5 * time.Second},
		{KeyManipulation, 2 * time.Second},
	}
}

// JointEnableSequence brings the robot to standing under joint SDK control.
func JointEnableSequence() []Step {
	return []Step{
		{KeyDisable, 2 * time.Second},
		{KeyEnable, 2 * time.Second},
		{KeyResetJoint, 5 * time.Second},
		{KeyStand, 3 * time.Second},
		{KeyJointSDK, 2 * time.Second},
	}
}

// SequenceByName returns the enable sequence for "mani" or "joint".
func SequenceByName(name string) ([]Step, error) {
	switch strings.ToLower(name) {
	case "mani", "manipulation":
		return ManiEnableSequence(), nil
	case "joint", "jnt":
		return JointEnableSequence(), nil
	default:
		return nil, fmt.Errorf("unknown enable sequence %q", name)
	}
}
