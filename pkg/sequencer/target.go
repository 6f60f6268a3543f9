package sequencer

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gwillem/loong/pkg/frame"
)

// Target is the set of command fields a request asks for. Absent fields keep
// their current value. Arrays shorter than the channel DOF are zero-padded;
// longer ones are rejected.
type Target struct {
	ArmCmd      [][]float32 `json:"arm_cmd,omitempty"`
	ArmFM       [][]float32 `json:"arm_fm,omitempty"`
	FingerLeft  []float32   `json:"finger_left,omitempty"`
	FingerRight []float32   `json:"finger_right,omitempty"`
	Neck        []float32   `json:"neck_cmd,omitempty"`
	Lumbar      []float32   `json:"lumbar_cmd,omitempty"`

	JointAngles []float32 `json:"joint_angles,omitempty"`
	Kp          []float32 `json:"kp,omitempty"`
	Kd          []float32 `json:"kd,omitempty"`

	InCharge    *int16 `json:"in_charge,omitempty"`
	FilterLevel *int16 `json:"filt_level,omitempty"`
	ArmMode     *int16 `json:"arm_mode,omitempty"`
	FingerMode  *int16 `json:"finger_mode,omitempty"`
	NeckMode    *int16 `json:"neck_mode,omitempty"`
	LumbarMode  *int16 `json:"lumbar_mode,omitempty"`

	State           *int32   `json:"state,omitempty"`
	TorqueLimitRate *float32 `json:"tor_limit_rate,omitempty"`
	FilterRate      *float32 `json:"filt_rate,omitempty"`
}

// ParseTarget decodes a JSON target object. Unknown keys are ignored so the
// action envelope can be passed as-is.
func ParseTarget(raw []byte) (Target, error) {
	var t Target
	if len(raw) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return t, nil
}

// Apply writes the target into cmd. cmd is left untouched on error.
func (t Target) Apply(cfg frame.ChannelConfig, cmd *frame.Command) error {
	if err := t.validate(cfg); err != nil {
		return err
	}
	if len(t.ArmCmd) > 0 {
		fill(cmd.ArmLeft, t.ArmCmd[0])
		if len(t.ArmCmd) > 1 {
			fill(cmd.ArmRight, t.ArmCmd[1])
		}
	}
	if len(t.ArmFM) > 0 {
		fill(cmd.ArmFMLeft, t.ArmFM[0])
		if len(t.ArmFM) > 1 {
			fill(cmd.ArmFMRight, t.ArmFM[1])
		}
	}
	if t.FingerLeft != nil {
		fill(cmd.FingerLeft, t.FingerLeft)
	}
	if t.FingerRight != nil {
		fill(cmd.FingerRight, t.FingerRight)
	}
	if t.Neck != nil {
		fill(cmd.Neck, t.Neck)
	}
	if t.Lumbar != nil {
		fill(cmd.Lumbar, t.Lumbar)
	}
	if t.JointAngles != nil {
		fill(cmd.J, t.JointAngles)
	}
	if t.Kp != nil {
		fill(cmd.Kp, t.Kp)
	}
	if t.Kd != nil {
		fill(cmd.Kd, t.Kd)
	}

	setI16(&cmd.InCharge, t.InCharge)
	setI16(&cmd.FilterLevel, t.FilterLevel)
	setI16(&cmd.ArmMode, t.ArmMode)
	setI16(&cmd.FingerMode, t.FingerMode)
	setI16(&cmd.NeckMode, t.NeckMode)
	setI16(&cmd.LumbarMode, t.LumbarMode)
	if t.State != nil {
		cmd.State = *t.State
	}
	if t.TorqueLimitRate != nil {
		cmd.TorqueLimitRate = *t.TorqueLimitRate
	}
	if t.FilterRate != nil {
		cmd.FilterRate = *t.FilterRate
	}
	return nil
}

// HasArms reports whether the target moves the arms.
func (t Target) HasArms() bool {
	return len(t.ArmCmd) > 0 || t.JointAngles != nil
}

func (t Target) validate(cfg frame.ChannelConfig) error {
	mani := cfg.Kind == frame.KindManipulation
	type check struct {
		name    string
		v       []float32
		max     int
		allowed bool
	}
	checks := []check{
		{"finger_left", t.FingerLeft, cfg.FingerLeft, true},
		{"finger_right", t.FingerRight, cfg.FingerRight, true},
		{"neck_cmd", t.Neck, cfg.NeckDOF, mani},
		{"lumbar_cmd", t.Lumbar, cfg.LumbarDOF, mani},
		{"joint_angles", t.JointAngles, cfg.Joints, !mani},
		{"kp", t.Kp, cfg.Joints, !mani},
		{"kd", t.Kd, cfg.Joints, !mani},
	}
	for _, rows := range []struct {
		name string
		v    [][]float32
		max  int
	}{
		{"arm_cmd", t.ArmCmd, cfg.ArmDOF},
		{"arm_fm", t.ArmFM, 6},
	} {
		if rows.v == nil {
			continue
		}
		if len(rows.v) > 2 {
			return fmt.Errorf("%w: %s has %d rows, want at most 2", ErrInvalidTarget, rows.name, len(rows.v))
		}
		for i, r := range rows.v {
			checks = append(checks, check{fmt.Sprintf("%s[%d]", rows.name, i), r, rows.max, mani})
		}
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if !c.allowed {
			return fmt.Errorf("%w: %s does not apply to a %s channel", ErrInvalidTarget, c.name, cfg.Kind)
		}
		if len(c.v) > c.max {
			return fmt.Errorf("%w: %s has %d values, channel has %d", ErrInvalidTarget, c.name, len(c.v), c.max)
		}
		for _, x := range c.v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fmt.Errorf("%w: %s contains %v", ErrInvalidTarget, c.name, x)
			}
		}
	}
	if !mani && (t.InCharge != nil || t.FilterLevel != nil || t.ArmMode != nil ||
		t.FingerMode != nil || t.NeckMode != nil || t.LumbarMode != nil) {
		return fmt.Errorf("%w: mode selectors do not apply to a joint channel", ErrInvalidTarget)
	}
	if mani && (t.State != nil || t.TorqueLimitRate != nil || t.FilterRate != nil) {
		return fmt.Errorf("%w: joint header fields do not apply to a manipulation channel", ErrInvalidTarget)
	}
	return nil
}

// fill copies src into dst and zeroes the rest of dst.
func fill(dst, src []float32) {
	n := copy(dst, src)
	clear(dst[n:])
}

func setI16(dst *int16, v *int16) {
	if v != nil {
		*dst = *v
	}
}
