package frame

import (
	"fmt"
	"slices"
)

// JointChecker is the magic value the joint SDK expects at the head of every
// command frame.
const JointChecker int16 = 3480

// Command is one outbound command record. Manipulation channels use the mode
// selectors and the arm/neck/lumbar arrays; joint channels use the checker
// header and the per-joint J/W/T/Kp/Kd vectors. Both carry finger targets.
type Command struct {
	// manipulation header
	InCharge    int16
	FilterLevel int16
	ArmMode     int16
	FingerMode  int16
	NeckMode    int16
	LumbarMode  int16

	ArmLeft    []float32
	ArmRight   []float32
	ArmFMLeft  []float32
	ArmFMRight []float32
	Neck       []float32
	Lumbar     []float32

	// joint header
	Checker         int16
	State           int32
	TorqueLimitRate float32
	FilterRate      float32

	J, W, T []float32
	Kp, Kd  []float32

	FingerLeft  []float32
	FingerRight []float32
}

// NewCommand returns a zero-filled command whose arrays match cfg exactly.
func NewCommand(cfg ChannelConfig) Command {
	c := Command{
		FingerLeft:  make([]float32, cfg.FingerLeft),
		FingerRight: make([]float32, cfg.FingerRight),
	}
	switch cfg.Kind {
	case KindManipulation:
		c.ArmLeft = make([]float32, cfg.ArmDOF)
		c.ArmRight = make([]float32, cfg.ArmDOF)
		c.ArmFMLeft = make([]float32, tipDOF)
		c.ArmFMRight = make([]float32, tipDOF)
		c.Neck = make([]float32, cfg.NeckDOF)
		c.Lumbar = make([]float32, cfg.LumbarDOF)
	case KindJoint:
		c.Checker = JointChecker
		c.J = make([]float32, cfg.Joints)
		c.W = make([]float32, cfg.Joints)
		c.T = make([]float32, cfg.Joints)
		c.Kp = make([]float32, cfg.Joints)
		c.Kd = make([]float32, cfg.Joints)
	}
	return c
}

// Clone deep-copies every array so the result shares no memory with c.
func (c Command) Clone() Command {
	out := c
	out.ArmLeft = slices.Clone(c.ArmLeft)
	out.ArmRight = slices.Clone(c.ArmRight)
	out.ArmFMLeft = slices.Clone(c.ArmFMLeft)
	out.ArmFMRight = slices.Clone(c.ArmFMRight)
	out.Neck = slices.Clone(c.Neck)
	out.Lumbar = slices.Clone(c.Lumbar)
	out.J = slices.Clone(c.J)
	out.W = slices.Clone(c.W)
	out.T = slices.Clone(c.T)
	out.Kp = slices.Clone(c.Kp)
	out.Kd = slices.Clone(c.Kd)
	out.FingerLeft = slices.Clone(c.FingerLeft)
	out.FingerRight = slices.Clone(c.FingerRight)
	return out
}

// CheckShape reports ErrShapeMismatch when any array the channel encodes has
// a length other than the one cfg implies.
func (c Command) CheckShape(cfg ChannelConfig) error {
	type field struct {
		name string
		got  int
		want int
	}
	fields := []field{
		{"finger_left", len(c.FingerLeft), cfg.FingerLeft},
		{"finger_right", len(c.FingerRight), cfg.FingerRight},
	}
	switch cfg.Kind {
	case KindManipulation:
		fields = append(fields,
			field{"arm_left", len(c.ArmLeft), cfg.ArmDOF},
			field{"arm_right", len(c.ArmRight), cfg.ArmDOF},
			field{"arm_fm_left", len(c.ArmFMLeft), tipDOF},
			field{"arm_fm_right", len(c.ArmFMRight), tipDOF},
			field{"neck", len(c.Neck), cfg.NeckDOF},
			field{"lumbar", len(c.Lumbar), cfg.LumbarDOF},
		)
	case KindJoint:
		fields = append(fields,
			field{"j", len(c.J), cfg.Joints},
			field{"w", len(c.W), cfg.Joints},
			field{"t", len(c.T), cfg.Joints},
			field{"kp", len(c.Kp), cfg.Joints},
			field{"kd", len(c.Kd), cfg.Joints},
		)
	}
	for _, f := range fields {
		if f.got != f.want {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, f.name, f.got, f.want)
		}
	}
	return nil
}

// Sensor is one decoded feedback record.
type Sensor struct {
	Size      int32
	Timestamp float64
	Key       [2]int16
	PlanName  string
	State     [2]int16
	Joy       [4]float32

	RPY  [3]float32
	Gyro [3]float32
	Acc  [3]float32

	ActJ, ActW, ActT          []float32
	DrvTemp, DrvState, DrvErr []int16
	TgtJ, TgtW, TgtT          []float32

	ActFingerLeft  []float32
	ActFingerRight []float32
	TgtFingerLeft  []float32
	TgtFingerRight []float32

	// manipulation channel only, indexed [arm][x y z roll pitch yaw]
	TipPose  [2][6]float32
	TipVel   [2][6]float32
	TipForce [2][6]float32
}

// NewSensor returns a zero-filled sensor record shaped for cfg.
func NewSensor(cfg ChannelConfig) Sensor {
	n := cfg.Joints
	return Sensor{
		ActJ:           make([]float32, n),
		ActW:           make([]float32, n),
		ActT:           make([]float32, n),
		DrvTemp:        make([]int16, n),
		DrvState:       make([]int16, n),
		DrvErr:         make([]int16, n),
		TgtJ:           make([]float32, n),
		TgtW:           make([]float32, n),
		TgtT:           make([]float32, n),
		ActFingerLeft:  make([]float32, cfg.FingerLeft),
		ActFingerRight: make([]float32, cfg.FingerRight),
		TgtFingerLeft:  make([]float32, cfg.FingerLeft),
		TgtFingerRight: make([]float32, cfg.FingerRight),
	}
}

// Clone deep-copies every array.
func (s Sensor) Clone() Sensor {
	out := s
	out.ActJ = slices.Clone(s.ActJ)
	out.ActW = slices.Clone(s.ActW)
	out.ActT = slices.Clone(s.ActT)
	out.DrvTemp = slices.Clone(s.DrvTemp)
	out.DrvState = slices.Clone(s.DrvState)
	out.DrvErr = slices.Clone(s.DrvErr)
	out.TgtJ = slices.Clone(s.TgtJ)
	out.TgtW = slices.Clone(s.TgtW)
	out.TgtT = slices.Clone(s.TgtT)
	out.ActFingerLeft = slices.Clone(s.ActFingerLeft)
	out.ActFingerRight = slices.Clone(s.ActFingerRight)
	out.TgtFingerLeft = slices.Clone(s.TgtFingerLeft)
	out.TgtFingerRight = slices.Clone(s.TgtFingerRight)
	return out
}

// HasDriverFault reports whether any joint driver reports a non-zero error.
func (s Sensor) HasDriverFault() bool {
	return s.FaultyJoint() >= 0
}

// FaultyJoint returns the index of the first joint with a driver error, or -1.
func (s Sensor) FaultyJoint() int {
	for i, e := range s.DrvErr {
		if e != 0 {
			return i
		}
	}
	return -1
}
