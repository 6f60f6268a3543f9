package sequencer

import (
	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/robot"
)

// CustomCompletion selects how a CUSTOM action finishes.
type CustomCompletion string

const (
	// CompleteByCycles reports SUCCESS once the cycle budget has elapsed.
	CompleteByCycles CustomCompletion = "cycles"
	// CompleteByFeedback waits until feedback matches the commanded fingers
	// and joints, and times out like GRAB and RETURN.
	CompleteByFeedback CustomCompletion = "feedback"
)

// Policy holds the poses, thresholds and budgets the actions use.
type Policy struct {
	GrabFinger    float32
	GrabThreshold float32
	GrabArmLeft   robot.Pose
	GrabArmRight  robot.Pose

	HomeArmLeft  robot.Pose
	HomeArmRight robot.Pose
	// HomeJoints, when set, is compared against ActJ[HomeJointOffset:] to
	// decide RETURN. When empty the commanded arm values are used.
	HomeJoints      robot.Pose
	HomeJointOffset int
	ReturnTolerance float32

	// Budget bounds GRAB, RETURN and feedback-completed CUSTOM actions.
	Budget           int
	CustomCycles     int
	CustomCompletion CustomCompletion
}

// DefaultPolicy returns the built-in tuning: 250 cycles (5 s at 50 Hz) for
// GRAB and RETURN, 10 cycles for CUSTOM.
func DefaultPolicy() Policy {
	return Policy{
		GrabFinger:       50,
		GrabThreshold:    45,
		GrabArmLeft:      robot.GrabArmLeft.Clone(),
		GrabArmRight:     robot.GrabArmRight.Clone(),
		HomeArmLeft:      robot.HomeArmLeft.Clone(),
		HomeArmRight:     robot.HomeArmRight.Clone(),
		ReturnTolerance:  0.05,
		Budget:           250,
		CustomCycles:     10,
		CustomCompletion: CompleteByCycles,
	}
}

// PolicyFromConfig overlays a channel's [actions] table on the defaults.
func PolicyFromConfig(a robot.ActionsConfig) Policy {
	p := DefaultPolicy()
	if a.GrabFinger != 0 {
		p.GrabFinger = a.GrabFinger
	}
	if a.GrabThreshold != 0 {
		p.GrabThreshold = a.GrabThreshold
	}
	if a.GrabArmLeft != nil {
		p.GrabArmLeft = a.GrabArmLeft
	}
	if a.GrabArmRight != nil {
		p.GrabArmRight = a.GrabArmRight
	}
	if a.HomeArmLeft != nil {
		p.HomeArmLeft = a.HomeArmLeft
	}
	if a.HomeArmRight != nil {
		p.HomeArmRight = a.HomeArmRight
	}
	if a.HomeJoints != nil {
		p.HomeJoints = a.HomeJoints
		p.HomeJointOffset = a.HomeJointOffset
	}
	if a.ReturnTolerance != 0 {
		p.ReturnTolerance = a.ReturnTolerance
	}
	if a.BudgetCycles > 0 {
		p.Budget = a.BudgetCycles
	}
	if a.CustomCycles > 0 {
		p.CustomCycles = a.CustomCycles
	}
	if a.CustomCompletion != "" {
		p.CustomCompletion = CustomCompletion(a.CustomCompletion)
	}
	return p
}

// grabFingerThreshold is the per-finger closure a GRAB must reach: the
// commanded value scaled by GrabThreshold/GrabFinger.
func (p Policy) grabFingerThreshold(commanded float32) float32 {
	if p.GrabFinger == 0 {
		return p.GrabThreshold
	}
	return commanded * p.GrabThreshold / p.GrabFinger
}

// returnReached reports whether feedback shows the arms back home.
// Configured HomeJoints are compared with ActJ at HomeJointOffset; without
// them the commanded arms are compared in the space they were commanded in.
func (p Policy) returnReached(cfg frame.ChannelConfig, cmd frame.Command, s *frame.Sensor) bool {
	if len(p.HomeJoints) > 0 {
		return p.HomeJoints.Within(tail(s.ActJ, p.HomeJointOffset), p.ReturnTolerance)
	}
	return armsReached(cfg, cmd, s, p.ReturnTolerance)
}

// armsReached compares the commanded arms with feedback. Manipulation arm
// commands are Cartesian (x, y, z, roll, pitch, yaw, elbow swivel) and are
// checked against the reported tip pose; the swivel has no feedback. Joint
// channel arms are checked against ActJ.
func armsReached(cfg frame.ChannelConfig, cmd frame.Command, s *frame.Sensor, tol float32) bool {
	if cfg.Kind == frame.KindManipulation {
		for arm, c := range [][]float32{cmd.ArmLeft, cmd.ArmRight} {
			n := min(len(c), len(s.TipPose[arm]))
			if !robot.Pose(c[:n]).Within(s.TipPose[arm][:n], tol) {
				return false
			}
		}
		return true
	}
	n := min(2*cfg.ArmDOF, len(cmd.J))
	return robot.Pose(cmd.J[:n]).Within(s.ActJ, tol)
}
