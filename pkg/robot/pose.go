package robot

import "math"

// Pose is an ordered set of joint or Cartesian targets.
type Pose []float32

// Reference arm commands for the manipulation channel, one per arm:
// x, y, z, roll, pitch, yaw, elbow swivel.
var (
	HomeArmLeft  = Pose{0.4, 0.4, 0.1, 0, 0, 0, 0.5}
	HomeArmRight = Pose{0.2, -0.4, 0.1, 0, 0, 0, 0.5}
	GrabArmLeft  = Pose{0.3, 0.2, 0, 0, 0, 0, 0.5}
	GrabArmRight = Pose{0.3, -0.2, 0, 0, 0, 0, 0.5}
)

// StandJoints is the 31-joint standing posture: arms, neck and lumbar, then
// both legs.
var StandJoints = Pose{
	0.3, -1.3, 1.8, 0.5, 0, 0, 0,
	-0.3, -1.3, -1.8, 0.5, 0, 0, 0,
	0, 0, 0, 0, 0,
	0.0533331, 0, 0.325429, -0.712646, 0.387217, -0.0533331,
	-0.0533331, 0, 0.325429, -0.712646, 0.387217, 0.0533331,
}

// Clone returns a copy that shares no memory with p.
func (p Pose) Clone() Pose {
	return append(Pose(nil), p...)
}

// MaxError is the largest absolute difference between p and the matching
// prefix of actual. A shorter actual counts as infinitely far away.
func (p Pose) MaxError(actual []float32) float32 {
	if len(actual) < len(p) {
		return math.MaxFloat32
	}
	var worst float32
	for i, want := range p {
		d := actual[i] - want
		if d < 0 {
			d = -d
		}
		if d > worst {
			worst = d
		}
	}
	return worst
}

// Within reports whether every joint of actual is within tol of p.
func (p Pose) Within(actual []float32, tol float32) bool {
	return p.MaxError(actual) <= tol
}

// Sized returns p truncated or zero-padded to n values.
func (p Pose) Sized(n int) Pose {
	out := make(Pose, n)
	copy(out, p)
	return out
}
