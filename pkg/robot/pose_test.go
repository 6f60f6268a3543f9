package robot

import (
	"math"
	"testing"

	"github.com/gwillem/loong/pkg/frame"
)

func TestPose_Within(t *testing.T) {
	home := Pose{0.4, 0.4, 0.1}

	tests := []struct {
		actual []float32
		tol    float32
		want   bool
	}{
		{[]float32{0.4, 0.4, 0.1}, 0.05, true},
		{[]float32{0.44, 0.37, 0.1}, 0.05, true},
		{[]float32{0.46, 0.4, 0.1}, 0.05, false},
		{[]float32{0.4, 0.4, 0.1, 9, 9}, 0.05, true}, // extra joints ignored
		{[]float32{0.4, 0.4}, 0.05, false},           // too short
	}

	for _, tt := range tests {
		if got := home.Within(tt.actual, tt.tol); got != tt.want {
			t.Errorf("Within(%v, %v) = %v, want %v", tt.actual, tt.tol, got, tt.want)
		}
	}
}

func TestPose_MaxError(t *testing.T) {
	p := Pose{1, -1, 0}
	got := p.MaxError([]float32{1.1, -1.3, 0.05})
	if math.Abs(float64(got)-0.3) > 1e-6 {
		t.Errorf("MaxError = %f, want 0.3", got)
	}
}

func TestPose_Sized(t *testing.T) {
	if got := (Pose{1, 2, 3}).Sized(2); len(got) != 2 || got[1] != 2 {
		t.Errorf("Sized(2) = %v", got)
	}
	if got := (Pose{1}).Sized(3); len(got) != 3 || got[2] != 0 {
		t.Errorf("Sized(3) = %v", got)
	}
}

func TestJointGroups(t *testing.T) {
	groups := JointGroups(JointProfile().Channel)
	want := []GroupSpan{
		{LeftArm, 0, 7},
		{RightArm, 7, 7},
		{Neck, 14, 2},
		{Lumbar, 16, 3},
		{LeftLeg, 19, 6},
		{RightLeg, 25, 6},
	}
	if len(groups) != len(want) {
		t.Fatalf("got %d groups, want %d: %v", len(groups), len(want), groups)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("group[%d] = %+v, want %+v", i, groups[i], want[i])
		}
	}
}

func TestJointGroups_Clipped(t *testing.T) {
	groups := JointGroups(ManiCompactProfile().Channel)
	last := groups[len(groups)-1]
	if last.Group != RightArm || last.Offset+last.Count != 12 {
		t.Errorf("expected right arm clipped at joint 12, got %+v", last)
	}
}

func TestJointLabel(t *testing.T) {
	cfg := ManiProfile().Channel
	tests := map[int]string{
		0:  "left_arm.shoulder_pitch",
		10: "right_arm.elbow",
		15: "neck.1",
		18: "lumbar.2",
		40: "joint.40",
	}
	for i, want := range tests {
		if got := JointLabel(cfg, i); got != want {
			t.Errorf("JointLabel(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestProfiles_Valid(t *testing.T) {
	for _, name := range ProfileNames() {
		p, err := ProfileByName(name)
		if err != nil {
			t.Fatalf("ProfileByName(%q): %v", name, err)
		}
		if err := p.Channel.Validate(); err != nil {
			t.Errorf("profile %q: %v", name, err)
		}
	}
	if _, err := ProfileByName("legs"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestInitialCommand(t *testing.T) {
	mani := ManiProfile()
	cmd := InitialCommand(mani.Channel, mani.Modes, mani.Kp, mani.Kd)
	if err := cmd.CheckShape(mani.Channel); err != nil {
		t.Fatal(err)
	}
	if cmd.ArmMode != 4 || cmd.NeckMode != 5 || cmd.ArmLeft[1] != 0.4 || cmd.ArmRight[1] != -0.4 {
		t.Errorf("unexpected manipulation command %+v", cmd)
	}

	jnt := JointProfile()
	cmd = InitialCommand(jnt.Channel, jnt.Modes, jnt.Kp, jnt.Kd)
	if cmd.Checker != frame.JointChecker || cmd.State != 1 {
		t.Errorf("unexpected joint header %+v", cmd)
	}
	if cmd.J[2] != 1.8 || cmd.Kp[19] != 500 || cmd.Kd[21] != 2 {
		t.Errorf("joint targets not seeded: j=%v kp=%v", cmd.J[:3], cmd.Kp[19])
	}
}
