// Package robot describes the OpenLoong body: channel profiles, joint
// groups, reference poses and the loong configuration file.
package robot

import (
	"fmt"

	"github.com/gwillem/loong/pkg/frame"
)

// JointName identifies one joint inside a group.
type JointName string

// Arm joint names, shoulder to wrist.
const (
	ShoulderPitch JointName = "shoulder_pitch"
	ShoulderRoll  JointName = "shoulder_roll"
	ShoulderYaw   JointName = "shoulder_yaw"
	Elbow         JointName = "elbow"
	WristYaw      JointName = "wrist_yaw"
	WristPitch    JointName = "wrist_pitch"
	WristRoll     JointName = "wrist_roll"
)

// ArmJoints returns the arm joint names in frame order.
func ArmJoints() []JointName {
	return []JointName{
		ShoulderPitch,
		ShoulderRoll,
		ShoulderYaw,
		Elbow,
		WristYaw,
		WristPitch,
		WristRoll,
	}
}

// Group is a contiguous slice of the flat joint vector.
type Group string

const (
	LeftArm  Group = "left_arm"
	RightArm Group = "right_arm"
	Neck     Group = "neck"
	Lumbar   Group = "lumbar"
	LeftLeg  Group = "left_leg"
	RightLeg Group = "right_leg"
)

// GroupSpan locates a group in the joint vector.
type GroupSpan struct {
	Group  Group
	Offset int
	Count  int
}

// JointGroups splits cfg.Joints into arms, neck and lumbar, in that order,
// followed by two equal leg groups for whatever remains. Groups that would
// run past the joint count are clipped.
func JointGroups(cfg frame.ChannelConfig) []GroupSpan {
	var out []GroupSpan
	off := 0
	add := func(g Group, n int) {
		if off+n > cfg.Joints {
			n = cfg.Joints - off
		}
		if n <= 0 {
			return
		}
		out = append(out, GroupSpan{Group: g, Offset: off, Count: n})
		off += n
	}
	add(LeftArm, cfg.ArmDOF)
	add(RightArm, cfg.ArmDOF)
	add(Neck, cfg.NeckDOF)
	add(Lumbar, cfg.LumbarDOF)
	if rest := cfg.Joints - off; rest > 0 && rest%2 == 0 {
		add(LeftLeg, rest/2)
		add(RightLeg, rest/2)
	}
	return out
}

// FindGroup returns the span of g, if the channel has it.
func FindGroup(cfg frame.ChannelConfig, g Group) (GroupSpan, bool) {
	for _, s := range JointGroups(cfg) {
		if s.Group == g {
			return s, true
		}
	}
	return GroupSpan{}, false
}

// JointLabel names joint i for display, e.g. "left_arm.elbow" or "left_leg.3".
func JointLabel(cfg frame.ChannelConfig, i int) string {
	for _, s := range JointGroups(cfg) {
		if i < s.Offset || i >= s.Offset+s.Count {
			continue
		}
		k := i - s.Offset
		if (s.Group == LeftArm || s.Group == RightArm) && k < len(ArmJoints()) {
			return fmt.Sprintf("%s.%s", s.Group, ArmJoints()[k])
		}
		return fmt.Sprintf("%s.%d", s.Group, k)
	}
	return fmt.Sprintf("joint.%d", i)
}
