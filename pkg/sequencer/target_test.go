package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	for name, want := range map[string]Kind{
		"GRAB":          Grab,
		"return":        Return,
		" CUSTOM ":      Custom,
		"MANI_CONTROL":  Custom,
		"JOINT_CONTROL": Custom,
	} {
		got, err := ParseAction(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseAction("MOVE")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestParseTarget_WorkflowPayloads(t *testing.T) {
	grab := []byte(`{
		"action": "GRAB",
		"mode": "joint_control",
		"finger_left": [0.8, 0.8, 0.8],
		"finger_right": [0.8, 0.8, 0.8],
		"neck_cmd": [0.0, 0.0],
		"lumbar_cmd": [0.0]
	}`)
	tgt, err := ParseTarget(grab)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.8, 0.8, 0.8}, tgt.FingerLeft)
	assert.Equal(t, []float32{0}, tgt.Lumbar)
	assert.False(t, tgt.HasArms())

	joint := []byte(`{"action":"JOINT_CONTROL","state":1,"tor_limit_rate":0.2,"filt_rate":0.05,"joint_angles":[0.3,-1.3]}`)
	tgt, err = ParseTarget(joint)
	require.NoError(t, err)
	require.NotNil(t, tgt.State)
	assert.Equal(t, int32(1), *tgt.State)
	assert.Equal(t, float32(0.05), *tgt.FilterRate)
	assert.True(t, tgt.HasArms())
}

func TestParseTarget_Errors(t *testing.T) {
	_, err := ParseTarget([]byte(`{"finger_left": "closed"}`))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	tgt, err := ParseTarget(nil)
	require.NoError(t, err)
	assert.False(t, tgt.HasArms())
	assert.Nil(t, tgt.FingerLeft)
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonNone, ReasonFor(nil))
	assert.Equal(t, ReasonMalformedRequest, ReasonFor(assert.AnError))
}
