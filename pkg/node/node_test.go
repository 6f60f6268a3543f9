package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gwillem/loong/pkg/bus"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/gwillem/loong/pkg/sequencer"
	"github.com/gwillem/loong/pkg/sim"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	node    *Node
	sim     *sim.Simulator
	bus     *bus.MemoryBus
	outputs <-chan bus.Output
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, gain float32) *harness {
	t.Helper()
	log := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
	p := robot.ManiProfile()

	s, err := sim.New(sim.Config{Channel: p.Channel, Listen: "127.0.0.1:0", Gain: gain, Logger: log})
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	n, err := New(Options{
		Channel: robot.ChannelConfig{
			Name:    "mani",
			Profile: "mani",
			Local:   "127.0.0.1:0",
			Remote:  s.Addr().String(),
			Hz:      100,
			Input:   "mani_command",
			Output:  "mani_status",
		},
		Bus:    b,
		Logger: log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{node: n, sim: s, bus: b, outputs: b.Outputs(), cancel: cancel, done: make(chan error, 2)}
	go func() { h.done <- s.Run(ctx) }()
	go func() { h.done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		for range 2 {
			select {
			case <-h.done:
			case <-time.After(2 * time.Second):
				t.Error("node or simulator did not stop")
			}
		}
		s.Close()
		b.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, id string, value any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.bus.Send(ctx, id, value))
}

func (h *harness) status(t *testing.T) bus.Status {
	t.Helper()
	select {
	case out := <-h.outputs:
		assert.Equal(t, "mani_status", out.ID)
		st, err := bus.DecodeStatus(out.Data)
		require.NoError(t, err)
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("no status published")
		return bus.Status{}
	}
}

func TestNode_GrabThenReturn(t *testing.T) {
	h := start(t, 0.5)

	h.send(t, "mani_command", `{"action":"GRAB","id":"g1"}`)
	st := h.status(t)
	assert.Equal(t, "GRAB", st.Action)
	assert.Equal(t, "g1", st.ID)
	assert.Equal(t, sequencer.StatusSuccess, st.Status)
	assert.Positive(t, st.Cycles)

	fb, err := json.Marshal(st.Feedback)
	require.NoError(t, err)
	var summary sequencer.Feedback
	require.NoError(t, json.Unmarshal(fb, &summary))
	for _, f := range summary.FingerLeft {
		assert.GreaterOrEqual(t, f, float32(45))
	}

	h.send(t, "mani_command", []byte(`{"action":"RETURN","id":"r1"}`))
	st = h.status(t)
	assert.Equal(t, "r1", st.ID)
	assert.Equal(t, sequencer.StatusSuccess, st.Status)
	assert.Equal(t, sequencer.Idle, h.node.Sequencer().State())
}

func TestNode_BusyRequestIsAnsweredImmediately(t *testing.T) {
	h := start(t, 0.02)

	h.send(t, "mani_command", `{"action":"GRAB","id":"g1"}`)
	h.send(t, "mani_command", `{"action":"RETURN","id":"r1"}`)

	st := h.status(t)
	assert.Equal(t, "r1", st.ID)
	assert.Equal(t, sequencer.StatusError, st.Status)
	assert.Equal(t, string(sequencer.ReasonBusy), st.Reason)

	cmd := h.node.Controller().Command()
	assert.Equal(t, float32(50), cmd.FingerLeft[0])

	st = h.status(t)
	assert.Equal(t, "g1", st.ID)
	assert.Equal(t, sequencer.StatusSuccess, st.Status)
}

func TestNode_DriverFault(t *testing.T) {
	h := start(t, 0.02)
	h.sim.InjectFault(3, 9)

	h.send(t, "mani_command", `{"action":"GRAB"}`)
	st := h.status(t)
	assert.Equal(t, sequencer.StatusError, st.Status)
	assert.Equal(t, string(sequencer.ReasonDriverFault), st.Reason)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, sequencer.Failed, h.node.Sequencer().State())

	h.sim.ClearFault()
	h.send(t, "mani_command", `{"action":"CUSTOM","cycles":3,"target":{"neck_cmd":[0.1]}}`)
	st = h.status(t)
	assert.Equal(t, sequencer.StatusSuccess, st.Status)
	assert.Equal(t, 3, st.Cycles)
}

func TestNode_BadRequestsAreNeverSilent(t *testing.T) {
	h := start(t, 1)

	tests := []struct {
		value  any
		reason sequencer.Reason
	}{
		{42, sequencer.ReasonMalformedRequest},
		{`not json`, sequencer.ReasonMalformedRequest},
		{`{"action":"DANCE"}`, sequencer.ReasonUnknownAction},
		{`{"action":"CUSTOM","target":{"finger_left":[1,2,3,4,5,6,7]}}`, sequencer.ReasonInvalidTarget},
		{`{"action":"CUSTOM","finger_left":"open"}`, sequencer.ReasonInvalidTarget},
	}
	for _, tt := range tests {
		h.send(t, "mani_command", tt.value)
		st := h.status(t)
		assert.Equal(t, sequencer.StatusError, st.Status, "%v", tt.value)
		assert.Equal(t, string(tt.reason), st.Reason, "%v", tt.value)
		assert.NotEmpty(t, st.Error)
	}
	assert.Equal(t, uint64(len(tests)), h.node.Status().Rejected)
}

func TestNode_IgnoresOtherInputs(t *testing.T) {
	h := start(t, 1)
	h.send(t, "joint_command", `{"action":"GRAB"}`)

	select {
	case out := <-h.outputs:
		t.Fatalf("unexpected output %s", out.Data)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, sequencer.Idle, h.node.Sequencer().State())
}

func TestNode_Status(t *testing.T) {
	h := start(t, 1)
	require.Eventually(t, func() bool {
		return h.node.Status().Feedback != nil
	}, 2*time.Second, 10*time.Millisecond)

	st := h.node.Status()
	assert.Equal(t, "mani", st.Name)
	assert.Equal(t, "manipulation", st.Kind)
	assert.Equal(t, 100, st.Hz)
	assert.True(t, st.Running)
	assert.Positive(t, st.Loop.Frames)
	assert.Equal(t, sim.DefaultPlanName, st.Feedback.PlanName)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Channel: robot.ChannelConfig{Name: "x", Profile: "mani"}})
	assert.ErrorIs(t, err, ErrNoBus)

	_, err = New(Options{Bus: bus.NewMemoryBus(), Channel: robot.ChannelConfig{Name: "x", Profile: "hexapod"}})
	assert.ErrorIs(t, err, robot.ErrInvalidConfig)
}
