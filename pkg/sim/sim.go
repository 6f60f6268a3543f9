// Package sim is a stand-in for the actuation SDK. It answers every command
// datagram with one sensor frame whose feedback follows the commanded
// targets with a first-order lag.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/gwillem/loong/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultGain     = 0.2
	DefaultPlanName = "sim_plan"
	pollInterval    = 100 * time.Millisecond
	baseDriverTemp  = 30
	// the manipulation SDK appends the target tip pose, velocity and force
	// after the fields the client decodes
	maniTrailer = 3 * 2 * 6 * 4
)

// Config holds configuration for the simulator.
type Config struct {
	Name    string
	Channel frame.ChannelConfig
	Listen  string
	// Gain is the fraction of the remaining error closed per command frame,
	// in (0, 1]. 1 jumps straight to the target.
	Gain     float32
	PlanName string
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Stats are cumulative simulator counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Replied   uint64 `json:"replied"`
	Malformed uint64 `json:"malformed"`
}

// Simulator is one simulated actuation endpoint.
type Simulator struct {
	name   string
	layout *frame.Layout
	gain   float32
	plan   string
	now    func() time.Time
	log    zerolog.Logger
	ch     *transport.Channel

	mu         sync.Mutex
	sensor     frame.Sensor
	faultJoint int
	faultCode  int16

	silent                       atomic.Bool
	received, replied, malformed atomic.Uint64
}

// New validates cfg and binds the listen address.
func New(cfg Config) (*Simulator, error) {
	layout, err := frame.NewLayout(cfg.Channel)
	if err != nil {
		return nil, err
	}
	if cfg.Gain <= 0 || cfg.Gain > 1 {
		cfg.Gain = DefaultGain
	}
	if cfg.PlanName == "" {
		cfg.PlanName = DefaultPlanName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Channel.Kind.String()
	}
	ch, err := transport.Open(cfg.Listen, "")
	if err != nil {
		return nil, err
	}
	s := &Simulator{
		name:       cfg.Name,
		layout:     layout,
		gain:       cfg.Gain,
		plan:       cfg.PlanName,
		now:        cfg.Now,
		log:        cfg.Logger.With().Str("sim", cfg.Name).Logger(),
		ch:         ch,
		sensor:     frame.NewSensor(cfg.Channel),
		faultJoint: -1,
	}
	for i := range s.sensor.DrvTemp {
		s.sensor.DrvTemp[i] = int16(baseDriverTemp + i)
	}
	return s, nil
}

// Addr is the bound UDP address.
func (s *Simulator) Addr() *net.UDPAddr { return s.ch.LocalAddr() }

// Run serves datagrams until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Info().Str("listen", s.Addr().String()).Int("sensor_bytes", s.layout.SensorSize()).Msg("simulator listening")
	for {
		if ctx.Err() != nil {
			return nil
		}
		buf, from, err := s.ch.TryReceiveFrom(pollInterval)
		if errors.Is(err, transport.ErrClosed) {
			return nil
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("receive failed")
			continue
		}
		if buf == nil {
			continue
		}
		reply, err := s.Handle(buf)
		if err != nil {
			s.log.Debug().Err(err).Str("from", from.String()).Msg("dropping command")
			continue
		}
		if reply == nil {
			continue
		}
		if err := s.ch.SendTo(reply, from); err != nil {
			s.log.Warn().Err(err).Msg("reply failed")
			continue
		}
		s.replied.Add(1)
	}
}

// Handle consumes one command datagram and returns the sensor frame to send
// back, or nil while the simulator is silenced.
func (s *Simulator) Handle(buf []byte) ([]byte, error) {
	s.received.Add(1)
	cmd, err := frame.DecodeCommand(buf, s.layout)
	if err != nil {
		s.malformed.Add(1)
		return nil, err
	}
	if s.layout.Config().Kind == frame.KindJoint && cmd.Checker != frame.JointChecker {
		s.malformed.Add(1)
		return nil, fmt.Errorf("%w: checker %d", frame.ErrMalformedField, cmd.Checker)
	}

	s.mu.Lock()
	s.apply(cmd)
	out := s.sensor.Clone()
	s.mu.Unlock()

	if s.silent.Load() {
		return nil, nil
	}
	reply, err := frame.EncodeSensor(out, s.layout)
	if err != nil {
		return nil, err
	}
	if s.layout.Config().Kind == frame.KindManipulation {
		reply = append(reply, make([]byte, maniTrailer)...)
	}
	return reply, nil
}

func (s *Simulator) apply(cmd frame.Command) {
	cfg := s.layout.Config()
	st := &s.sensor
	st.Size = int32(s.layout.SensorSize())
	st.Timestamp = float64(s.now().UnixNano()) / 1e9
	st.PlanName = s.plan

	copy(st.TgtFingerLeft, cmd.FingerLeft)
	copy(st.TgtFingerRight, cmd.FingerRight)
	s.follow(st.ActFingerLeft, cmd.FingerLeft)
	s.follow(st.ActFingerRight, cmd.FingerRight)

	switch cfg.Kind {
	case frame.KindManipulation:
		// arm commands are Cartesian and move the tips; the SDK solves the
		// arm joints itself, so they hold the standing posture here while
		// neck and lumbar follow their commands
		tgt := robot.StandJoints.Sized(2 * cfg.ArmDOF)
		tgt = append(tgt, cmd.Neck...)
		tgt = append(tgt, cmd.Lumbar...)
		if len(tgt) > len(st.TgtJ) {
			tgt = tgt[:len(st.TgtJ)]
		}
		copy(st.TgtJ, tgt)
		s.follow(st.ActJ[:len(tgt)], tgt)
		for arm, c := range [][]float32{cmd.ArmLeft, cmd.ArmRight} {
			n := min(len(c), len(st.TipPose[arm]))
			s.follow(st.TipPose[arm][:n], c[:n])
			copy(st.TipForce[arm][:], armFM(cmd, arm))
		}
	case frame.KindJoint:
		copy(st.TgtJ, cmd.J)
		copy(st.TgtW, cmd.W)
		copy(st.TgtT, cmd.T)
		prev := append([]float32(nil), st.ActJ...)
		s.follow(st.ActJ, cmd.J)
		for i := range st.ActW {
			st.ActW[i] = st.ActJ[i] - prev[i]
		}
		copy(st.ActT, cmd.T)
	}

	clear(st.DrvErr)
	if s.faultJoint >= 0 && s.faultJoint < len(st.DrvErr) {
		st.DrvErr[s.faultJoint] = s.faultCode
	}
}

func armFM(cmd frame.Command, arm int) []float32 {
	if arm == 0 {
		return cmd.ArmFMLeft
	}
	return cmd.ArmFMRight
}

func (s *Simulator) follow(act, tgt []float32) {
	for i := range min(len(act), len(tgt)) {
		act[i] += s.gain * (tgt[i] - act[i])
	}
}

// InjectFault makes every following frame report code on joint.
func (s *Simulator) InjectFault(joint int, code int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultJoint, s.faultCode = joint, code
}

// ClearFault stops reporting a driver error.
func (s *Simulator) ClearFault() {
	s.InjectFault(-1, 0)
}

// SetSilent stops (or resumes) replies while still tracking commands.
func (s *Simulator) SetSilent(v bool) { s.silent.Store(v) }

// Sensor returns a copy of the current simulated feedback.
func (s *Simulator) Sensor() frame.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensor.Clone()
}

func (s *Simulator) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Replied:   s.replied.Load(),
		Malformed: s.malformed.Load(),
	}
}

// Close releases the socket; Run returns shortly after.
func (s *Simulator) Close() error { return s.ch.Close() }
