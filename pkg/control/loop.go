// Package control runs the fixed-rate command/feedback loop for one channel.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/observability"
	"github.com/rs/zerolog"
)

const DefaultHz = 50

var ErrAlreadyRunning = errors.New("control: loop already running")

// Transport is the datagram socket the loop owns.
type Transport interface {
	Send(b []byte) error
	TryReceive(timeout time.Duration) ([]byte, bool, error)
}

// Stepper is advanced once per cycle with the frame decoded in that cycle,
// or nil when none arrived.
type Stepper interface {
	Step(s *frame.Sensor)
}

// State is published after every cycle.
type State struct {
	Cycle     uint64
	Sensor    *frame.Sensor
	Timestamp time.Time
	Overrun   bool
	Err       error
}

// Stats are cumulative loop counters.
type Stats struct {
	Cycles     uint64 `json:"cycles"`
	Sends      uint64 `json:"sends"`
	SendErrors uint64 `json:"send_errors"`
	Frames     uint64 `json:"frames"`
	Dropped    uint64 `json:"dropped"`
	Timeouts   uint64 `json:"timeouts"`
	Overruns   uint64 `json:"overruns"`
}

// Config holds configuration for the controller.
type Config struct {
	Name           string
	Channel        frame.ChannelConfig
	Hz             int
	ReceiveTimeout time.Duration
	Logger         zerolog.Logger
	Clock          Clock
}

type snapshot struct {
	cmd frame.Command
	buf []byte
}

// Controller sends the current command once per period and collects one
// feedback frame per cycle.
type Controller struct {
	name    string
	layout  *frame.Layout
	tr      Transport
	clock   Clock
	hz      int
	period  time.Duration
	timeout time.Duration
	log     zerolog.Logger
	noisy   zerolog.Logger

	cmd    atomic.Pointer[snapshot]
	latest atomic.Pointer[frame.Sensor]

	mu        sync.RWMutex
	running   bool
	stepper   Stepper
	observers []func(frame.Sensor)
	stateCh   chan State

	cycles, sends, sendErrors, frames, dropped, timeouts, overruns atomic.Uint64
}

// New builds a controller around tr. initial becomes the first command sent.
func New(cfg Config, tr Transport, initial frame.Command) (*Controller, error) {
	layout, err := frame.NewLayout(cfg.Channel)
	if err != nil {
		return nil, err
	}
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Channel.Kind.String()
	}
	period := time.Second / time.Duration(cfg.Hz)
	timeout := cfg.ReceiveTimeout
	if timeout <= 0 {
		timeout = period / 2
	}
	if timeout >= period {
		timeout = period * 9 / 10
	}

	log := cfg.Logger.With().Str("channel", cfg.Name).Logger()
	c := &Controller{
		name:    cfg.Name,
		layout:  layout,
		tr:      tr,
		clock:   cfg.Clock,
		hz:      cfg.Hz,
		period:  period,
		timeout: timeout,
		log:     log,
		noisy:   log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
		stateCh: make(chan State, 1),
	}
	if err := c.SetCommand(initial); err != nil {
		return nil, fmt.Errorf("initial command: %w", err)
	}
	return c, nil
}

// Name is the channel name used in logs and metrics.
func (c *Controller) Name() string { return c.name }

// Layout returns the channel's frame layout.
func (c *Controller) Layout() *frame.Layout { return c.layout }

// Hz returns the control frequency.
func (c *Controller) Hz() int { return c.hz }

// Period is 1/Hz.
func (c *Controller) Period() time.Duration { return c.period }

// Command returns a private copy of the command currently being sent.
func (c *Controller) Command() frame.Command {
	return c.cmd.Load().cmd.Clone()
}

// SetCommand replaces the command sent from the next cycle on. Several calls
// between two cycles coalesce; only the last one is sent.
func (c *Controller) SetCommand(cmd frame.Command) error {
	buf, err := frame.EncodeCommand(cmd, c.layout)
	if err != nil {
		return err
	}
	c.cmd.Store(&snapshot{cmd: cmd.Clone(), buf: buf})
	return nil
}

// SetStepper installs the per-cycle stepper. Call before Start.
func (c *Controller) SetStepper(s Stepper) {
	c.mu.Lock()
	c.stepper = s
	c.mu.Unlock()
}

// Observe registers fn to receive every decoded frame on the loop goroutine.
// fn must not block.
func (c *Controller) Observe(fn func(frame.Sensor)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Latest returns the last successfully decoded frame.
func (c *Controller) Latest() (frame.Sensor, bool) {
	s := c.latest.Load()
	if s == nil {
		return frame.Sensor{}, false
	}
	return s.Clone(), true
}

// States returns a channel that receives state updates. Only the newest
// state is kept when the reader is slow.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

func (c *Controller) Stats() Stats {
	return Stats{
		Cycles:     c.cycles.Load(),
		Sends:      c.sends.Load(),
		SendErrors: c.sendErrors.Load(),
		Frames:     c.frames.Load(),
		Dropped:    c.dropped.Load(),
		Timeouts:   c.timeouts.Load(),
		Overruns:   c.overruns.Load(),
	}
}

// Running reports whether Start is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Close stops accepting cycles and closes the transport if it can be closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	if cl, ok := c.tr.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Start runs the control loop until ctx is cancelled. The cycle in progress
// always completes; cancellation is noticed between cycles and while
// sleeping.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.log.Info().Stringer("stats", statsLine(c.Stats())).Msg("control loop stopped")
	}()

	c.log.Info().
		Int("hz", c.hz).
		Dur("receive_timeout", c.timeout).
		Int("command_bytes", c.layout.CommandSize()).
		Int("sensor_bytes", c.layout.SensorSize()).
		Msg("control loop started")

	deadline := c.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := c.clock.Now()
		state := c.step(start)
		now := c.clock.Now()

		next := deadline.Add(c.period)
		overrun := now.After(next)
		if overrun {
			late := now.Sub(next)
			// Realign to the last grid point at or before now; the next
			// cycle runs immediately and the one after is back on the grid.
			deadline = next.Add(late / c.period * c.period)
			c.overruns.Add(1)
			c.noisy.Warn().
				Dur("late", late).
				Dur("busy", now.Sub(start)).
				Msg("cycle overrun")
		} else {
			deadline = next
		}
		observability.RecordCycle(c.name, now.Sub(start), overrun)
		state.Overrun = overrun
		c.sendState(state)

		if overrun {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(deadline.Sub(now)):
		}
	}
}

// step runs one send/receive exchange and returns the cycle's state.
func (c *Controller) step(now time.Time) State {
	n := c.cycles.Add(1)
	snap := c.cmd.Load()

	var cycleErr error
	c.sends.Add(1)
	if err := c.tr.Send(snap.buf); err != nil {
		cycleErr = err
		c.sendErrors.Add(1)
		observability.RecordSendError(c.name)
		c.noisy.Warn().Err(err).Msg("send failed")
	}

	sensor := c.receive()

	c.mu.RLock()
	stepper := c.stepper
	observers := c.observers
	c.mu.RUnlock()

	if sensor != nil {
		for _, fn := range observers {
			fn(*sensor)
		}
	}
	if stepper != nil {
		stepper.Step(sensor)
	}

	return State{
		Cycle:     n,
		Sensor:    sensor,
		Timestamp: now,
		Err:       cycleErr,
	}
}

// receive attempts one frame. Truncated frames are dropped and leave Latest
// untouched; a malformed plan name keeps the rest of the frame.
func (c *Controller) receive() *frame.Sensor {
	data, ok, err := c.tr.TryReceive(c.timeout)
	switch {
	case err != nil:
		c.noisy.Warn().Err(err).Msg("receive failed")
		return nil
	case !ok:
		c.timeouts.Add(1)
		observability.RecordReceiveTimeout(c.name)
		return nil
	}

	s, err := frame.DecodeSensor(data, c.layout)
	if errors.Is(err, frame.ErrTruncatedFrame) {
		c.dropped.Add(1)
		observability.RecordDroppedFrame(c.name, "truncated")
		c.noisy.Warn().Err(err).Msg("feedback frame dropped")
		return nil
	}
	if err != nil {
		c.noisy.Debug().Err(err).Msg("feedback frame has malformed field")
	}
	c.frames.Add(1)
	c.latest.Store(&s)
	return &s
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

type statsLine Stats

func (s statsLine) String() string {
	return fmt.Sprintf("cycles=%d sends=%d send_errors=%d frames=%d dropped=%d timeouts=%d overruns=%d",
		s.Cycles, s.Sends, s.SendErrors, s.Frames, s.Dropped, s.Timeouts, s.Overruns)
}
