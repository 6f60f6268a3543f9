// Package node assembles one actuation channel: its UDP socket, control
// loop and sequencer, plus the bus consumer that feeds it requests and
// publishes the outcome of every one of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/loong/pkg/bus"
	"github.com/gwillem/loong/pkg/control"
	"github.com/gwillem/loong/pkg/observability"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/gwillem/loong/pkg/sequencer"
	"github.com/gwillem/loong/pkg/transport"
	"github.com/rs/zerolog"
)

var ErrNoBus = errors.New("node: no bus")

// Options holds configuration for a Node.
type Options struct {
	Channel robot.ChannelConfig
	Bus     bus.Bus
	Logger  zerolog.Logger
	// Transport replaces the UDP socket built from Channel.Local/Remote.
	Transport control.Transport
	Clock     control.Clock
}

// Node is one running channel.
type Node struct {
	name    string
	input   string
	output  string
	profile robot.Profile

	ctrl *control.Controller
	seq  *sequencer.Sequencer
	bus  bus.Bus
	log  zerolog.Logger

	events   <-chan bus.Event
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// New resolves the channel config and builds the node. The bus subscription
// is taken here so no request sent after New returns is missed.
func New(opts Options) (*Node, error) {
	if opts.Bus == nil {
		return nil, ErrNoBus
	}
	cfg := opts.Channel
	p, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("node", cfg.Name).Logger()

	tr := opts.Transport
	if tr == nil {
		ch, err := transport.Open(cfg.Local, p.Remote)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.Name, err)
		}
		tr = ch
	}

	ctrl, err := control.New(control.Config{
		Name:           cfg.Name,
		Channel:        p.Channel,
		Hz:             cfg.Hz,
		ReceiveTimeout: cfg.ReceiveTimeout(),
		Logger:         opts.Logger,
		Clock:          opts.Clock,
	}, tr, robot.InitialCommand(p.Channel, p.Modes, p.Kp, p.Kd))
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", cfg.Name, err)
	}
	seq := sequencer.New(sequencer.Config{
		Name:    cfg.Name,
		Channel: p.Channel,
		Policy:  sequencer.PolicyFromConfig(cfg.Actions),
		Logger:  opts.Logger,
	}, ctrl)
	ctrl.SetStepper(seq)

	return &Node{
		name:    cfg.Name,
		input:   cfg.Input,
		output:  cfg.Output,
		profile: p,
		ctrl:    ctrl,
		seq:     seq,
		bus:     opts.Bus,
		log:     log,
		events:  opts.Bus.Events(),
	}, nil
}

func (n *Node) Name() string                    { return n.name }
func (n *Node) Input() string                   { return n.input }
func (n *Node) Output() string                  { return n.output }
func (n *Node) Profile() robot.Profile          { return n.profile }
func (n *Node) Controller() *control.Controller { return n.ctrl }
func (n *Node) Sequencer() *sequencer.Sequencer { return n.seq }

// Run drives the control loop and the bus consumer until ctx is cancelled.
// The transport is closed on return.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var loopErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		loopErr = n.ctrl.Start(ctx)
	}()

	n.log.Info().
		Str("input", n.input).
		Str("output", n.output).
		Str("remote", n.profile.Remote).
		Msg("node running")
	n.consume(ctx)
	wg.Wait()

	if err := n.ctrl.Close(); err != nil {
		n.log.Warn().Err(err).Msg("close transport")
	}
	return loopErr
}

// consume is the single event-consumer context: requests are submitted
// and completions published from here, one at a time.
func (n *Node) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.events:
			if !ok {
				n.log.Warn().Msg("bus closed")
				<-ctx.Done()
				return
			}
			if ev.ID != n.input {
				continue
			}
			n.handle(ctx, ev)
		case c := <-n.seq.Completions():
			n.publish(ctx, statusFromCompletion(c))
		}
	}
}

func (n *Node) handle(ctx context.Context, ev bus.Event) {
	req, err := bus.DecodeRequest(ev.Value)
	if err != nil {
		n.reject(ctx, "", "", sequencer.ReasonMalformedRequest, err)
		return
	}
	target, err := sequencer.ParseTarget(req.Target)
	if err != nil {
		n.reject(ctx, req.Action, req.ID, sequencer.ReasonFor(err), err)
		return
	}
	p, err := n.seq.Submit(sequencer.Request{
		ID:     req.ID,
		Action: req.Action,
		Target: target,
		Cycles: req.Cycles,
	})
	if err != nil {
		n.reject(ctx, req.Action, req.ID, sequencer.ReasonFor(err), err)
		return
	}
	n.accepted.Add(1)
	n.log.Debug().Str("id", p.ID).Str("action", p.Action).Dur("queued", time.Since(ev.Received)).Msg("request accepted")
}

func (n *Node) reject(ctx context.Context, action, id string, reason sequencer.Reason, err error) {
	n.rejected.Add(1)
	n.log.Warn().Err(err).Str("action", action).Str("id", id).Str("reason", string(reason)).Msg("request rejected")
	observability.RecordAction(n.name, action, sequencer.StatusError, string(reason), 0)
	n.publish(ctx, bus.Status{
		Action:    action,
		Status:    sequencer.StatusError,
		Reason:    string(reason),
		Error:     err.Error(),
		ID:        id,
		Timestamp: time.Now(),
	})
}

func (n *Node) publish(ctx context.Context, st bus.Status) {
	data, err := st.Encode()
	if err != nil {
		n.log.Error().Err(err).Msg("encode status")
		return
	}
	if err := n.bus.Publish(ctx, bus.Output{ID: n.output, Data: data}); err != nil {
		n.log.Error().Err(err).Str("id", st.ID).Msg("publish status")
	}
}

func statusFromCompletion(c sequencer.Completion) bus.Status {
	st := bus.Status{
		Action:    c.Action,
		Status:    c.Status,
		Reason:    string(c.Reason),
		Error:     c.Error,
		ID:        c.ID,
		Cycles:    c.Cycles,
		Timestamp: c.Finished,
	}
	if c.Feedback != nil {
		st.Feedback = c.Feedback
	}
	return st
}

// Status is the node snapshot served on the admin API.
type Status struct {
	Name     string                   `json:"name"`
	Kind     string                   `json:"kind"`
	Remote   string                   `json:"remote"`
	Hz       int                      `json:"hz"`
	Running  bool                     `json:"running"`
	State    sequencer.State          `json:"state"`
	Pending  *sequencer.PendingAction `json:"pending,omitempty"`
	Last     *sequencer.Completion    `json:"last,omitempty"`
	Loop     control.Stats            `json:"loop"`
	Accepted uint64                   `json:"accepted"`
	Rejected uint64                   `json:"rejected"`
	Feedback *sequencer.Feedback      `json:"feedback,omitempty"`
}

func (n *Node) Status() Status {
	st := Status{
		Name:     n.name,
		Kind:     n.profile.Channel.Kind.String(),
		Remote:   n.profile.Remote,
		Hz:       n.ctrl.Hz(),
		Running:  n.ctrl.Running(),
		State:    n.seq.State(),
		Loop:     n.ctrl.Stats(),
		Accepted: n.accepted.Load(),
		Rejected: n.rejected.Load(),
	}
	if p, ok := n.seq.Pending(); ok {
		st.Pending = &p
	}
	if c, ok := n.seq.Last(); ok {
		st.Last = &c
	}
	if s, ok := n.ctrl.Latest(); ok {
		st.Feedback = sequencer.Summarize(n.profile.Channel, &s)
	}
	return st
}
