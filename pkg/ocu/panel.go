// Package ocu drives the operator control unit port: a keyed 85-byte frame
// the robot's motion controller expects to see repeated, carrying the
// requested mode key and a planar velocity.
package ocu

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/loong/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	FrameSize       = 85
	DefaultInterval = 500 * time.Millisecond

	offVY  = 7
	offWZ  = 11
	offVX  = 15
	offKey = 84

	velocityScale = 100
)

// Sender is the datagram socket the panel writes to.
type Sender interface {
	Send(b []byte) error
}

// Config holds configuration for a Panel.
type Config struct {
	Local    string
	Remote   string
	Interval time.Duration
	Logger   zerolog.Logger
}

// Panel holds the current OCU frame and resends it periodically.
type Panel struct {
	tr       Sender
	interval time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	frame [FrameSize]byte

	sent atomic.Uint64
}

// Open binds a socket towards cfg.Remote and returns a panel using it.
func Open(cfg Config) (*Panel, error) {
	ch, err := transport.Open(cfg.Local, cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("open ocu: %w", err)
	}
	return NewPanel(ch, cfg), nil
}

func NewPanel(tr Sender, cfg Config) *Panel {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Panel{
		tr:       tr,
		interval: cfg.Interval,
		log:      cfg.Logger.With().Str("component", "ocu").Logger(),
	}
}

// Set selects key and zeroes the velocity.
func (p *Panel) Set(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putVelocity(0, 0, 0)
	p.frame[offKey] = byte(key)
	p.log.Info().Stringer("key", key).Msg("ocu key set")
}

// SetVelocity sets the planar velocity: forward vx, lateral vy and yaw
// rate wz.
func (p *Panel) SetVelocity(vx, vy, wz float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putVelocity(vx, vy, wz)
}

func (p *Panel) putVelocity(vx, vy, wz float32) {
	binary.LittleEndian.PutUint32(p.frame[offVY:], math.Float32bits(vy*velocityScale))
	binary.LittleEndian.PutUint32(p.frame[offWZ:], math.Float32bits(-wz*velocityScale))
	binary.LittleEndian.PutUint32(p.frame[offVX:], math.Float32bits(-vx*velocityScale))
}

// Key returns the key currently being sent.
func (p *Panel) Key() Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Key(p.frame[offKey])
}

// Frame returns a copy of the current frame.
func (p *Panel) Frame() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, FrameSize)
	copy(out, p.frame[:])
	return out
}

// Sent is the number of frames written so far.
func (p *Panel) Sent() uint64 { return p.sent.Load() }

// Send writes the current frame once.
func (p *Panel) Send() error {
	if err := p.tr.Send(p.Frame()); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}

// Run sends the frame immediately and then once per interval until ctx is
// cancelled. Send errors are logged and the next tick retries.
func (p *Panel) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Send(); err != nil {
			p.log.Warn().Err(err).Msg("ocu send failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step is one stage of an enable procedure: the key to hold and for how long.
type Step struct {
	Key  Key
	Hold time.Duration
}

// RunSequence walks through steps, sending each key at once and holding it
// for its duration. The last key stays set when it returns.
func (p *Panel) RunSequence(ctx context.Context, steps []Step) error {
	for i, s := range steps {
		p.Set(s.Key)
		if err := p.Send(); err != nil {
			p.log.Warn().Err(err).Stringer("key", s.Key).Msg("ocu send failed")
		}
		p.log.Info().Int("step", i+1).Int("of", len(steps)).Stringer("key", s.Key).Dur("hold", s.Hold).Msg("enable step")
		if s.Hold <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Hold):
		}
	}
	return nil
}

// Disable sends the disable key once.
func (p *Panel) Disable() error {
	p.Set(KeyDisable)
	return p.Send()
}

// Close closes the underlying socket when it supports it.
func (p *Panel) Close() error {
	if c, ok := p.tr.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
