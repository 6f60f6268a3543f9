package main

import (
	"fmt"

	"github.com/gwillem/loong/pkg/logging"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/gwillem/loong/pkg/sim"
)

type SimCommand struct {
	Profile string  `short:"p" long:"profile" default:"mani" description:"Channel profile to simulate (mani, mani-compact, joint)"`
	Listen  string  `short:"l" long:"listen" description:"UDP listen address (default: the profile's SDK address)"`
	Gain    float32 `long:"gain" default:"0.2" description:"Fraction of the remaining error closed per command frame"`
	Fault   int     `long:"fault-joint" default:"-1" description:"Report a driver error on this joint"`
}

func (c *SimCommand) Execute(args []string) error {
	p, err := robot.ProfileByName(c.Profile)
	if err != nil {
		return err
	}
	listen := c.Listen
	if listen == "" {
		listen = p.Remote
	}
	cfg := logging.DefaultConfig()
	if opts.LogLevel != "" {
		cfg.Level = opts.LogLevel
	}
	log, closer := logging.New(cfg, "loong-sim")
	defer closer.Close()

	s, err := sim.New(sim.Config{
		Name:    p.Name,
		Channel: p.Channel,
		Listen:  listen,
		Gain:    c.Gain,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("start simulator: %w", err)
	}
	defer s.Close()
	if c.Fault >= 0 {
		s.InjectFault(c.Fault, 1)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := s.Run(ctx); err != nil {
		return err
	}
	log.Info().Interface("stats", s.Stats()).Msg("simulator stopped")
	return nil
}
