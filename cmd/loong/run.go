package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gwillem/loong/pkg/bus"
	"github.com/gwillem/loong/pkg/logging"
	"github.com/gwillem/loong/pkg/node"
	"github.com/gwillem/loong/pkg/observability"
	"github.com/gwillem/loong/pkg/ocu"
	"github.com/gwillem/loong/pkg/robot"
)

type RunCommand struct {
	Enable   bool     `long:"enable" description:"Run the OCU enable sequence before accepting actions"`
	Channels []string `long:"channel" description:"Only run these channels (repeatable)"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer := logging.New(cfg.Logging, "loong")
	defer closer.Close()

	ctx, cancel := signalContext()
	defer cancel()

	hub := bus.NewHub(log)
	defer hub.Close()

	nodes, err := buildNodes(cfg, c.Channels, hub, log)
	if err != nil {
		return err
	}
	started := false
	defer func() {
		// Run closes its own transport; nodes that never ran are closed here
		if !started {
			closeNodes(nodes)
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, len(nodes)+2)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if cfg.Admin.Enabled {
		admin := observability.NewAdmin(observability.AdminConfig{
			Addr:        cfg.Admin.Addr,
			CORSOrigins: cfg.Admin.CORSOrigins,
			Logger:      logging.Component(log, "admin"),
			Bus:         hub,
		})
		for _, n := range nodes {
			admin.AddStatus(n.Name(), func() any { return n.Status() })
		}
		spawn("admin", admin.Run)
	} else {
		observability.RegisterMetrics()
	}

	if cfg.OCU.Enabled || c.Enable {
		panel, err := ocu.Open(ocu.Config{
			Local:    cfg.OCU.Local,
			Remote:   cfg.OCU.Remote,
			Interval: cfg.OCU.Interval(),
			Logger:   log,
		})
		if err != nil {
			return err
		}
		defer panel.Close()
		if c.Enable {
			steps, err := ocu.SequenceByName(cfg.OCU.Sequence)
			if err != nil {
				return err
			}
			log.Info().Str("sequence", cfg.OCU.Sequence).Msg("running enable sequence")
			if err := panel.RunSequence(ctx, steps); err != nil {
				return fmt.Errorf("enable sequence: %w", err)
			}
		}
		spawn("ocu", panel.Run)
	}

	started = true
	for _, n := range nodes {
		spawn(n.Name(), n.Run)
	}
	log.Info().Int("channels", len(nodes)).Bool("admin", cfg.Admin.Enabled).Msg("loong running")

	wg.Wait()
	close(errs)
	var joined error
	for err := range errs {
		joined = errors.Join(joined, err)
	}
	return joined
}

// buildNodes creates a node for every configured channel, or for the named
// subset.
func buildNodes(cfg *robot.Config, only []string, b bus.Bus, log zerolog.Logger) ([]*node.Node, error) {
	want := make(map[string]bool, len(only))
	for _, name := range only {
		if _, ok := cfg.Channel(name); !ok {
			return nil, fmt.Errorf("no channel %q in %s", name, opts.Config)
		}
		want[name] = true
	}
	var nodes []*node.Node
	for _, ch := range cfg.Channels {
		if len(want) > 0 && !want[ch.Name] {
			continue
		}
		n, err := node.New(node.Options{Channel: ch, Bus: b, Logger: log})
		if err != nil {
			closeNodes(nodes)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func closeNodes(nodes []*node.Node) {
	for _, n := range nodes {
		n.Controller().Close()
	}
}
