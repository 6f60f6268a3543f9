// Command loong-sim stands in for the robot's actuation SDK: it answers the
// command datagrams of every configured channel with sensor frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"

	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/logging"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/gwillem/loong/pkg/sim"
)

type Options struct {
	Config   string   `short:"c" long:"config" default:"loong.toml" description:"Configuration file; the built-in defaults are used when it does not exist"`
	Channels []string `long:"channel" description:"Only simulate these channels (repeatable)"`
	Gain     float32  `long:"gain" default:"0.2" description:"Fraction of the remaining error closed per command frame"`
	LogLevel string   `long:"log-level" default:"info" description:"Log level"`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := robot.LoadConfigFrom(opts.Config)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = robot.DefaultConfig()
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logCfg := cfg.Logging
	logCfg.Level = opts.LogLevel
	log, closer := logging.New(logCfg, "loong-sim")
	defer closer.Close()

	fmt.Println(headerStyle.Render("Loong SDK Simulator"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━"))

	want := make(map[string]bool)
	for _, name := range opts.Channels {
		want[name] = true
	}
	var sims []*sim.Simulator
	for _, ch := range cfg.Channels {
		if len(want) > 0 && !want[ch.Name] {
			continue
		}
		p, err := ch.Resolve()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		s, err := sim.New(sim.Config{Name: ch.Name, Channel: p.Channel, Listen: p.Remote, Gain: opts.Gain, Logger: log})
		if err != nil {
			fmt.Fprintf(os.Stderr, "channel %s: %v\n", ch.Name, err)
			os.Exit(1)
		}
		l := frame.MustLayout(p.Channel)
		fmt.Printf("  %-8s %-13s %-21s cmd %4d B  sens %4d B\n",
			ch.Name, p.Channel.Kind, s.Addr(), l.CommandSize(), l.SensorSize())
		sims = append(sims, s)
	}
	if len(sims) == 0 {
		fmt.Fprintln(os.Stderr, "No channels to simulate.")
		os.Exit(1)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range sims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.Close()
			if err := s.Run(ctx); err != nil {
				log.Error().Err(err).Msg("simulator failed")
			}
		}()
	}
	wg.Wait()
	for _, s := range sims {
		st := s.Stats()
		log.Info().
			Str("addr", s.Addr().String()).
			Uint64("received", st.Received).
			Uint64("replied", st.Replied).
			Uint64("malformed", st.Malformed).
			Msg("simulator stopped")
	}
}
