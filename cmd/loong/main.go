package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/loong/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"loong.toml" description:"Configuration file (.toml, .yaml)"`
	LogLevel string `long:"log-level" description:"Override the configured log level"`

	Setup   SetupCommand   `command:"setup" description:"Create a loong.toml interactively"`
	Run     RunCommand     `command:"run" description:"Run all configured channels with the admin server and bus hub"`
	Monitor MonitorCommand `command:"monitor" alias:"mon" description:"Run one channel with a live feedback view"`
	Send    SendCommand    `command:"send" description:"Send an action request over the bus and wait for its status"`
	Sim     SimCommand     `command:"sim" description:"Simulate the actuation SDK for one channel"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "loong - actuation transport for the OpenLoong humanoid"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config and applies --log-level.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no configuration at %s, run 'loong setup' first", opts.Config)
		}
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
