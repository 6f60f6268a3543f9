package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/loong/pkg/bus"
	"github.com/gwillem/loong/pkg/sequencer"
)

type SendCommand struct {
	URL     string        `long:"url" description:"Bus hub URL (default: bus.url from the config)"`
	Input   string        `short:"i" long:"input" default:"mani_command" description:"Input id the channel listens on"`
	Output  string        `short:"o" long:"output" description:"Output id to wait on (default: input with _command replaced by _status)"`
	Target  string        `short:"t" long:"target" description:"Target JSON object, or @file to read it from a file"`
	Cycles  int           `long:"cycles" description:"Override the action's cycle budget"`
	Timeout time.Duration `long:"timeout" default:"10s" description:"How long to wait for the status"`
	JSON    bool          `long:"json" description:"Print the status as JSON"`

	Args struct {
		Action string `positional-arg-name:"ACTION" description:"GRAB, RETURN, CUSTOM, MANI_CONTROL or JOINT_CONTROL"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SendCommand) Execute(args []string) error {
	url := c.URL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url = cfg.Bus.URL
	}
	output := c.Output
	if output == "" {
		output = strings.TrimSuffix(c.Input, "_command") + "_status"
	}

	target, err := readTarget(c.Target)
	if err != nil {
		return err
	}
	if _, err := sequencer.ParseTarget(target); err != nil {
		return err
	}
	req := bus.Request{
		Action: strings.ToUpper(c.Args.Action),
		ID:     uuid.NewString(),
		Cycles: c.Cycles,
		Target: target,
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	client, err := bus.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Send(c.Input, req); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	st, err := client.Await(ctx, output, req.ID)
	if err != nil {
		return fmt.Errorf("waiting for %s on %s: %w", req.ID, output, err)
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(st, time.Since(start))
	if st.Status != sequencer.StatusSuccess {
		os.Exit(2)
	}
	return nil
}

func readTarget(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read target: %w", err)
		}
		s = string(data)
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("target is not valid JSON")
	}
	return json.RawMessage(s), nil
}

func printStatus(st bus.Status, took time.Duration) {
	label := successStyle.Render(st.Status)
	if st.Status != sequencer.StatusSuccess {
		label = errorStyle.Render(st.Status)
	}
	fmt.Printf("%s %s %s\n", headerStyle.Render(st.Action), label, dimStyle.Render(st.ID))
	if st.Reason != "" {
		fmt.Printf("  reason: %s\n", st.Reason)
	}
	if st.Error != "" {
		fmt.Printf("  error:  %s\n", st.Error)
	}
	fmt.Printf("  cycles: %d (%s)\n", st.Cycles, took.Round(time.Millisecond))
}
