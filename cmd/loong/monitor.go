package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/loong/pkg/bus"
	"github.com/gwillem/loong/pkg/control"
	"github.com/gwillem/loong/pkg/logging"
	"github.com/gwillem/loong/pkg/node"
	"github.com/gwillem/loong/pkg/sequencer"
	"github.com/gwillem/loong/pkg/sim"
)

type MonitorCommand struct {
	Channel string `long:"channel" default:"mani" description:"Channel to run"`
	Sim     bool   `long:"sim" description:"Start a simulator on the channel's SDK address"`
}

const (
	headerHeight = 3 // title + state line + blank
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	chartEvery   = 5 // push one chart sample every n cycles
)

// series colors
var seriesColors = map[string]string{
	"finger_left":  "46",  // green
	"finger_right": "51",  // cyan
	"target_left":  "241", // grey
}

var seriesOrder = []string{"finger_left", "finger_right", "target_left"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	stateStyles = map[sequencer.State]lipgloss.Style{
		sequencer.Idle:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		sequencer.Active: lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		sequencer.Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

type monitorModel struct {
	node     *node.Node
	bus      *bus.MemoryBus
	outputs  <-chan bus.Output
	logs     <-chan string
	chart    *streamlinechart.Model
	width    int
	height   int
	lines    []string
	quitting bool
}

type stateMsg control.State
type logMsg string
type noticeMsg string
type outputMsg bus.Output

func waitForState(n *node.Node) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-n.Controller().States())
	}
}

func waitForLog(logs <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-logs)
	}
}

func waitForOutput(outputs <-chan bus.Output) tea.Cmd {
	return func() tea.Msg {
		return outputMsg(<-outputs)
	}
}

func (m *monitorModel) addLog(msg string) {
	m.lines = append(m.lines, msg)
	if len(m.lines) > maxLogs {
		m.lines = m.lines[len(m.lines)-maxLogs:]
	}
}

func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func newMonitorModel(n *node.Node, b *bus.MemoryBus, logs <-chan string) monitorModel {
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(-1, 2))
	for _, name := range seriesOrder {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return monitorModel{
		node:    n,
		bus:     b,
		outputs: b.Outputs(),
		logs:    logs,
		chart:   &chart,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.node),
		waitForLog(m.logs),
		waitForOutput(m.outputs),
	)
}

// submit publishes an action request on the node's input.
func (m monitorModel) submit(action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		req := bus.Request{Action: action, ID: uuid.NewString()}
		data, err := req.Encode()
		if err == nil {
			err = m.bus.Send(ctx, m.node.Input(), data)
		}
		if err != nil {
			return noticeMsg(logging.Stamp("send failed: " + err.Error()))
		}
		return noticeMsg(logging.Stamp(fmt.Sprintf("sent %s %s", action, req.ID[:8])))
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "g":
			return m, m.submit("GRAB")
		case "r":
			return m, m.submit("RETURN")
		}

	case stateMsg:
		state := control.State(msg)
		if state.Sensor != nil && state.Cycle%chartEvery == 0 {
			s := state.Sensor
			m.chart.PushDataSet("finger_left", mean(s.ActFingerLeft))
			m.chart.PushDataSet("finger_right", mean(s.ActFingerRight))
			m.chart.PushDataSet("target_left", mean(s.TgtFingerLeft))
			m.chart.DrawAll()
		}
		return m, waitForState(m.node)

	case outputMsg:
		if st, err := bus.DecodeStatus(msg.Data); err == nil {
			line := fmt.Sprintf("%s %s", st.Action, st.Status)
			if st.Reason != "" {
				line += " " + st.Reason
			}
			m.addLog(logging.Stamp(line))
		}
		return m, waitForOutput(m.outputs)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logs)

	case noticeMsg:
		m.addLog(string(msg))
		return m, nil
	}

	return m, nil
}

func mean(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	return sum / float64(len(v))
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder
	st := m.node.Status()

	sb.WriteString(titleStyle.Render("Loong Monitor"))
	sb.WriteString(fmt.Sprintf(" - %s %d Hz → %s", st.Name, st.Hz, st.Remote))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")

	sb.WriteString(stateStyles[st.State].Render(st.State.String()))
	if st.Pending != nil {
		sb.WriteString(fmt.Sprintf(" %s %d/%d", st.Pending.Action, st.Pending.Elapsed, st.Pending.Budget))
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  cycles %d  frames %d  timeouts %d  overruns %d",
		st.Loop.Cycles, st.Loop.Frames, st.Loop.Timeouts, st.Loop.Overruns)))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.lines) == 0 {
		logLines = statusStyle.Render("g grab · r return · q quit")
	} else {
		logLines = strings.Join(m.lines, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range seriesOrder {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch, ok := cfg.Channel(c.Channel)
	if !ok {
		return fmt.Errorf("no channel %q in %s", c.Channel, opts.Config)
	}

	logs := logging.NewChanWriter(64)
	log, closer := logging.New(cfg.Logging, "loong", logs)
	defer closer.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if c.Sim {
		p, err := ch.Resolve()
		if err != nil {
			return err
		}
		s, err := sim.New(sim.Config{Name: ch.Name, Channel: p.Channel, Listen: p.Remote, Logger: log})
		if err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}
		defer s.Close()
		go s.Run(ctx)
	}

	b := bus.NewMemoryBus()
	defer b.Close()
	n, err := node.New(node.Options{Channel: ch, Bus: b, Logger: log})
	if err != nil {
		return err
	}
	model := newMonitorModel(n, b, logs.Lines())

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	interrupted := ctx.Err() != nil
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runErr != nil && !interrupted {
		return fmt.Errorf("run monitor: %w", runErr)
	}
	return nil
}
