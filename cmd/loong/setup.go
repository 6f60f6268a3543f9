package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Defaults bool `long:"defaults" description:"Write the default configuration without asking"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Loong Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()

	cfg := robot.DefaultConfig()
	if !c.Defaults {
		if err := askConfig(cfg); err != nil {
			return err
		}
	}
	if err := robot.ValidateConfig(cfg); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(renderChannels(cfg))
	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the channels with: " + headerStyle.Render("loong run"))
	return nil
}

// askConfig walks the user through the channels, the admin server and the
// OCU, editing cfg in place.
func askConfig(cfg *robot.Config) error {
	selected := []string{"mani", "joint"}
	var profileOpts []huh.Option[string]
	for _, name := range robot.ProfileNames() {
		profileOpts = append(profileOpts, huh.NewOption(name, name))
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Channels").
				Description("Which SDK channels does this robot expose?").
				Options(profileOpts...).
				Value(&selected).
				Validate(func(v []string) error {
					if len(v) == 0 {
						return fmt.Errorf("pick at least one channel")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	var channels []robot.ChannelConfig
	for _, name := range selected {
		ch := channelDefaults(cfg, name)
		hz := strconv.Itoa(ch.Hz)
		fmt.Println(subHeaderStyle.Render("━━━ Channel " + name + " ━━━"))
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("SDK address").Value(&ch.Remote).Validate(validateAddr),
				huh.NewInput().Title("Control rate (Hz)").Value(&hz).Validate(validateHz),
				huh.NewInput().Title("Bus input id").Value(&ch.Input),
				huh.NewInput().Title("Bus output id").Value(&ch.Output),
			),
		).Run()
		if err != nil {
			return err
		}
		ch.Hz, _ = strconv.Atoi(hz)
		channels = append(channels, ch)
	}
	cfg.Channels = channels

	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title("Serve the admin API and bus hub?").Value(&cfg.Admin.Enabled),
			huh.NewInput().Title("Admin address").Value(&cfg.Admin.Addr).Validate(validateAddr),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Keep the OCU key channel alive?").Value(&cfg.OCU.Enabled),
			huh.NewInput().Title("OCU address").Value(&cfg.OCU.Remote).Validate(validateAddr),
			huh.NewSelect[string]().
				Title("Enable sequence").
				Options(huh.NewOption("manipulation", "mani"), huh.NewOption("joint SDK", "joint")).
				Value(&cfg.OCU.Sequence),
		),
	).Run()
}

func channelDefaults(cfg *robot.Config, profile string) robot.ChannelConfig {
	if ch, ok := cfg.Channel(profile); ok {
		return ch
	}
	p, _ := robot.ProfileByName(profile)
	return robot.ChannelConfig{
		Name:    profile,
		Profile: profile,
		Local:   "0.0.0.0:0",
		Remote:  p.Remote,
		Hz:      50,
		Input:   profile + "_command",
		Output:  profile + "_status",
	}
}

func validateAddr(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("expected host:port")
	}
	return nil
}

func validateHz(s string) error {
	hz, err := strconv.Atoi(s)
	if err != nil || hz <= 0 || hz > 1000 {
		return fmt.Errorf("expected a rate between 1 and 1000")
	}
	return nil
}

// renderChannels summarises the configured channels and their frame sizes.
func renderChannels(cfg *robot.Config) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableNameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		p, err := ch.Resolve()
		if err != nil {
			rows = append(rows, []string{ch.Name, "invalid", err.Error(), "", "", ""})
			continue
		}
		l := frame.MustLayout(p.Channel)
		rows = append(rows, []string{
			ch.Name,
			p.Channel.Kind.String(),
			p.Remote,
			fmt.Sprintf("%d", ch.Hz),
			fmt.Sprintf("%d / %d", l.CommandSize(), l.SensorSize()),
			ch.Input + " → " + ch.Output,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Channel", "Kind", "SDK", "Hz", "Cmd/Sens bytes", "Bus").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableNameStyle
			}
			return tableCellStyle
		}).
		Render()
}
