// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/gateway"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	driveTickInterval = 100 * time.Millisecond
	velocityStep      = 20
	turnStep          = 20
	maxSetpoint       = 255
)

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

var (
	drivePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	driveTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	driveReadyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	driveNotReadyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	driveDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// driveModel is the Bubble Tea model for the teleoperation TUI
type driveModel struct {
	session  *gateway.Session
	connInfo string

	// Desired setpoint
	velocity int
	turnRate int

	// Link and telemetry snapshots, refreshed each tick
	link      gateway.LinkState
	telemetry gateway.Telemetry
	hasTel    bool

	spinner    spinner.Model
	statusLine string
	quitting   bool
}

type driveTickMsg time.Time

type driveStopDoneMsg struct{ err error }

func driveTick() tea.Cmd {
	return tea.Tick(driveTickInterval, func(t time.Time) tea.Msg {
		return driveTickMsg(t)
	})
}

func (m driveModel) Init() tea.Cmd {
	return tea.Batch(driveTick(), m.spinner.Tick)
}

func clampSetpoint(v int) int {
	if v > maxSetpoint {
		return maxSetpoint
	}
	if v < -maxSetpoint {
		return -maxSetpoint
	}
	return v
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			session := m.session
			return m, tea.Sequence(
				func() tea.Msg {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = session.Stop(ctx)
					return nil
				},
				tea.Quit,
			)

		case "up", "w":
			m.velocity = clampSetpoint(m.velocity + velocityStep)
		case "down", "s":
			m.velocity = clampSetpoint(m.velocity - velocityStep)
		case "left", "a":
			m.turnRate = clampSetpoint(m.turnRate - turnStep)
		case "right", "d":
			m.turnRate = clampSetpoint(m.turnRate + turnStep)
		case "0":
			m.turnRate = 0

		case " ":
			// Emergency stop: zero the local setpoint and preempt the
			// queue with a stop request
			m.velocity = 0
			m.turnRate = 0
			m.statusLine = "stop requested"
			session := m.session
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				err := session.Stop(ctx)
				_ = session.StartStreaming()
				return driveStopDoneMsg{err: err}
			}
		}
		return m, nil

	case driveStopDoneMsg:
		if msg.err != nil {
			m.statusLine = fmt.Sprintf("stop failed: %v", msg.err)
		} else {
			m.statusLine = "stopped"
		}
		return m, nil

	case driveTickMsg:
		m.link = m.session.LinkState()
		m.telemetry, m.hasTel = m.session.LastTelemetry()

		if m.link == gateway.LinkReady {
			if err := m.session.UpdateSetpoint(m.velocity, m.turnRate); err != nil {
				// Streaming session not up yet (fresh link); start it
				if err == gateway.ErrNotStreaming {
					_ = m.session.StartStreaming()
				}
			}
		}
		return m, driveTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m driveModel) View() string {
	if m.quitting {
		return "Stopping robot...\n"
	}

	var b strings.Builder

	b.WriteString(driveTitleStyle.Render("Zipbridge Drive"))
	b.WriteString(driveDimStyle.Render("  " + m.connInfo))
	b.WriteString("\n\n")

	linkStr := m.link.String()
	if m.link == gateway.LinkReady {
		linkStr = driveReadyStyle.Render(linkStr)
	} else {
		linkStr = m.spinner.View() + " " + driveNotReadyStyle.Render(linkStr+" (waiting for handshake)")
	}

	setpoint := fmt.Sprintf("Link:      %s\nVelocity:  %+4d\nTurn rate: %+4d", linkStr, m.velocity, m.turnRate)
	b.WriteString(drivePanelStyle.Render(setpoint))
	b.WriteString("\n")

	if m.hasTel {
		tel := fmt.Sprintf("Battery:  %d mV\nDistance: %d cm\nPWM:      L=%+4d R=%+4d\nOwner:    %c",
			m.telemetry.BatteryMv, m.telemetry.DistanceCm,
			m.telemetry.PwmLeft, m.telemetry.PwmRight, m.telemetry.Owner)
		b.WriteString(drivePanelStyle.Render(tel))
		b.WriteString("\n")
	}

	if m.statusLine != "" {
		b.WriteString(m.statusLine)
		b.WriteString("\n")
	}

	b.WriteString(driveDimStyle.Render("\narrows/wasd: steer  space: stop  0: straighten  q: quit\n"))
	return b.String()
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Interactive teleoperation TUI",
	Long: `Drive the robot interactively from the terminal.

The desired setpoint is streamed to the robot at a capped rate; releasing
input (or losing the session) lets the robot's own deadman timer bring it
to rest. Space preempts everything queued with a stop request.`,
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)
}

func runDrive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	session, connInfo, err := gateway.Dial(cfg, gateway.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer session.Close()

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = session.WaitReady(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	if err := session.StartStreaming(); err != nil {
		return err
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	model := driveModel{
		session:  session,
		connInfo: connInfo,
		link:     session.LinkState(),
		spinner:  sp,
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
