// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/framebridge/bridgeclient"
)

const (
	barWidth    = 40
	minBarWidth = 10
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type (
	telemetryMsg    bridgeclient.Telemetry
	serverErrorMsg  string
	disconnectedMsg struct{}
)

type watchKeys struct {
	Quit key.Binding
}

var defaultWatchKeys = watchKeys{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// watchModel is the live metrics view.
type watchModel struct {
	target      monitorTarget
	keys        watchKeys
	utilization progress.Model

	latest   bridgeclient.Telemetry
	received int

	// failure is set when the capture or the connection ended; the
	// view quits and watch returns it.
	failure string
}

func newWatchModel(target monitorTarget) watchModel {
	return watchModel{
		target:      target,
		keys:        defaultWatchKeys,
		utilization: progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
	}
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.utilization.Width = max(minBarWidth, min(barWidth, msg.Width-labelStyle.GetWidth()-2))
	case telemetryMsg:
		m.latest = bridgeclient.Telemetry(msg)
		m.received++
	case serverErrorMsg:
		m.failure = "capture ended: " + string(msg)
		return m, tea.Quit
	case disconnectedMsg:
		m.failure = "bridge server closed the connection"
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("framebridge  %s (pid %d)", m.target.processName, m.target.processID)))
	b.WriteString("\n\n")

	if m.received == 0 {
		b.WriteString(faintStyle.Render("waiting for the first frame..."))
		b.WriteString("\n")
	} else {
		t := m.latest
		row := func(label, value string) {
			b.WriteString(labelStyle.Render(label))
			b.WriteString(value)
			b.WriteString("\n")
		}
		row("FPS", valueStyle.Render(fmt.Sprintf("%.1f", t.FPS)))
		row("1% / 0.1% low", fmt.Sprintf("%.1f / %.1f", t.OnePercentLowFPS, t.PointOnePercentLowFPS))
		row("Frame time", fmt.Sprintf("%.2f ms", t.AverageFrameTimeMs))
		row("GPU", fmt.Sprintf("time %.2f  busy %.2f  wait %.2f  latency %.2f ms", t.GPUTimeMs, t.GPUBusyMs, t.GPUWaitMs, t.GPULatencyMs))
		row("CPU", fmt.Sprintf("busy %.2f  wait %.2f ms", t.CPUBusyMs, t.CPUWaitMs))
		row("Display latency", fmt.Sprintf("%.2f ms", t.DisplayLatencyMs))
		row("GPU utilization", m.utilization.ViewAs(min(max(t.GPUUtilization, 0), 100)/100))
	}

	b.WriteString("\n")
	if m.failure != "" {
		b.WriteString(errorStyle.Render(m.failure))
	} else {
		b.WriteString(faintStyle.Render(fmt.Sprintf("%d updates  %s to quit", m.received, m.keys.Quit.Help().Key)))
	}
	b.WriteString("\n")
	return b.String()
}

// watch runs the live view until the user quits, ctx ends, or the
// session ends.
func watch(ctx context.Context, client *bridgeclient.Client, target monitorTarget, serverErrors <-chan string) error {
	program := tea.NewProgram(newWatchModel(target))

	done := make(chan struct{})
	defer close(done)
	go func() {
		disconnected := client.Disconnected()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				program.Quit()
				return
			case telemetry := <-client.Metrics():
				program.Send(telemetryMsg(telemetry))
			case message := <-serverErrors:
				program.Send(serverErrorMsg(message))
			case <-disconnected:
				program.Send(disconnectedMsg{})
				return
			}
		}
	}()

	final, err := program.Run()
	if err != nil {
		return err
	}
	if model, ok := final.(watchModel); ok && model.failure != "" {
		return errors.New(model.failure)
	}
	return nil
}
