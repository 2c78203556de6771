package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/a-h/labreport/client"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type ReportCommand struct {
	ServerURL        string `help:"The URL of the lab report server." env:"LABREPORT_SERVER_URL" default:"http://localhost:9020"`
	APIKey           string `help:"The API key for the lab report server." env:"LABREPORT_API_KEY" default:""`
	Manual           string `arg:"" help:"The lab manual (.pdf, .docx or .txt)." type:"existingfile"`
	Observations     string `help:"The observations, usually JSON." default:""`
	ObservationsFile string `help:"A file containing the observations, used instead of --observations." default:""`
	Plain            bool   `help:"Print the report instead of showing it in a viewer." default:"false"`
}

func (c ReportCommand) Run(ctx context.Context) (err error) {
	observations := c.Observations
	if c.ObservationsFile != "" {
		b, err := os.ReadFile(c.ObservationsFile)
		if err != nil {
			return fmt.Errorf("failed to read observations file: %w", err)
		}
		observations = string(b)
	}
	if observations == "" {
		return errors.New("no observations provided, use --observations or --observations-file")
	}
	manual, err := os.ReadFile(c.Manual)
	if err != nil {
		return fmt.Errorf("failed to read manual: %w", err)
	}

	rsc := client.New(c.ServerURL, c.APIKey)
	generate := func() (string, error) {
		resp, err := rsc.GeneratePost(ctx, filepath.Base(c.Manual), bytes.NewReader(manual), observations)
		if err != nil {
			return "", err
		}
		return resp.Report, nil
	}

	if c.Plain {
		report, err := generate()
		if err != nil {
			return err
		}
		fmt.Println(report)
		return nil
	}

	p := tea.NewProgram(newReportModel(filepath.Base(c.Manual), generate), tea.WithContext(ctx), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(reportModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// Dracula color scheme.
var (
	Background  = lipgloss.Color("#282a36")
	CurrentLine = lipgloss.Color("#44475a")
	Foreground  = lipgloss.Color("#f8f8f2")
	Comment     = lipgloss.Color("#6272a4")
	Cyan        = lipgloss.Color("#8be9fd")
	Pink        = lipgloss.Color("#ff79c6")
	Purple      = lipgloss.Color("#bd93f9")
	Red         = lipgloss.Color("#ff5555")
)

var (
	titleStyle  = lipgloss.NewStyle().Background(CurrentLine).Foreground(Purple).Bold(true).Padding(0, 1)
	reportStyle = lipgloss.NewStyle().Background(Background).Foreground(Foreground).Padding(1)
	statusStyle = lipgloss.NewStyle().Foreground(Comment)
	errorStyle  = lipgloss.NewStyle().Foreground(Red).Bold(true).Padding(1)
)

type reportMsg string

type reportErrMsg struct {
	err error
}

type reportModel struct {
	title    string
	generate func() (string, error)
	spinner  spinner.Model
	viewport viewport.Model
	report   string
	loading  bool
	err      error
}

func newReportModel(title string, generate func() (string, error)) reportModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(Pink)
	return reportModel{
		title:    title,
		generate: generate,
		spinner:  s,
		viewport: viewport.New(80, 20),
		loading:  true,
	}
}

func (m reportModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.request())
}

func (m reportModel) request() tea.Cmd {
	return func() tea.Msg {
		report, err := m.generate()
		if err != nil {
			return reportErrMsg{err: err}
		}
		return reportMsg(report)
	}
}

func (m reportModel) render() string {
	width := max(m.viewport.Width-4, 20)
	return reportStyle.Width(m.viewport.Width).Render(wordwrap.String(m.report, width))
}

func (m reportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case reportMsg:
		m.loading = false
		m.report = string(msg)
		m.viewport.SetContent(m.render())
		return m, nil
	case reportErrMsg:
		m.loading = false
		m.err = msg.err
		return m, nil
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		if !m.loading {
			m.viewport.SetContent(m.render())
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c", "q":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
}

func (m reportModel) View() string {
	title := titleStyle.Render("Lab report: " + m.title)
	switch {
	case m.err != nil:
		return fmt.Sprintf("%s\n%s\n%s\n", title, errorStyle.Render("Error: "+m.err.Error()), statusStyle.Render("q to quit"))
	case m.loading:
		return fmt.Sprintf("%s\n\n %s Generating report...\n", title, m.spinner.View())
	}
	status := statusStyle.Render(fmt.Sprintf("%3.f%% ↑/↓ to scroll, q to quit", m.viewport.ScrollPercent()*100))
	return fmt.Sprintf("%s\n%s\n%s\n", title, m.viewport.View(), status)
}
