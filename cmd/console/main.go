// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/redisclient"
)

// console is a pragmatic operator TUI for observing queue depths and
// peeking into dead-letter entries, mirroring the ancestor work-queue
// tool's table+peek-overlay shape but scoped to this system's five
// namespaced work queues and two DLQs.

type viewMode int

const (
	modeList viewMode = iota
	modePeek
)

type statsMsg struct {
	rows []table.Row
	err  error
}

type peekMsg struct {
	entries []string
	err     error
}

type tickMsg struct{}

type model struct {
	cfg     config.Queues
	q       *queue.Queue
	log     *zap.Logger
	tbl     table.Model
	spinner spinner.Model
	mode    viewMode
	peek    []string
	peekKey string
	err     error
}

func newModel(cfg config.Queues, q *queue.Queue, log *zap.Logger) model {
	columns := []table.Column{{Title: "Queue", Width: 36}, {Title: "Depth", Width: 10}}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(8))
	t.SetStyles(table.Styles{
		Header:   lipgloss.NewStyle().Bold(true),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")),
	})
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{cfg: cfg, q: q, log: log, tbl: t, spinner: sp}
}

func (m model) queueKeys() []string {
	return []string{
		m.cfg.MachinistInstant, m.cfg.MachinistStandard,
		m.cfg.ArchivistInstant, m.cfg.ArchivistStandard, m.cfg.ArchivistJobgroup,
		m.cfg.DLQMachinist, m.cfg.DLQArchivist,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tea.Every(2*time.Second, func(time.Time) tea.Msg { return tickMsg{} }), spinner.Tick)
}

func (m model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		rows := make([]table.Row, 0, len(m.queueKeys()))
		for _, key := range m.queueKeys() {
			if key == "" {
				continue
			}
			n, err := m.q.Length(ctx, key)
			if err != nil {
				return statsMsg{err: err}
			}
			rows = append(rows, table.Row{key, fmt.Sprintf("%d", n)})
		}
		return statsMsg{rows: rows}
	}
}

func (m model) peekCmd(key string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		entries, err := m.q.Range(ctx, key, 0, 19)
		if err != nil {
			return peekMsg{err: err}
		}
		return peekMsg{entries: entries}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			m.mode = modeList
			return m, nil
		case "enter":
			if m.mode == modeList {
				selected := m.tbl.SelectedRow()
				if len(selected) > 0 {
					m.peekKey = selected[0]
					m.mode = modePeek
					return m, m.peekCmd(m.peekKey)
				}
			}
		}
	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tea.Every(2*time.Second, func(time.Time) tea.Msg { return tickMsg{} }))
	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.tbl.SetRows(msg.rows)
	case peekMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.peek = msg.entries
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

func (m model) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("Archivault Control Console")
	sub := m.spinner.View() + " enter: peek  esc: back  q: quit"
	if m.err != nil {
		sub += "  error: " + m.err.Error()
	}

	var body string
	switch m.mode {
	case modePeek:
		body = fmt.Sprintf("peeking %s (%d entries)\n\n", m.peekKey, len(m.peek))
		for i, e := range m.peek {
			body += fmt.Sprintf("%3d  %s\n", i, truncate(e, 100))
		}
	default:
		body = m.tbl.View()
	}

	return header + "\n" + sub + "\n\n" + body + "\n"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()
	q := queue.New(rdb, log)

	m := newModel(cfg.Worker.Queues, q, log)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "console exited with error: %v\n", err)
		os.Exit(1)
	}
}
