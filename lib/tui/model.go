// Package tui is a live terminal view of the true-time estimate.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-i2p/go-truetime/lib/events"
	"github.com/go-i2p/go-truetime/lib/offset"
)

const (
	tickInterval = 100 * time.Millisecond
	maxEvents    = 5
)

// Source is what the view reads and drives. *truetime.Client satisfies it.
type Source interface {
	NowMillis() (int64, error)
	Sample() (offset.Sample, error)
	QueryServers(ctx context.Context, hosts ...string) (offset.Sample, error)
	Clear() error
}

// TickMsg refreshes the displayed time.
type TickMsg time.Time

// SyncedMsg reports the end of a sync started from the view.
type SyncedMsg struct {
	Sample offset.Sample
	Err    error
}

// EventMsg reports a clock event seen by the daemon's watcher.
type EventMsg struct {
	Kind events.Kind
	At   time.Time
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the bubbletea model of the view.
type Model struct {
	src     Source
	servers []string

	trueNow   int64
	nowErr    error
	sample    offset.Sample
	hasSample bool
	syncing   bool
	lastSync  error
	events    []string
}

// NewModel returns a view over src that syncs against servers on demand.
func NewModel(src Source, servers []string) Model {
	return Model{src: src, servers: servers}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case TickMsg:
		m.refresh()
		return m, tick()
	case SyncedMsg:
		m.syncing = false
		m.lastSync = msg.Err
		m.refresh()
	case EventMsg:
		m.events = append(m.events, fmt.Sprintf("%s %s", msg.At.Format(time.TimeOnly), msg.Kind))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		m.refresh()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		return m, m.syncCmd()
	case "c":
		m.lastSync = m.src.Clear()
		m.refresh()
	}
	return m, nil
}

func (m Model) syncCmd() tea.Cmd {
	src, servers := m.src, m.servers
	return func() tea.Msg {
		s, err := src.QueryServers(context.Background(), servers...)
		return SyncedMsg{Sample: s, Err: err}
	}
}

func (m *Model) refresh() {
	m.trueNow, m.nowErr = m.src.NowMillis()
	s, err := m.src.Sample()
	m.sample, m.hasSample = s, err == nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("truetime"))
	b.WriteString("\n\n")

	if m.nowErr != nil {
		b.WriteString(row("true time", badStyle.Render("unavailable")))
	} else {
		t := time.UnixMilli(m.trueNow).UTC()
		b.WriteString(row("true time", goodStyle.Render(t.Format("2006-01-02 15:04:05.000 MST"))))
	}
	if m.hasSample {
		b.WriteString(row("offset", fmt.Sprintf("%+d ms", m.sample.SystemClockOffset)))
		b.WriteString(row("rtt", fmt.Sprintf("%d ms", m.sample.RoundTripDelay)))
	} else {
		b.WriteString(row("offset", "-"))
	}

	switch {
	case m.syncing:
		b.WriteString(row("sync", "querying..."))
	case m.lastSync != nil:
		b.WriteString(row("sync", badStyle.Render(m.lastSync.Error())))
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, e := range m.events {
			b.WriteString(e + "\n")
		}
	}
	b.WriteString("\ns: sync  c: clear  q: quit")
	return boxStyle.Render(b.String()) + "\n"
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// Run shows the view until the user quits. Events received on evs are
// appended to the event list.
func Run(ctx context.Context, src Source, servers []string, evs <-chan events.Kind) error {
	p := tea.NewProgram(NewModel(src, servers), tea.WithAltScreen(), tea.WithContext(ctx))
	if evs != nil {
		go func() {
			for {
				select {
				case k := <-evs:
					p.Send(EventMsg{Kind: k, At: time.Now()})
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
