// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/labtronic/ltdhub/internal/adapter"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// eventEntry is one line of the event log
type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// readingEntry is the latest value seen for one msg_type
type readingEntry struct {
	channel string
	msg     ltd.DeviceMsg
	at      time.Time
}

// linkState is what the TUI reads from the running adapter. The control
// command swaps the adapter on reconnect, so access goes through a mutex.
type linkState struct {
	mu sync.RWMutex
	a  *adapter.Adapter
}

func (s *linkState) set(a *adapter.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a = a
}

func (s *linkState) get() *adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.a
}

// tuiModel is the Bubble Tea model shared by monitor and control
type tuiModel struct {
	title    string
	device   string
	connInfo string
	showAll  bool

	link          *linkState
	stats         ltd.Statistics
	computed      map[int]bool
	errorChannel  string
	readings      map[int]readingEntry
	readingsTable table.Model

	events    []eventEntry
	maxEvents int

	// Control mode only
	interactive bool
	input       textinput.Model
	help        []string

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type tuiTickMsg time.Time

type tuiBatchMsg struct {
	readings []readingEntry
	events   []eventEntry
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Feed
//////////////////////////////////////////////////////////////

// tuiFeed collects readings and log events from the reader goroutine and
// hands them to the program in batches
type tuiFeed struct {
	readings chan readingEntry
	events   chan eventEntry
}

func newTUIFeed() *tuiFeed {
	return &tuiFeed{
		readings: make(chan readingEntry, 256),
		events:   make(chan eventEntry, 64),
	}
}

// emit is an adapter.EmitFunc. Readings are dropped when the TUI falls behind.
func (f *tuiFeed) emit(channel string, msg ltd.DeviceMsg) {
	select {
	case f.readings <- readingEntry{channel: channel, msg: msg, at: time.Now()}:
	default:
	}
}

func (f *tuiFeed) event(message string, isError bool) {
	select {
	case f.events <- eventEntry{timestamp: time.Now(), message: message, isError: isError}:
	default:
	}
}

// run sends batched updates to p every 50ms until ctx is done
func (f *tuiFeed) run(ctx context.Context, p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var batch tuiBatchMsg

		drainLoop:
			for {
				select {
				case r := <-f.readings:
					batch.readings = append(batch.readings, r)
				case e := <-f.events:
					batch.events = append(batch.events, e)
				default:
					break drainLoop
				}
			}

			if len(batch.readings) > 0 || len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}

// eventHook forwards log entries into the event log, since the terminal
// is owned by the TUI while it runs
type eventHook struct {
	feed *tuiFeed
}

func (h *eventHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h *eventHook) Fire(entry *logrus.Entry) error {
	message := entry.Message
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			message += fmt.Sprintf(" %s=%v", k, entry.Data[k])
		}
	}
	h.feed.event(message, entry.Level <= logrus.WarnLevel)
	return nil
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func readingsColumns(width int) []table.Column {
	nameWidth := width - 58
	if nameWidth < 16 {
		nameWidth = 16
	}
	return []table.Column{
		{Title: "Type", Width: 5},
		{Title: "Channel", Width: nameWidth},
		{Title: "Kind", Width: 9},
		{Title: "Format", Width: 8},
		{Title: "Seq", Width: 6},
		{Title: "Value", Width: 14},
		{Title: "Age", Width: 6},
	}
}

func initialTUIModel(title, device, connInfo string, link *linkState, showAll bool) tuiModel {
	t := table.New(
		table.WithColumns(readingsColumns(80)),
		table.WithHeight(10),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	m := tuiModel{
		title:         title,
		device:        device,
		connInfo:      connInfo,
		showAll:       showAll,
		link:          link,
		computed:      make(map[int]bool),
		readings:      make(map[int]readingEntry),
		readingsTable: t,
		events:        make([]eventEntry, 0),
		maxEvents:     100,
		width:         80,
		height:        24,
	}

	if a := link.get(); a != nil {
		m.errorChannel = a.ErrorChannel()
		if engine := a.Engine(); engine != nil {
			for _, cfg := range engine.ComputedConfigs() {
				m.computed[cfg.MsgType] = true
			}
		}
	}

	return m
}

// withCommandLine enables the command input for control mode
func (m tuiModel) withCommandLine(help []string) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "SET PISTON_PUMP 120"
	ti.Prompt = "> "
	ti.CharLimit = 64
	ti.Width = 40
	ti.Focus()

	m.interactive = true
	m.input = ti
	m.help = help
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m tuiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tuiTickCmd()}
	if m.interactive {
		cmds = append(cmds, textinput.Blink)
	}
	return tea.Batch(cmds...)
}

func tuiTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tuiTickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.readingsTable.SetColumns(readingsColumns(m.width))
		m.readingsTable.SetHeight(m.tableHeight())

	case tuiTickMsg:
		if a := m.link.get(); a != nil {
			m.stats = a.Statistics()
			m.stats.CalculateRates()
		}
		m.refreshTable()
		return m, tuiTickCmd()

	case tuiBatchMsg:
		for _, r := range msg.readings {
			m.readings[r.msg.Config.MsgType] = r
			if m.showAll {
				m.addLogEntry(ltd.FormatDeviceMsg(r.msg), false)
			} else if r.channel == m.errorChannel {
				m.addLogEntry("Device error: "+ltd.FormatDeviceMsg(r.msg), true)
			}
		}
		for _, e := range msg.events {
			m.appendEvent(e)
		}
		if len(msg.readings) > 0 {
			m.refreshTable()
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m tuiModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "q":
		if !m.interactive {
			m.quitting = true
			return m, tea.Quit
		}
	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.readingsTable, cmd = m.readingsTable.Update(msg)
		return m, cmd
	case "enter":
		if m.interactive {
			m.execInput()
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.interactive {
		m.input, cmd = m.input.Update(msg)
	} else {
		m.readingsTable, cmd = m.readingsTable.Update(msg)
	}
	return m, cmd
}

// execInput runs the command line and logs the outcome
func (m *tuiModel) execInput() {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return
	}

	if strings.EqualFold(line, "help") {
		if len(m.help) == 0 {
			m.addLogEntry("No commands defined for this device", false)
		}
		for _, h := range m.help {
			m.addLogEntry(h, false)
		}
		return
	}

	a := m.link.get()
	if a == nil || m.connectionLost {
		m.addLogEntry(fmt.Sprintf("Not connected, dropped %q", line), true)
		return
	}

	if err := a.ExecCommand(line); err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Sent %q", line), false)
}

func (m *tuiModel) addLogEntry(message string, isError bool) {
	m.appendEvent(eventEntry{timestamp: time.Now(), message: message, isError: isError})
}

func (m *tuiModel) appendEvent(e eventEntry) {
	m.events = append(m.events, e)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// refreshTable rebuilds the readings rows ordered by msg_type
func (m *tuiModel) refreshTable() {
	types := make([]int, 0, len(m.readings))
	for t := range m.readings {
		types = append(types, t)
	}
	sort.Ints(types)

	now := time.Now()
	rows := make([]table.Row, 0, len(types))
	for _, t := range types {
		r := m.readings[t]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", t),
			r.msg.Config.Name,
			m.kind(r),
			ltd.FormatFieldType(r.msg.Config),
			fmt.Sprintf("%d", r.msg.SeqNumber),
			ltd.FormatValue(r.msg),
			formatAge(now.Sub(r.at)),
		})
	}
	m.readingsTable.SetRows(rows)
}

func (m *tuiModel) kind(r readingEntry) string {
	switch {
	case r.channel == m.errorChannel:
		return "error"
	case m.computed[r.msg.Config.MsgType]:
		return "computed"
	default:
		return "device"
	}
}

func (m tuiModel) tableHeight() int {
	// header, stats box, event log and command line
	reserved := 22
	if m.interactive {
		reserved += 2
	}
	h := m.height - reserved
	if h < 5 {
		h = 5
	}
	return h
}

// formatAge renders a short age such as 850ms, 12s or 3m
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// formatUptime formats a duration as e.g. "2 hours, 5 minutes and 1 second"
func formatUptime(d time.Duration) string {
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}

	parts := []string{}
	for _, u := range units {
		n := int64(d / u.size)
		d -= time.Duration(n) * u.size
		if n == 0 && !(u.size == time.Second && len(parts) == 0) {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	quitHint := "Press 'q' to quit"
	if m.interactive {
		quitHint = "Type HELP for commands, Esc to quit"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("Device: %s | %s | %s", m.device, m.connInfo, quitHint)))
	s.WriteString("\n\n")

	if m.connectionLost {
		s.WriteString(errorStyle.Render("✗ Connection lost, reconnecting..."))
		s.WriteString("\n\n")
	}

	s.WriteString(m.renderStatistics(statsLabelStyle, statsValueStyle, errorStyle, headerStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("Readings:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.readingsTable.View()))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	if m.interactive {
		s.WriteString("\n")
		s.WriteString(m.input.View())
	}

	return s.String()
}

func (m tuiModel) renderStatistics(statsLabelStyle, statsValueStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	stats := m.stats
	var validPercent, errorPercent float64
	if stats.TotalPackets > 0 {
		validPercent = float64(stats.ValidPackets) * 100.0 / float64(stats.TotalPackets)
		errorPercent = float64(stats.Errors()) * 100.0 / float64(stats.TotalPackets)
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Errors(), errorPercent)),
	))

	if stats.Errors() > 0 || stats.FrameOverflows > 0 {
		content.WriteString(fmt.Sprintf("%s crc %d, size %d, version %d, config %d, other %d, overflow %d\n",
			statsLabelStyle.Render("Breakdown:"),
			stats.CRCErrors, stats.SizeErrors, stats.VersionErrors, stats.ConfigErrors, stats.OtherErrors, stats.FrameOverflows,
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Decoded:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.DecodedReadings)),
		statsLabelStyle.Render("Computed:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.ComputedReadings)),
	))

	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	if stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", stats.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))
	if !stats.StartTime.IsZero() {
		content.WriteString("   ")
		content.WriteString(headerStyle.Render("up " + formatUptime(time.Since(stats.StartTime))))
	}

	return boxStyle.Render(content.String()) + "\n"
}

func (m tuiModel) renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := 6
	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var content strings.Builder
	if len(m.events) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.events); i++ {
			entry := m.events[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				content.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				content.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(strings.TrimRight(content.String(), "\n")))
	return s.String()
}

// runTUI hands the terminal to the model until the user quits. Log output
// is redirected into the event log while it runs.
func runTUI(ctx context.Context, m tuiModel, feed *tuiFeed, start func(p *tea.Program)) error {
	restore := captureLogs(feed)
	defer restore()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go feed.run(feedCtx, p)
	if start != nil {
		start(p)
	}

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// captureLogs routes the logger into the event log and returns a function
// restoring the previous output and hooks
func captureLogs(feed *tuiFeed) func() {
	out := logger.Out
	hooks := logger.ReplaceHooks(make(logrus.LevelHooks))
	logger.SetOutput(io.Discard)
	logger.AddHook(&eventHook{feed: feed})

	return func() {
		logger.SetOutput(out)
		logger.ReplaceHooks(hooks)
	}
}
