// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/labtronic/ltdhub/internal/adapter"
	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/logging"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { select {} }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }

func tuiFixture(t *testing.T, showAll bool) tuiModel {
	t.Helper()
	profile, err := config.LoadProfile(ch000Profile)
	require.NoError(t, err)

	a, err := adapter.FromProfile(profile, nopConn{}, func(string, ltd.DeviceMsg) {}, adapter.WithLogger(logging.Discard()))
	require.NoError(t, err)

	state := &linkState{}
	state.set(a)
	return initialTUIModel("TEST", profile.Model, "Serial: test", state, showAll)
}

func reading(channel string, msgType int, name string, value float64) readingEntry {
	return readingEntry{
		channel: channel,
		msg: ltd.DeviceMsg{
			SeqNumber: 7,
			MsgValue:  value,
			Config:    ltd.MsgTypeConfig{MsgType: msgType, Name: name, DataType: ltd.DataTypeFloat, SizeBytes: 4},
		},
		at: time.Now(),
	}
}

// ============================================================
// Model Tests
// ============================================================

func TestTUIModel_BatchFillsTable(t *testing.T) {
	m := tuiFixture(t, false)

	next, _ := m.Update(tuiBatchMsg{readings: []readingEntry{
		reading("LT-CH000_device_msg", 3, "READ_TEMPERATURE", 21.5),
		reading("LT-CH000_device_msg", 2, "READ_WEIGHT", 2.0),
		reading("LT-CH000_device_msg", 18, "READ_LEVEL", 0.16),
		reading("LT-CH000_device_error", 14, "DEVICE_ERROR", 240),
	}})
	m = next.(tuiModel)

	rows := m.readingsTable.Rows()
	require.Len(t, rows, 4)
	// ordered by msg_type
	assert.Equal(t, "2", rows[0][0])
	assert.Equal(t, "READ_WEIGHT", rows[0][1])
	assert.Equal(t, "device", rows[0][2])
	assert.Equal(t, "error", rows[2][2])
	assert.Equal(t, "computed", rows[3][2])
	assert.Equal(t, "0.16", rows[3][5])

	// device errors are logged even without show-all
	require.Len(t, m.events, 1)
	assert.True(t, m.events[0].isError)
	assert.Contains(t, m.events[0].message, "DEVICE_ERROR")
}

func TestTUIModel_ShowAllLogsReadings(t *testing.T) {
	m := tuiFixture(t, true)

	next, _ := m.Update(tuiBatchMsg{
		readings: []readingEntry{reading("LT-CH000_device_msg", 2, "READ_WEIGHT", 2.0)},
		events:   []eventEntry{{timestamp: time.Now(), message: "Connected"}},
	})
	m = next.(tuiModel)

	require.Len(t, m.events, 2)
	assert.Contains(t, m.events[0].message, "READ_WEIGHT")
	assert.Equal(t, "Connected", m.events[1].message)
}

func TestTUIModel_EventLogIsBounded(t *testing.T) {
	m := tuiFixture(t, false)
	for i := 0; i < m.maxEvents+20; i++ {
		m.addLogEntry("event", false)
	}
	assert.Len(t, m.events, m.maxEvents)
}

func TestTUIModel_ConnectionState(t *testing.T) {
	m := tuiFixture(t, false)

	next, _ := m.Update(connectionLostMsg{})
	m = next.(tuiModel)
	assert.True(t, m.connectionLost)
	assert.Contains(t, m.View(), "Connection lost")

	next, _ = m.Update(reconnectedMsg{connInfo: "Serial: other"})
	m = next.(tuiModel)
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Serial: other", m.connInfo)
}

func TestTUIModel_CommandLine(t *testing.T) {
	profile, err := config.LoadProfile(ch000Profile)
	require.NoError(t, err)
	m := tuiFixture(t, false).withCommandLine(profile.CommandHelp())

	m.input.SetValue("help")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(tuiModel)
	assert.Len(t, m.events, len(profile.CommandHelp()))
	assert.Empty(t, m.input.Value())

	m.input.SetValue("SI 120")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(tuiModel)
	last := m.events[len(m.events)-1]
	assert.False(t, last.isError)
	assert.Equal(t, `Sent "SI 120"`, last.message)

	m.input.SetValue("SI 999")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(tuiModel)
	assert.True(t, m.events[len(m.events)-1].isError)

	// q is text in control mode
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(tuiModel)
	assert.False(t, m.quitting)
	_ = cmd
}

func TestTUIModel_QuitKey(t *testing.T) {
	m := tuiFixture(t, false)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, next.(tuiModel).quitting)
	require.NotNil(t, cmd)
}

// ============================================================
// Helper Tests
// ============================================================

func TestEventHook_FormatsFields(t *testing.T) {
	feed := newTUIFeed()
	log := logrus.New()
	log.SetOutput(nopConn{})
	log.AddHook(&eventHook{feed: feed})

	log.WithFields(logrus.Fields{"seq": 4, "device": "LT-CH000"}).Warn("Abandoned compute cycle")
	log.Debug("not forwarded")

	select {
	case e := <-feed.events:
		assert.Equal(t, "Abandoned compute cycle device=LT-CH000 seq=4", e.message)
		assert.True(t, e.isError)
	default:
		t.Fatal("no event forwarded")
	}
	assert.Empty(t, feed.events)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{26*time.Hour + 2*time.Minute + 1*time.Second, "1 day, 2 hours, 2 minutes and 1 second"},
		{2 * time.Hour, "2 hours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.in), tt.in.String())
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "250ms", formatAge(250*time.Millisecond))
	assert.Equal(t, "12s", formatAge(12*time.Second))
	assert.Equal(t, "3m", formatAge(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h", formatAge(2*time.Hour))
}

func TestTUIModel_ViewRenders(t *testing.T) {
	m := tuiFixture(t, false)
	view := m.View()
	assert.True(t, strings.Contains(view, "TEST"))
	assert.Contains(t, view, "Device: LT-CH000")
	assert.Contains(t, view, "(no events yet)")
}
