// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/labtronic/ltdhub/internal/config"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling an LTD device",
	Long: `Control an LTD device via an interactive terminal UI.

The TUI shows the same readings table, statistics and event log as monitor,
plus a command line accepting the profile's operator commands:

  SET PISTON_PUMP 120
  SI 120
  CAB

Type HELP to list the commands the device profile defines. Commands are
checked against the profile's bounds before they are sent.

The connection is re-established with exponential backoff when it is lost.
Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles the adapter lifecycle and reconnection
type connectionManager struct {
	profile *config.Profile
	out     *outputs
	feed    *tuiFeed
	state   *linkState
	p       *tea.Program
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	profile, err := loadProfile()
	if err != nil {
		return err
	}

	out, err := startOutputs(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	conn, connInfo, err := OpenConnection(profile)
	if err != nil {
		return err
	}

	feed := newTUIFeed()
	a, err := out.newAdapter(ctx, profile, conn, feed.emit)
	if err != nil {
		return err
	}

	cm := &connectionManager{
		profile: profile,
		out:     out,
		feed:    feed,
		state:   &linkState{},
	}
	cm.state.set(a)

	m := initialTUIModel("LTDHUB - CONTROL", profile.Model, connInfo, cm.state, false).
		withCommandLine(profile.CommandHelp())

	done := make(chan struct{})
	err = runTUI(ctx, m, feed, func(p *tea.Program) {
		cm.p = p
		go func() {
			defer close(done)
			cm.readerLoop(ctx)
		}()
	})

	cancel()
	<-done
	return err
}

// readerLoop runs the current adapter and replaces it when the link drops
func (cm *connectionManager) readerLoop(ctx context.Context) {
	for {
		a := cm.state.get()
		err := a.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.WithField("device", cm.profile.Model).Errorf("Link failed: %v", err)
		}

		cm.p.Send(connectionLostMsg{})

		if !cm.reconnect(ctx) {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect(ctx context.Context) bool {
	backoff := minBackoff
	for {
		var ok bool
		if backoff, ok = sleepBackoff(ctx, backoff); !ok {
			return false
		}

		conn, connInfo, err := OpenConnection(cm.profile)
		if err != nil {
			logger.WithField("device", cm.profile.Model).Debugf("Reconnect failed: %v", err)
			continue
		}

		a, err := cm.out.newAdapter(ctx, cm.profile, conn, cm.feed.emit)
		if err != nil {
			logger.WithField("device", cm.profile.Model).Errorf("Adapter setup failed: %v", err)
			return false
		}

		cm.state.set(a)
		cm.p.Send(reconnectedMsg{connInfo: connInfo})
		return true
	}
}
