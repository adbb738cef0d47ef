// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval time.Duration
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor live and computed readings with link statistics",
	Long: `Track live readings, computed parameters and decode errors.

The terminal UI shows a table with the latest value of every channel,
including computed parameters from the profile's compute engine and device
error readings, link statistics (packet rate, error rate and a breakdown of
decode failures) and an event log.

In text mode only errors and device error readings are printed by default.
Use --show-all to print every reading. A statistics summary is printed at
--stats-interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all readings (not just errors)")
	monitorCmd.Flags().DurationVar(&statsInterval, "stats-interval", 0, "Statistics summary interval, text mode (default from config)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runMonitorTUI()
	}
	return runMonitorText()
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI() error {
	ctx, cancel := signalContext()
	defer cancel()

	feed := newTUIFeed()
	l, err := openLink(ctx, feed.emit)
	if err != nil {
		return err
	}
	defer l.Close()

	state := &linkState{}
	state.set(l.Adapter)
	m := initialTUIModel("LTDHUB - MONITOR", l.profile.Model, l.info, state, showAll)

	runErr := make(chan error, 1)
	err = runTUI(ctx, m, feed, func(_ *tea.Program) {
		go func() { runErr <- l.Run(ctx) }()
	})
	cancel()
	if err != nil {
		return err
	}
	return <-runErr
}

// runMonitorText prints errors and a periodic statistics summary
func runMonitorText() error {
	ctx, cancel := signalContext()
	defer cancel()

	interval := statsInterval
	if interval <= 0 {
		interval = appConfig.Adapter.StatsInterval
	}

	errorChannel := ""
	l, err := openLink(ctx, func(channel string, msg ltd.DeviceMsg) {
		timestamp := time.Now().Format("15:04:05.000")
		if channel == errorChannel {
			fmt.Printf("[%s] \033[1;31mDEVICE ERROR:\033[0m %s\n", timestamp, ltd.FormatDeviceMsg(msg))
			return
		}
		if showAll {
			fmt.Printf("[%s] %s\n", timestamp, ltd.FormatDeviceMsg(msg))
		}
	})
	if err != nil {
		return err
	}
	defer l.Close()
	errorChannel = l.ErrorChannel()

	fmt.Printf("ltdhub - Monitor\n")
	fmt.Printf("Device: %s\n", l.profile.Model)
	fmt.Printf("Connection: %s\n", l.info)
	fmt.Printf("Statistics interval: %s\n", interval)
	if showAll {
		fmt.Printf("Mode: All readings\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := l.Statistics()
				fmt.Printf("\n%s\n", stats.String())
			}
		}
	}()

	err = l.Run(ctx)

	stats := l.Statistics()
	fmt.Printf("\nFinal %s", stats.String())
	return err
}
