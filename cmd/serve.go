// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/labtronic/ltdhub/internal/adapter"
	"github.com/labtronic/ltdhub/internal/capture"
	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/hub"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var (
	serveDevices []string
	serveRecord  string
	serveStdin   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub for one or more devices",
	Long: `Run every configured device link in one process.

Each --device pairs a profile with a serial port or WebSocket URL:

  ltdhub serve \
    --device profiles/lt-ch000.yaml=/dev/ttyUSB0 \
    --device profiles/lt-re600.yaml=ws://bridge.local/re600 \
    --redis-addr localhost:6379 --metrics-addr :9090

Without --device the --profile and --port/--url flags describe a single
device. Lost links are re-opened with exponential backoff.

Readings are published to Redis and appended to --record when enabled.
Operator commands are read from stdin, one per line:

  <MODEL> <command>   send a command, e.g. "LT-CH000 SET PISTON_PUMP 120"
  <MODEL> HELP        list the device's commands
  LIST                list connected devices`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringArrayVar(&serveDevices, "device", nil, "Device as <profile>=<port or ws url> (repeatable)")
	serveCmd.Flags().StringVar(&serveRecord, "record", "", "Append all readings to this capture file")
	serveCmd.Flags().BoolVar(&serveStdin, "stdin", true, "Read operator commands from stdin")
}

// deviceSpec is one device the hub keeps connected
type deviceSpec struct {
	profile *config.Profile
	target  string
}

// parseDeviceSpecs resolves the --device flags, or the single-device flags
func parseDeviceSpecs(devices []string) ([]deviceSpec, error) {
	if len(devices) == 0 {
		profile, err := loadProfile()
		if err != nil {
			return nil, err
		}
		target := wsURL
		if target == "" {
			target = portName
		}
		if target == "" {
			return nil, fmt.Errorf("either --device or --port/--url must be specified")
		}
		return []deviceSpec{{profile: profile, target: target}}, nil
	}

	seen := make(map[string]bool)
	specs := make([]deviceSpec, 0, len(devices))
	for _, d := range devices {
		path, target, ok := strings.Cut(d, "=")
		if !ok || path == "" || target == "" {
			return nil, fmt.Errorf("invalid --device %q, expected <profile>=<port or url>", d)
		}
		profile, err := config.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		if seen[profile.Model] {
			return nil, fmt.Errorf("device model %s given twice", profile.Model)
		}
		seen[profile.Model] = true
		specs = append(specs, deviceSpec{profile: profile, target: target})
	}
	return specs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	specs, err := parseDeviceSpecs(serveDevices)
	if err != nil {
		return err
	}

	// prompt once up front rather than from every supervisor
	if wsUsername != "" && wsPassword == "" {
		for _, spec := range specs {
			if isWebSocketTarget(spec.target) {
				if wsPassword, err = GetPassword(); err != nil {
					return err
				}
				break
			}
		}
	}

	out, err := startOutputs(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	var next adapter.EmitFunc
	if serveRecord != "" {
		w, err := capture.Create(serveRecord)
		if err != nil {
			return err
		}
		defer w.Close()
		next = func(channel string, msg ltd.DeviceMsg) {
			if err := w.Emit(channel, msg); err != nil {
				logger.Errorf("Capture write failed: %v", err)
			}
		}
	}

	h := hub.New(out.emit(ctx, next), logger, out.metrics)

	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec deviceSpec) {
			defer wg.Done()
			superviseDevice(ctx, h, spec)
		}(spec)
	}

	if serveStdin {
		profiles := make(map[string]*config.Profile, len(specs))
		for _, spec := range specs {
			profiles[spec.profile.Model] = spec.profile
		}
		go readCommands(ctx, h, profiles, os.Stdin, os.Stdout)
	}

	logger.WithField("devices", len(specs)).Info("Hub running")
	<-ctx.Done()

	logger.Info("Shutting down")
	h.Close()
	wg.Wait()
	return nil
}

// superviseDevice keeps one device connected until ctx is done
func superviseDevice(ctx context.Context, h *hub.Hub, spec deviceSpec) {
	log := logger.WithField("device", spec.profile.Model)
	backoff := minBackoff

	for {
		conn, connInfo, err := OpenTarget(spec.target, spec.profile)
		if err != nil {
			log.Warnf("Open failed: %v", err)
		} else {
			session, err := h.Connect(ctx, spec.profile, conn)
			if err != nil {
				log.Errorf("Connect failed: %v", err)
				return
			}
			log.Infof("Linked over %s", connInfo)
			backoff = minBackoff
			<-session.Done()
		}

		var ok bool
		if backoff, ok = sleepBackoff(ctx, backoff); !ok {
			return
		}
	}
}

// readCommands executes operator command lines from r until EOF
func readCommands(ctx context.Context, h *hub.Hub, profiles map[string]*config.Profile, r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := execServeLine(h, profiles, line, w); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

// execServeLine runs one operator line against the hub
func execServeLine(h *hub.Hub, profiles map[string]*config.Profile, line string, w io.Writer) error {
	model, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	if strings.EqualFold(model, "list") && rest == "" {
		models := make([]string, 0, h.Len())
		h.Range(func(model string, s *hub.Session) bool {
			models = append(models, model)
			return true
		})
		sort.Strings(models)
		for _, model := range models {
			s, ok := h.Get(model)
			if !ok {
				continue
			}
			stats := s.Adapter.Statistics()
			fmt.Fprintf(w, "%s: %d packets, %d errors, %d computed\n",
				model, stats.TotalPackets, stats.Errors(), stats.ComputedReadings)
		}
		if len(models) == 0 {
			fmt.Fprintln(w, "no devices connected")
		}
		return nil
	}

	profile, ok := profiles[model]
	if !ok {
		return fmt.Errorf("unknown device %q", model)
	}

	if rest == "" || strings.EqualFold(rest, "help") {
		for _, l := range profile.CommandHelp() {
			fmt.Fprintln(w, l)
		}
		return nil
	}

	if err := h.Exec(model, rest); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: sent %q\n", model, rest)
	return nil
}
