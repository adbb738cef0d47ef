// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"

	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Device and process flags
	profilePath string
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
	redisAddr   string
)

var (
	appConfig *config.Config
	logger    *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ltdhub",
	Short: "LTD Instrument Control Hub",
	Long: `ltdhub - A CLI tool for talking to LTD laboratory instruments.

Decodes the LTD packet protocol, runs the virtual compute engine over live
readings, sends operator commands and records captures for offline analysis.

Every device command needs a profile describing the device model:
  --profile profiles/lt-ch000.yaml

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the LTD_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default from profile or 115200)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Device and process flags
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "f", "", "Device profile (YAML)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Hub config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Publish readings to this Redis server")
}

// setup loads the hub config and builds the logger, flags win over the file
func setup(cmd *cobra.Command, args []string) error {
	appConfig = config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		appConfig = loaded
	}

	if logLevel != "" {
		appConfig.Log.Level = logLevel
	}
	if logFormat != "" {
		appConfig.Log.Format = logFormat
	}
	if metricsAddr != "" {
		appConfig.Metrics.Enabled = true
		appConfig.Metrics.Addr = metricsAddr
	}
	if redisAddr != "" {
		appConfig.Redis.Enabled = true
		appConfig.Redis.Addr = redisAddr
	}

	var err error
	logger, err = logging.New(appConfig.Log.Level, appConfig.Log.Format)
	return err
}

// loadProfile loads the --profile device profile
func loadProfile() (*config.Profile, error) {
	if profilePath == "" {
		return nil, fmt.Errorf("--profile must be specified")
	}
	return config.LoadProfile(profilePath)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
