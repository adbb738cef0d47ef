// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors
//
// ltdhub - LTD Instrument Control Hub
//
// A CLI tool for decoding, computing over and commanding LTD laboratory
// instruments over serial or WebSocket links.

package main

import (
	"os"

	"github.com/labtronic/ltdhub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
