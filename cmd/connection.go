// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labtronic/ltdhub/internal/config"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	defaultBaudRate = 115200

	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
	wsWriteTimeout     = 5 * time.Second
)

// Connection is a byte stream to one device, over a serial port or a
// WebSocket bridge
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection is a serial port opened 8N1
type SerialConnection struct {
	serial.Port
}

// ErrConnectionClosed is returned by reads after the WebSocket has failed
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection streams the payloads of binary WebSocket frames as one
// byte stream. Text frames from the bridge are ignored.
type WebSocketConnection struct {
	conn *websocket.Conn

	// current binary frame, nil between frames
	frame  io.Reader
	failed bool

	writeMu sync.Mutex
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.failed {
		return 0, ErrConnectionClosed
	}

	for {
		if w.frame == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				w.failed = true
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			w.frame = r
		}

		n, err := w.frame.Read(p)
		if errors.Is(err, io.EOF) {
			w.frame = nil
			err = nil
		}
		if err != nil {
			w.failed = true
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Write sends p as one binary frame
func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return 0, err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens portName at baudRate and discards anything
// already buffered by the driver
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", portName, err)
	}

	return &SerialConnection{Port: port}, nil
}

// OpenWebSocketConnection dials a bridge. Credentials are sent as HTTP Basic
// auth; user info in the URL is used when username is empty.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	u.User = nil

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: wsHandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	header := http.Header{}
	if username != "" && password != "" {
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads LTD_PASSWORD, or asks for the password on stderr. Input
// is hidden when stdin is a terminal.
func GetPassword() (string, error) {
	if pw := os.Getenv("LTD_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// wsPassword is asked for once and reused on reconnect
var wsPassword string

// OpenConnection opens the device given by --url or --port
func OpenConnection(profile *config.Profile) (Connection, string, error) {
	switch {
	case wsURL != "":
		return OpenTarget(wsURL, profile)
	case portName != "":
		return OpenTarget(portName, profile)
	}
	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

func isWebSocketTarget(target string) bool {
	return strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://")
}

// OpenTarget opens a ws:// or wss:// URL as a WebSocket connection and
// anything else as a serial port. The baud rate is --baud, then the
// profile's, then 115200.
func OpenTarget(target string, profile *config.Profile) (Connection, string, error) {
	if isWebSocketTarget(target) {
		if wsUsername != "" && wsPassword == "" {
			pw, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			wsPassword = pw
		}

		conn, err := OpenWebSocketConnection(target, wsUsername, wsPassword, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + target, nil
	}

	baud := baudRate
	if baud == 0 && profile != nil {
		baud = profile.BaudRate
	}
	if baud == 0 {
		baud = defaultBaudRate
	}

	conn, err := OpenSerialConnection(target, baud)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %d baud", target, baud), nil
}
