// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package hub owns the running device sessions, one per device model
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/labtronic/ltdhub/internal/adapter"
	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/monitor"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// Hub errors
var (
	ErrAlreadyConnected = errors.New("device already connected")
	ErrNotConnected     = errors.New("no connected device")
)

// Session is one running adapter
type Session struct {
	Adapter *adapter.Adapter

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the session's read loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the read loop error once Done is closed
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Hub tracks sessions by device model. It is safe for concurrent use.
type Hub struct {
	sessions *xsync.MapOf[string, *Session]
	emit     adapter.EmitFunc
	log      logrus.FieldLogger
	metrics  *monitor.Metrics
	wg       sync.WaitGroup
}

// New creates a hub that sends every reading to emit
func New(emit adapter.EmitFunc, log logrus.FieldLogger, metrics *monitor.Metrics) *Hub {
	return &Hub{
		sessions: xsync.NewMapOf[string, *Session](),
		emit:     emit,
		log:      log,
		metrics:  metrics,
	}
}

// Connect starts a session for profile over conn. The connection is closed
// if the model already has a session or the profile cannot be built.
func (h *Hub) Connect(ctx context.Context, profile *config.Profile, conn io.ReadWriteCloser) (*Session, error) {
	opts := []adapter.Option{adapter.WithLogger(h.log)}
	if h.metrics != nil {
		opts = append(opts, adapter.WithMetrics(h.metrics))
	}

	a, err := adapter.FromProfile(profile, conn, h.emit, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		Adapter: a,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if _, loaded := h.sessions.LoadOrStore(profile.Model, session); loaded {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, profile.Model)
	}
	h.updateGauge()

	h.log.WithField("device", profile.Model).Info("Connected")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		session.err = a.Run(runCtx)
		if session.err != nil {
			h.log.WithField("device", profile.Model).Errorf("Device link failed: %v", session.err)
		}

		// only remove the entry if it still belongs to this session
		h.sessions.Compute(profile.Model, func(old *Session, loaded bool) (*Session, bool) {
			return old, !loaded || old == session
		})
		h.updateGauge()
		h.log.WithField("device", profile.Model).Info("Disconnected")
		close(session.done)
	}()

	return session, nil
}

// Disconnect stops the session for model and waits for it to exit
func (h *Hub) Disconnect(model string) error {
	session, ok := h.sessions.LoadAndDelete(model)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, model)
	}
	h.updateGauge()

	session.cancel()
	<-session.done
	return nil
}

// Get returns the session for model
func (h *Hub) Get(model string) (*Session, bool) {
	return h.sessions.Load(model)
}

// Exec runs an operator command on the model's device
func (h *Hub) Exec(model, line string) error {
	session, ok := h.sessions.Load(model)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, model)
	}
	return session.Adapter.ExecCommand(line)
}

// Range calls f for every session until f returns false
func (h *Hub) Range(f func(model string, s *Session) bool) {
	h.sessions.Range(f)
}

// Len returns the number of sessions
func (h *Hub) Len() int {
	return h.sessions.Size()
}

// Close disconnects every session and waits for their read loops
func (h *Hub) Close() {
	h.sessions.Range(func(model string, s *Session) bool {
		s.cancel()
		return true
	})
	h.wg.Wait()
	h.sessions.Clear()
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.ActiveDevices.Set(float64(h.sessions.Size()))
	}
}
