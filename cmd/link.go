// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labtronic/ltdhub/internal/adapter"
	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/monitor"
	"github.com/labtronic/ltdhub/internal/publish"
	"github.com/labtronic/ltdhub/pkg/ltd"
)

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// outputs holds the optional metrics and Redis fan-out enabled by config
type outputs struct {
	metrics   *monitor.Metrics
	publisher publish.Publisher
}

// startOutputs starts the metrics server and connects the Redis publisher
// when they are enabled
func startOutputs(ctx context.Context) (*outputs, error) {
	out := &outputs{publisher: publish.Nop{}}

	if appConfig.Metrics.Enabled {
		out.metrics = monitor.NewMetrics()
		out.metrics.StartMetricsServer(ctx, appConfig.Metrics.Addr, logger)
	}

	if appConfig.Redis.Enabled {
		p, err := publish.NewRedisPublisher(ctx, appConfig.Redis, logger)
		if err != nil {
			return nil, err
		}
		out.publisher = p
	}

	return out, nil
}

// emit returns an emit function forwarding to Redis, then to next
func (o *outputs) emit(ctx context.Context, next adapter.EmitFunc) adapter.EmitFunc {
	return func(channel string, msg ltd.DeviceMsg) {
		if err := o.publisher.Publish(ctx, channel, msg); err != nil {
			logger.WithField("channel", channel).Warnf("Publish failed: %v", err)
		}
		if next != nil {
			next(channel, msg)
		}
	}
}

func (o *outputs) options() []adapter.Option {
	opts := []adapter.Option{
		adapter.WithLogger(logger),
		adapter.WithReadBufferSize(appConfig.Adapter.ReadBufferSize),
	}
	if o.metrics != nil {
		opts = append(opts, adapter.WithMetrics(o.metrics))
	}
	return opts
}

func (o *outputs) Close() error {
	return o.publisher.Close()
}

// link is an open device connection with its adapter
type link struct {
	*adapter.Adapter
	profile *config.Profile
	out     *outputs
	info    string
}

// openLink loads the profile, opens the connection and builds an adapter
// whose readings go to Redis (if enabled) and then to emit
func openLink(ctx context.Context, emit adapter.EmitFunc, extra ...adapter.Option) (*link, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}

	out, err := startOutputs(ctx)
	if err != nil {
		return nil, err
	}

	conn, connInfo, err := OpenConnection(profile)
	if err != nil {
		out.Close()
		return nil, err
	}

	a, err := out.newAdapter(ctx, profile, conn, emit, extra...)
	if err != nil {
		out.Close()
		return nil, err
	}

	return &link{Adapter: a, profile: profile, out: out, info: connInfo}, nil
}

// newAdapter builds an adapter for profile over conn, closing conn on error
func (o *outputs) newAdapter(ctx context.Context, profile *config.Profile, conn Connection, emit adapter.EmitFunc, extra ...adapter.Option) (*adapter.Adapter, error) {
	a, err := adapter.FromProfile(profile, conn, o.emit(ctx, emit), append(o.options(), extra...)...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the connection and the publisher
func (l *link) Close() error {
	l.Adapter.Close()
	return l.out.Close()
}

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// sleepBackoff waits for d and returns the next, doubled delay.
// Returns false if ctx ended first.
func sleepBackoff(ctx context.Context, d time.Duration) (time.Duration, bool) {
	select {
	case <-ctx.Done():
		return d, false
	case <-time.After(d):
	}

	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d, true
}
