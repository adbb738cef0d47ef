// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package publish fans decoded and computed readings out to Redis
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher receives every reading emitted on a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, msg ltd.DeviceMsg) error
	Close() error
}

// Reading is the JSON document published for each message
type Reading struct {
	Channel   string        `json:"channel"`
	Timestamp int64         `json:"time_ms"`
	DeviceMsg ltd.DeviceMsg `json:"device_msg"`
}

// NewReading stamps msg with the current time
func NewReading(channel string, msg ltd.DeviceMsg, now time.Time) Reading {
	return Reading{
		Channel:   channel,
		Timestamp: now.UnixMilli(),
		DeviceMsg: msg,
	}
}

// HistoryKey is the list holding recent readings of one channel and msg_type
func HistoryKey(prefix, channel string, msgType int) string {
	return fmt.Sprintf("%s:%s:%d", prefix, channel, msgType)
}

// RedisPublisher publishes readings on Redis Pub/Sub and keeps a bounded
// history list per msg_type
type RedisPublisher struct {
	client     *redis.Client
	prefix     string
	historyLen int64
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewRedisPublisher connects and pings the server
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.WithField("addr", cfg.Addr).Info("Connected to redis")

	return &RedisPublisher{
		client:     client,
		prefix:     cfg.KeyPrefix,
		historyLen: cfg.HistoryLen,
		log:        log,
		now:        time.Now,
	}, nil
}

// Publish sends msg to the channel and appends it to the history list
func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg ltd.DeviceMsg) error {
	data, err := json.Marshal(NewReading(channel, msg, p.now()))
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	if p.historyLen <= 0 {
		return nil
	}

	key := HistoryKey(p.prefix, channel, msg.Config.MsgType)
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.historyLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.WithField("key", key).Warnf("Failed to append history: %v", err)
	}

	return nil
}

// History returns up to n of the most recent readings, newest first
func (p *RedisPublisher) History(ctx context.Context, channel string, msgType int, n int64) ([]Reading, error) {
	raw, err := p.client.LRange(ctx, HistoryKey(p.prefix, channel, msgType), 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Reading, 0, len(raw))
	for _, r := range raw {
		var reading Reading
		if err := json.Unmarshal([]byte(r), &reading); err != nil {
			return nil, fmt.Errorf("corrupt history entry: %w", err)
		}
		out = append(out, reading)
	}
	return out, nil
}

// Close closes the client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Nop discards readings
type Nop struct{}

func (Nop) Publish(context.Context, string, ltd.DeviceMsg) error { return nil }

func (Nop) Close() error { return nil }
