// Package redis mirrors the latest reading of every sensor into Redis so the
// operator-facing facade can serve "current value" queries and live
// subscriptions without touching the time-series store.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"iot-systemv1/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis mirror.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes latest-reading keys and pubsub notifications.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads readings from the channel and mirrors them into Redis.
// Blocks until ctx is cancelled or the channel is closed.
func (w *Writer) Run(ctx context.Context, readings <-chan model.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			w.writeReading(ctx, r)
		}
	}
}

// writeReading performs pipelined SET latest + PUBLISH for one reading.
func (w *Writer) writeReading(ctx context.Context, r model.Reading) {
	latestKey := "reading:latest:" + r.DeviceID + ":" + r.SensorID
	pubsubCh := "pub:reading:" + r.DeviceID + ":" + r.SensorID
	jsonData := string(r.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] pipeline error for %s: %v", r.Key(), err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
