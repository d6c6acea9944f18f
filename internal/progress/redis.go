package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisSink publishes progress events as JSON to a Redis Pub/Sub channel
// named "benchrun:<runID>", letting a dashboard or other out-of-process
// subscriber follow a live run across process boundaries. Each publish
// runs on its own goroutine, so event order on the channel is not
// guaranteed. Publish failures are logged and swallowed — they never
// propagate to the generator.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedisSink builds a sink that publishes to "benchrun:<runID>".
func NewRedisSink(rdb *redis.Client, runID string, log *slog.Logger) *RedisSink {
	if log == nil {
		log = slog.Default()
	}
	return &RedisSink{
		rdb:     rdb,
		channel: fmt.Sprintf("benchrun:%s", runID),
		log:     log,
	}
}

func (s *RedisSink) Publish(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		s.log.Warn("progress: marshal event", slog.String("error", err.Error()))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.rdb.Publish(ctx, s.channel, body).Err(); err != nil {
			s.log.Warn("progress: redis publish failed", slog.String("channel", s.channel), slog.String("error", err.Error()))
		}
	}()
}

// Channel returns the Pub/Sub channel name this sink publishes to.
func (s *RedisSink) Channel() string { return s.channel }
