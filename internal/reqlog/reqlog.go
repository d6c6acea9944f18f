// Package reqlog implements a non-blocking, batched logger for completed
// benchmark requests.
//
// Entries are written to an internal buffered channel and flushed in
// batches by a background goroutine, so logging never blocks the load
// generator's hot path. If the channel fills up (> 10 000 entries), new
// entries are dropped and counted in Dropped.
package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Entry is the subset of model.RequestResult the logger records.
type Entry struct {
	RequestID    int
	Success      bool
	TTFTMs       float64
	E2ELatencyMs float64
	OutputTokens int
	ErrorKind    model.ErrorKind
	CreatedAt    time.Time
}

// FromResult converts a model.RequestResult into a log Entry.
func FromResult(r model.RequestResult) Entry {
	return Entry{
		RequestID:    r.RequestID,
		Success:      r.Success,
		TTFTMs:       float64(r.TTFT) / float64(time.Millisecond),
		E2ELatencyMs: float64(r.E2ELatency) / float64(time.Millisecond),
		OutputTokens: r.OutputTokens,
		ErrorKind:    r.ErrorKind,
		CreatedAt:    r.EndTime,
	}
}

type Logger struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	log     *slog.Logger
}

func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("reqlog: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	l := &Logger{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(e Entry) {
	select {
	case l.ch <- e:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

func (l *Logger) Dropped() int64 { return atomic.LoadInt64(&l.dropped) }

func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "request",
				slog.Int("request_id", e.RequestID),
				slog.Bool("success", e.Success),
				slog.Float64("ttft_ms", e.TTFTMs),
				slog.Float64("e2e_latency_ms", e.E2ELatencyMs),
				slog.Int("output_tokens", e.OutputTokens),
				slog.String("error_kind", string(e.ErrorKind)),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
