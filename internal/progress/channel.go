package progress

import "sync/atomic"

// ChannelSink fans events out over a buffered Go channel, the direct
// analogue of internal/logger's batched-channel pattern: publishing never
// blocks the hot path, and a full channel drops the event and counts it
// rather than backing up the generator.
type ChannelSink struct {
	ch      chan Event
	dropped int64
}

// NewChannelSink creates a sink with the given channel buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the channel subscribers should range over.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

func (s *ChannelSink) Publish(evt Event) {
	select {
	case s.ch <- evt:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (s *ChannelSink) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

// Close closes the underlying channel. Callers must stop publishing
// before calling Close.
func (s *ChannelSink) Close() { close(s.ch) }
