package logging

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// #region sink
// Sink receives structured observability events. Emit must not block.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(string, map[string]any) {}

// #endregion

// #region zap-sink
type zapEvent struct {
	name   string
	fields map[string]any
}

// ZapSink forwards events to a zap logger from a background goroutine.
// Events are dropped when the buffer is full.
type ZapSink struct {
	logger  *zap.Logger
	events  chan zapEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewZapSink starts the drain goroutine. buffer <= 0 uses 256.
func NewZapSink(logger *zap.Logger, buffer int) *ZapSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &ZapSink{
		logger: logger,
		events: make(chan zapEvent, buffer),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit implements Sink.
func (s *ZapSink) Emit(event string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- zapEvent{name: event, fields: fields}:
	default:
		s.dropped++
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *ZapSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes buffered events and syncs the logger.
func (s *ZapSink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.done
	})
	return s.logger.Sync()
}

func (s *ZapSink) drain() {
	defer close(s.done)
	for ev := range s.events {
		s.logger.Info(ev.name, toZapFields(ev.fields)...)
	}
}

func toZapFields(fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// #endregion
