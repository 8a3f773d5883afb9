// Package publish delivers occupancy events to subscribers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/people.counter/internal/monitoring"
	"github.com/banshee-data/people.counter/internal/occupancy"
)

// ErrNotConnected is returned when publishing to a sink with no live
// broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// Sink receives every event the tracker emits, in order.
type Sink interface {
	Publish(ctx context.Context, sessionID string, e occupancy.Event) error
	Close() error
}

// Encode returns the JSON message body for e.
func Encode(e occupancy.Event) ([]byte, error) {
	b, err := json.Marshal(e.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Kind(), err)
	}
	return b, nil
}

// MultiSink fans each event out to several sinks.
type MultiSink []Sink

// Publish sends e to every sink and returns the first error.
func (m MultiSink) Publish(ctx context.Context, sessionID string, e occupancy.Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, sessionID, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Recorded is one event captured by a MemorySink.
type Recorded struct {
	SessionID string
	Event     occupancy.Event
}

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Recorded
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Publish(_ context.Context, sessionID string, e occupancy.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, Recorded{SessionID: sessionID, Event: e})
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (m *MemorySink) Events() []occupancy.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]occupancy.Event, len(m.events))
	for i, r := range m.events {
		out[i] = r.Event
	}
	return out
}

// Recorded returns the recorded events with their session IDs.
func (m *MemorySink) Recorded() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded(nil), m.events...)
}

// Last returns the most recent event of the given kind.
func (m *MemorySink) Last(kind occupancy.EventKind) (occupancy.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Event.Kind() == kind {
			return m.events[i].Event, true
		}
	}
	return nil, false
}

// LogSink writes events to the monitoring logger.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, sessionID string, e occupancy.Event) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	monitoring.Logf("[%s] %s %s", shortID(sessionID), e.Topic(), payload)
	return nil
}

func (LogSink) Close() error { return nil }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
