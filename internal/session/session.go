// Package session runs one occupancy tracker over one detector feed and
// delivers its events to a sink and a store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/people.counter/internal/config"
	"github.com/banshee-data/people.counter/internal/detect"
	"github.com/banshee-data/people.counter/internal/monitoring"
	"github.com/banshee-data/people.counter/internal/occupancy"
	"github.com/banshee-data/people.counter/internal/publish"
	"github.com/banshee-data/people.counter/internal/timeutil"
)

// Store persists sessions and their events. *db.DB implements it.
type Store interface {
	StartSession(id, source string, startedAt time.Time) error
	RecordEvent(sessionID string, e occupancy.Event, obsTS float64, recordedAt time.Time) error
	EndSession(id string, endedAt time.Time, frames, total int) error
}

// Config holds everything a session needs besides its collaborators.
type Config struct {
	// Source describes the feed, e.g. a file path or serial device.
	Source  string
	Tracker occupancy.TrackerConfig
	Counter detect.Counter
	// SampleInterval stores every Nth current-count event. Totals and
	// durations are always stored; every event is always published.
	SampleInterval int
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig, source string) (Config, error) {
	counter, err := detect.NewCounter(cfg.GetProbThreshold(), cfg.GetPersonLabel())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Source:         source,
		Tracker:        occupancy.TrackerConfigFromTuning(cfg),
		Counter:        counter,
		SampleInterval: cfg.GetSampleInterval(),
	}, nil
}

// Status is the live view of a session served by the API.
type Status struct {
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
	StartedAt time.Time          `json:"started_at"`
	Running   bool               `json:"running"`
	Tracker   occupancy.Snapshot `json:"tracker"`
	// Skipped counts malformed feed lines and lines whose timestamping
	// differs from the session's time base.
	Skipped int `json:"skipped_lines"`
	// Rejected counts observations the tracker refused.
	Rejected int `json:"rejected_observations"`
}

// timeBase is where observation timestamps come from. The first frame
// fixes it for the rest of the session.
type timeBase int

const (
	baseUnset timeBase = iota
	// baseFeed uses the feed's own "ts" values.
	baseFeed
	// baseClock uses seconds since Start on the session clock.
	baseClock
)

// Session drives a Tracker from feed lines. Handle and Run must be called
// from one goroutine; Status may be called from any.
type Session struct {
	ID      string
	Tracker *occupancy.Tracker

	cfg   Config
	sink  publish.Sink
	store Store
	clock timeutil.Clock

	start   time.Time
	base    timeBase
	samples int
	logf    func(format string, v ...interface{})

	mu     sync.Mutex
	status Status
}

// New creates a session with a fresh tracker. store may be nil, in which
// case nothing is persisted.
func New(cfg Config, sink publish.Sink, store Store, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.SampleInterval < 1 {
		cfg.SampleInterval = 1
	}
	id := uuid.NewString()
	return &Session{
		ID:      id,
		Tracker: occupancy.NewTracker(cfg.Tracker),
		cfg:     cfg,
		sink:    sink,
		store:   store,
		clock:   clock,
		logf:    monitoring.WithPrefix("[session " + id[:8] + "] "),
		status:  Status{SessionID: id, Source: cfg.Source},
	}
}

// Start records the session start. Run calls it; callers using Handle
// directly call it first.
func (s *Session) Start() error {
	s.start = s.clock.Now()
	s.mu.Lock()
	s.status.StartedAt = s.start
	s.status.Running = true
	s.status.Tracker = s.Tracker.Snapshot()
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.StartSession(s.ID, s.cfg.Source, s.start); err != nil {
			return err
		}
	}
	s.logf("started %s on %s", s.ID, s.cfg.Source)
	return nil
}

// End records the final frame count and total.
func (s *Session) End() error {
	snap := s.Tracker.Snapshot()
	s.mu.Lock()
	s.status.Running = false
	s.mu.Unlock()

	s.logf("ended after %d frames, total %d", snap.Frames, snap.Total)
	if s.store != nil {
		return s.store.EndSession(s.ID, s.clock.Now(), snap.Frames, snap.Total)
	}
	return nil
}

// Handle processes one feed line. Unparseable lines and observations the
// tracker rejects are logged and dropped; sink and store failures are
// returned.
//
// The first frame picks the time base: feed timestamps if it carries
// "ts", otherwise the session clock. Later frames that do not match it
// are skipped, since the two bases are not comparable.
func (s *Session) Handle(ctx context.Context, line string) error {
	frame, err := detect.ParseLine(line)
	switch {
	case errors.Is(err, detect.ErrSkipLine):
		return nil
	case err != nil:
		s.skip("skipping line: %v", err)
		return nil
	}

	if s.base == baseUnset {
		s.base = baseClock
		if frame.HasTimestamp {
			s.base = baseFeed
		}
	}
	if frame.HasTimestamp != (s.base == baseFeed) {
		s.skip("skipping line with mismatched timestamping: %q", line)
		return nil
	}

	obs := occupancy.Observation{
		Timestamp: frame.Timestamp,
		Count:     frame.PersonCount(s.cfg.Counter),
	}
	if s.base == baseClock {
		obs.Timestamp = s.clock.Since(s.start).Seconds()
	}

	events, err := s.Tracker.Observe(obs)
	if errors.Is(err, occupancy.ErrInvalidObservation) {
		s.logf("dropping observation: %v", err)
		s.mu.Lock()
		s.status.Rejected++
		s.mu.Unlock()
		return nil
	} else if err != nil {
		return err
	}

	for _, e := range events {
		if err := s.sink.Publish(ctx, s.ID, e); err != nil {
			return fmt.Errorf("failed to publish %s: %w", e, err)
		}
		if s.store == nil || !s.shouldStore(e) {
			continue
		}
		if err := s.store.RecordEvent(s.ID, e, obs.Timestamp, s.clock.Now()); err != nil {
			return err
		}
	}

	snap := s.Tracker.Snapshot()
	s.mu.Lock()
	s.status.Tracker = snap
	s.mu.Unlock()
	return nil
}

func (s *Session) skip(format string, v ...interface{}) {
	s.logf(format, v...)
	s.mu.Lock()
	s.status.Skipped++
	s.mu.Unlock()
}

// shouldStore thins current-count events to every SampleInterval-th one.
func (s *Session) shouldStore(e occupancy.Event) bool {
	if e.Kind() != occupancy.KindCurrent {
		return true
	}
	keep := s.samples%s.cfg.SampleInterval == 0
	s.samples++
	return keep
}

// Run handles lines until the channel closes or ctx is cancelled, both of
// which end the session normally. The first Handle error ends it with
// that error.
func (s *Session) Run(ctx context.Context, lines <-chan string) (err error) {
	if err := s.Start(); err != nil {
		return err
	}
	defer func() {
		if endErr := s.End(); endErr != nil && err == nil {
			err = endErr
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// Status returns a copy of the live status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.Tracker.EpisodeStart != nil {
		start := *st.Tracker.EpisodeStart
		st.Tracker.EpisodeStart = &start
	}
	return st
}
