package occupancy

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/people.counter/internal/config"
)

// ErrInvalidObservation is returned when an observation breaks the input
// contract: a negative count, a timestamp that is not finite, or one that
// does not move forward.
var ErrInvalidObservation = errors.New("invalid observation")

// DetectionSign is the tracker's belief about the most recent count trend.
type DetectionSign string

const (
	SignNone    DetectionSign = "none"
	SignRising  DetectionSign = "rising"  // count went up
	SignFalling DetectionSign = "falling" // count went down, departure suspected
)

// TrackerConfig holds the heuristic constants of the tracker.
type TrackerConfig struct {
	// DebounceFrames is the number of consecutive falling frames that
	// closes an episode. Measured in frames, so it depends on frame rate.
	DebounceFrames int
	// FrameDelay is subtracted from every reported duration to correct for
	// pipeline latency, in timestamp units (seconds).
	FrameDelay float64
	// OcclusionExemptCount: a drop from exactly this count is not treated
	// as a fall. Guards against one person briefly hiding another.
	OcclusionExemptCount int
}

// DefaultTrackerConfig returns the empirically tuned constants.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.EmptyTuningConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		DebounceFrames:       cfg.GetDebounceFrames(),
		FrameDelay:           cfg.GetFrameDelaySeconds(),
		OcclusionExemptCount: cfg.GetOcclusionExemptCount(),
	}
}

// Observation is one processed frame: its timestamp in monotonic seconds
// and the number of people detected in it.
type Observation struct {
	Timestamp float64
	Count     int
}

// Tracker converts a stream of per-frame counts into occupancy events.
// A Tracker belongs to a single session and must not be shared between
// goroutines.
type Tracker struct {
	Config TrackerConfig

	lastCount    int
	total        int
	active       bool
	episodeStart float64
	absenceRun   int
	sign         DetectionSign

	frames int
	lastTS float64
}

// NewTracker creates a tracker with fresh state.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.DebounceFrames <= 0 {
		cfg.DebounceFrames = DefaultTrackerConfig().DebounceFrames
	}
	return &Tracker{
		Config: cfg,
		sign:   SignNone,
	}
}

// Observe folds one observation into the tracker state and returns the
// events it produced, in emission order. A CurrentCountEvent is always the
// last event. Invalid observations are rejected without touching state.
func (t *Tracker) Observe(obs Observation) ([]Event, error) {
	if obs.Count < 0 {
		return nil, fmt.Errorf("%w: negative count %d at t=%.3f", ErrInvalidObservation, obs.Count, obs.Timestamp)
	}
	if math.IsNaN(obs.Timestamp) || math.IsInf(obs.Timestamp, 0) {
		return nil, fmt.Errorf("%w: timestamp %v is not finite", ErrInvalidObservation, obs.Timestamp)
	}
	if t.frames > 0 && obs.Timestamp <= t.lastTS {
		return nil, fmt.Errorf("%w: timestamp %.6f does not follow %.6f", ErrInvalidObservation, obs.Timestamp, t.lastTS)
	}

	events := make([]Event, 0, 3)

	if obs.Count > t.lastCount {
		if !t.active {
			t.episodeStart = obs.Timestamp
			t.active = true
		}
		t.sign = SignRising
		t.total += obs.Count - t.lastCount
		events = append(events, TotalCountEvent{Total: t.total})
	}

	if obs.Count < t.lastCount && t.lastCount != t.Config.OcclusionExemptCount {
		t.sign = SignFalling
	}

	// An unchanged count keeps the previous sign, so a falling run keeps
	// accumulating through steady frames.
	if t.sign == SignFalling {
		t.absenceRun++
	} else {
		t.absenceRun = 0
	}

	if t.absenceRun == t.Config.DebounceFrames {
		seconds := obs.Timestamp - t.episodeStart - t.Config.FrameDelay
		events = append(events, newDurationEvent(seconds))
		t.active = false
		t.episodeStart = 0
	}

	events = append(events, CurrentCountEvent{Count: obs.Count})

	t.lastCount = obs.Count
	t.lastTS = obs.Timestamp
	t.frames++

	return events, nil
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	LastCount    int           `json:"last_count"`
	Total        int           `json:"total"`
	Active       bool          `json:"active"`
	EpisodeStart *float64      `json:"episode_start,omitempty"`
	AbsenceRun   int           `json:"absence_run"`
	Sign         DetectionSign `json:"sign"`
	Frames       int           `json:"frames"`
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		LastCount:  t.lastCount,
		Total:      t.total,
		Active:     t.active,
		AbsenceRun: t.absenceRun,
		Sign:       t.sign,
		Frames:     t.frames,
	}
	if t.active {
		start := t.episodeStart
		s.EpisodeStart = &start
	}
	return s
}

// Total returns the cumulative count.
func (t *Tracker) Total() int { return t.total }
