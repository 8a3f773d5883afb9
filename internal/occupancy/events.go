package occupancy

import "fmt"

// Topics the events are published under.
const (
	TopicPerson         = "person"
	TopicPersonDuration = "person/duration"
)

// EventKind names an event type for storage and logging.
type EventKind string

const (
	KindTotal    EventKind = "total"
	KindCurrent  EventKind = "count"
	KindDuration EventKind = "duration"
)

// Event is emitted by Tracker.Observe.
type Event interface {
	Kind() EventKind
	// Topic is the logical topic the event belongs to.
	Topic() string
	// Payload is the message body keyed the way subscribers expect it.
	Payload() map[string]any
	String() string
}

// TotalCountEvent reports the cumulative number of people seen.
type TotalCountEvent struct {
	Total int
}

func (TotalCountEvent) Kind() EventKind { return KindTotal }
func (TotalCountEvent) Topic() string   { return TopicPerson }
func (e TotalCountEvent) Payload() map[string]any {
	return map[string]any{"total": e.Total}
}
func (e TotalCountEvent) String() string { return fmt.Sprintf("total=%d", e.Total) }

// CurrentCountEvent reports the number of people in the current frame.
type CurrentCountEvent struct {
	Count int
}

func (CurrentCountEvent) Kind() EventKind { return KindCurrent }
func (CurrentCountEvent) Topic() string   { return TopicPerson }
func (e CurrentCountEvent) Payload() map[string]any {
	return map[string]any{"count": e.Count}
}
func (e CurrentCountEvent) String() string { return fmt.Sprintf("count=%d", e.Count) }

// DurationEvent reports how long a presence episode lasted once it closes.
// Seconds is the corrected duration; Duration is the same value truncated
// toward zero, which is what gets published.
type DurationEvent struct {
	Duration int
	Seconds  float64
}

func newDurationEvent(seconds float64) DurationEvent {
	return DurationEvent{Duration: int(seconds), Seconds: seconds}
}

func (DurationEvent) Kind() EventKind { return KindDuration }
func (DurationEvent) Topic() string   { return TopicPersonDuration }
func (e DurationEvent) Payload() map[string]any {
	return map[string]any{"duration": e.Duration}
}
func (e DurationEvent) String() string {
	return fmt.Sprintf("duration=%d (%.3fs)", e.Duration, e.Seconds)
}
