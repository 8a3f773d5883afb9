// Package occupancy owns the occupancy event tracker: the stateful filter
// that turns per-frame person counts into total-count, current-count and
// dwell-duration events.
//
// Responsibilities: rise/fall classification of successive counts, the
// debounce window that closes a presence episode, and the corrected
// duration of each episode.
// Key types: Tracker, Observation, Event.
//
// The tracker performs no I/O. Parsing detector output, publishing events
// and persisting them belong to the detect, publish and db packages.
package occupancy
