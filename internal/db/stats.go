package db

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DurationSummary aggregates the dwell durations of a session.
type DurationSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P85    float64 `json:"p85"`
	P98    float64 `json:"p98"`
}

// Summarise computes a DurationSummary. An empty input gives the zero
// summary.
func Summarise(durations []float64) DurationSummary {
	if len(durations) == 0 {
		return DurationSummary{}
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return DurationSummary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P85:    stat.Quantile(0.85, stat.Empirical, sorted, nil),
		P98:    stat.Quantile(0.98, stat.Empirical, sorted, nil),
	}
}

// DurationSummary returns the summary of a session's durations.
func (db *DB) DurationSummary(sessionID string) (DurationSummary, error) {
	durations, err := db.Durations(sessionID)
	if err != nil {
		return DurationSummary{}, err
	}
	return Summarise(durations), nil
}
