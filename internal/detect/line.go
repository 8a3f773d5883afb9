package detect

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame is one parsed feed line.
type Frame struct {
	// Timestamp in monotonic seconds, valid when HasTimestamp is set.
	Timestamp    float64
	HasTimestamp bool

	Detections []Detection

	// Count is a count computed upstream, valid when HasCount is set.
	// Feeds send either detections or a count.
	Count    int
	HasCount bool
}

// PersonCount returns the upstream count if there is one, otherwise the
// number of detections the counter accepts.
func (f Frame) PersonCount(c Counter) int {
	if f.HasCount {
		return f.Count
	}
	return c.Count(f.Detections)
}

type jsonFrame struct {
	TS         *float64    `json:"ts"`
	Count      *int        `json:"count"`
	Detections [][]float64 `json:"detections"`
}

// ParseLine parses one feed line. Two formats are accepted:
//
//	{"ts": 12.5, "detections": [[0,1,0.93,0.10,0.20,0.35,0.80], ...]}
//	12.5,2
//
// In the JSON form "ts" is optional and "count" may replace
// "detections". The CSV form is timestamp,count and its timestamp must be
// finite. Blank lines and lines starting with # return ErrSkipLine.
func ParseLine(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Frame{}, ErrSkipLine
	}

	if strings.HasPrefix(line, "{") {
		return parseJSON(line)
	}
	return parseCSV(line)
}

func parseJSON(line string) (Frame, error) {
	var jf jsonFrame
	if err := json.Unmarshal([]byte(line), &jf); err != nil {
		return Frame{}, fmt.Errorf("%w: failed to unmarshal JSON: %v", ErrMalformedLine, err)
	}

	var f Frame
	if jf.TS != nil {
		f.Timestamp = *jf.TS
		f.HasTimestamp = true
	}
	if jf.Count != nil {
		f.Count = *jf.Count
		f.HasCount = true
	}
	if jf.Count == nil && jf.Detections == nil {
		return Frame{}, fmt.Errorf("%w: line has neither count nor detections", ErrMalformedLine)
	}

	f.Detections = make([]Detection, 0, len(jf.Detections))
	for i, row := range jf.Detections {
		d, err := FromRow(row)
		if err != nil {
			return Frame{}, fmt.Errorf("detection %d: %w", i, err)
		}
		f.Detections = append(f.Detections, d)
	}
	return f, nil
}

func parseCSV(line string) (Frame, error) {
	segments := strings.Split(line, ",")
	if len(segments) != 2 {
		return Frame{}, fmt.Errorf("%w: invalid payload format: %s, expected 2 segments", ErrMalformedLine, line)
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(segments[0]), 64)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to parse timestamp: %v", ErrMalformedLine, err)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Frame{}, fmt.Errorf("%w: timestamp %q is not finite", ErrMalformedLine, segments[0])
	}
	count, err := strconv.Atoi(strings.TrimSpace(segments[1]))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to parse count: %v", ErrMalformedLine, err)
	}

	return Frame{
		Timestamp:    ts,
		HasTimestamp: true,
		Count:        count,
		HasCount:     true,
	}, nil
}
