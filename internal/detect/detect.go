// Package detect parses detector output into per-frame person counts.
//
// Detections use the SSD output layout: one row of seven values per box,
// [image_id, label, confidence, xmin, ymin, xmax, ymax], with coordinates
// normalised to [0,1]. Rows with a negative image_id are padding.
package detect

import (
	"errors"
	"fmt"
	"image"
)

// RowSize is the number of values in one SSD detection row.
const RowSize = 7

var (
	// ErrMalformedLine is returned when a feed line cannot be parsed.
	ErrMalformedLine = errors.New("malformed detection line")
	// ErrSkipLine marks blank lines and comments that carry no frame.
	ErrSkipLine = errors.New("skip line")
)

// Detection is one bounding box reported by the detector.
type Detection struct {
	ImageID    int     `json:"image_id"`
	Label      int     `json:"label"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
}

// Box converts the normalised coordinates to a pixel rectangle for a frame
// of the given size.
func (d Detection) Box(width, height int) image.Rectangle {
	return image.Rect(
		int(d.XMin*float64(width)),
		int(d.YMin*float64(height)),
		int(d.XMax*float64(width)),
		int(d.YMax*float64(height)),
	)
}

// FromRow builds a Detection from one SSD output row.
func FromRow(row []float64) (Detection, error) {
	if len(row) != RowSize {
		return Detection{}, fmt.Errorf("%w: detection row has %d values, want %d", ErrMalformedLine, len(row), RowSize)
	}
	return Detection{
		ImageID:    int(row[0]),
		Label:      int(row[1]),
		Confidence: row[2],
		XMin:       row[3],
		YMin:       row[4],
		XMax:       row[5],
		YMax:       row[6],
	}, nil
}

// FromFlat splits a flat SSD output blob into detections, dropping padding
// rows. The blob length must be a multiple of RowSize.
func FromFlat(blob []float32) ([]Detection, error) {
	if len(blob)%RowSize != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of %d", ErrMalformedLine, len(blob), RowSize)
	}
	dets := make([]Detection, 0, len(blob)/RowSize)
	row := make([]float64, RowSize)
	for i := 0; i < len(blob); i += RowSize {
		for j := 0; j < RowSize; j++ {
			row[j] = float64(blob[i+j])
		}
		if row[0] < 0 {
			continue
		}
		d, err := FromRow(row)
		if err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, nil
}

// Counter counts the detections that qualify as a person.
type Counter struct {
	// Threshold is the minimum confidence, exclusive.
	Threshold float64
	// Label restricts counting to one class id; -1 counts every label.
	Label int
}

// NewCounter returns a Counter after checking the threshold range.
func NewCounter(threshold float64, label int) (Counter, error) {
	if threshold < 0 || threshold > 1 {
		return Counter{}, fmt.Errorf("probability threshold must be between 0 and 1, got %f", threshold)
	}
	if label < -1 {
		return Counter{}, fmt.Errorf("label must be -1 (any) or a class id, got %d", label)
	}
	return Counter{Threshold: threshold, Label: label}, nil
}

// Count returns the number of detections above the confidence threshold.
func (c Counter) Count(dets []Detection) int {
	n := 0
	for _, d := range dets {
		if d.ImageID < 0 {
			continue
		}
		if c.Label >= 0 && d.Label != c.Label {
			continue
		}
		if d.Confidence > c.Threshold {
			n++
		}
	}
	return n
}

// Select returns the detections Count would count.
func (c Counter) Select(dets []Detection) []Detection {
	var out []Detection
	for _, d := range dets {
		if d.ImageID < 0 || (c.Label >= 0 && d.Label != c.Label) {
			continue
		}
		if d.Confidence > c.Threshold {
			out = append(out, d)
		}
	}
	return out
}
