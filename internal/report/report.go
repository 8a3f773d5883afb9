// Package report renders stored session data as static plots.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/people.counter/internal/db"
	"github.com/banshee-data/people.counter/internal/fsutil"
	"github.com/banshee-data/people.counter/internal/security"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to plot")

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// Writer saves plots to a FileSystem.
type Writer struct {
	FS            fsutil.FileSystem
	Width, Height vg.Length
}

// NewWriter returns a Writer with the default plot size.
func NewWriter(fsys fsutil.FileSystem) *Writer {
	return &Writer{FS: fsys, Width: plotWidth, Height: plotHeight}
}

// plotFormat maps a file extension to a gonum/plot canvas format.
func plotFormat(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "png", "svg", "pdf":
		return ext, nil
	default:
		return "", fmt.Errorf("unsupported plot format %q: use .png, .svg or .pdf", filepath.Ext(path))
	}
}

func (w *Writer) save(p *plot.Plot, path string) (err error) {
	format, err := plotFormat(path)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(w.Width, w.Height, format)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	f, err := w.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to save %s: %w", path, cerr)
		}
	}()
	if _, err := wt.WriteTo(f); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// DurationHistogram writes a histogram of dwell durations in seconds.
func (w *Writer) DurationHistogram(durations []float64, bins int, path string) error {
	if len(durations) == 0 {
		return ErrNoData
	}
	if _, err := plotFormat(path); err != nil {
		return err
	}
	if bins < 1 {
		bins = 10
	}

	summary := db.Summarise(durations)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Dwell time (n=%d, mean %.1fs, p85 %.1fs)", summary.Count, summary.Mean, summary.P85)
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = "visits"

	hist, err := plotter.NewHist(plotter.Values(durations), bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(hist)

	return w.save(p, path)
}

// OccupancyPlot writes the current-count series as a step line.
func (w *Writer) OccupancyPlot(series []db.CountPoint, path string) error {
	if len(series) == 0 {
		return ErrNoData
	}
	if _, err := plotFormat(path); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "People in view"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "count"
	p.Y.Min = 0

	pts := make(plotter.XYs, len(series))
	for i, pt := range series {
		pts[i] = plotter.XY{X: pt.Timestamp, Y: float64(pt.Count)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	line.StepStyle = plotter.PostStep
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	return w.save(p, path)
}

// WriteSession renders both plots of a session into dir, creating it if
// needed, and returns the files written. A session without closed visits
// gets only the occupancy plot.
func (w *Writer) WriteSession(store *db.DB, sessionID, dir string) ([]string, error) {
	if err := w.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	series, err := store.CountSeries(sessionID, 0)
	if err != nil {
		return nil, err
	}
	name := security.SanitizeFilename(sessionID)
	occPath := filepath.Join(dir, name+"-occupancy.png")
	if err := w.OccupancyPlot(series, occPath); err != nil {
		return nil, err
	}
	written := []string{occPath}

	durations, err := store.Durations(sessionID)
	if err != nil {
		return written, err
	}
	histPath := filepath.Join(dir, name+"-durations.png")
	switch err := w.DurationHistogram(durations, 0, histPath); {
	case errors.Is(err, ErrNoData):
	case err != nil:
		return written, err
	default:
		written = append(written, histPath)
	}
	return written, nil
}
