package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

// BacktestPoint is one projection made as if the series ended at PredictionMade.
type BacktestPoint struct {
	Window         int
	Index          int
	PredictionMade time.Time
	Rate           float64
	DetailEnd      time.Time
	DoseEnd        time.Time
	Err            error
}

// WindowStats summarises the backtest points of one averaging window.
type WindowStats struct {
	Window   int
	Runs     int
	Failed   int
	Earliest time.Time
	Latest   time.Time
	Median   time.Time
	// MeanShiftDays is the mean absolute change in DetailEnd between
	// consecutive successful runs.
	MeanShiftDays float64
}

// BacktestOptions configures Backtest.
type BacktestOptions struct {
	Windows     []int
	Step        int
	DelayPolicy DelayPolicy
	MaxDays     int
}

// Backtest projects from every Step-th valid index of history for each window.
// The delay is estimated once from the whole series, as in a normal run.
// Projection failures are recorded on the point; a window too long for the
// series yields no points.
func Backtest(history *models.TimeSeries, opts BacktestOptions) ([]BacktestPoint, error) {
	step := opts.Step
	if step < 1 {
		step = 1
	}
	windows := opts.Windows
	if len(windows) == 0 {
		windows = []int{DefaultWindow}
	}

	var points []BacktestPoint
	for _, w := range windows {
		rc, err := NewRunContext(history, Options{Window: w, DelayPolicy: opts.DelayPolicy, MaxDays: opts.MaxDays})
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", w, err)
		}
		earliest, err := rc.EarliestStart()
		if err != nil {
			continue
		}

		for idx := earliest; idx < history.Len(); idx += step {
			r, _ := history.At(idx)
			pt := BacktestPoint{Window: rc.Window(), Index: idx, PredictionMade: r.Date}
			p, err := rc.Project(idx)
			if err != nil {
				pt.Err = err
			} else {
				pt.Rate = p.Rate
				pt.DetailEnd = p.DetailEnd
				pt.DoseEnd = p.DoseEnd
			}
			points = append(points, pt)
		}
	}
	return points, nil
}

// Summarize groups points by window, ordered by window length.
func Summarize(points []BacktestPoint) []WindowStats {
	byWindow := make(map[int][]BacktestPoint)
	for _, p := range points {
		byWindow[p.Window] = append(byWindow[p.Window], p)
	}

	stats := make([]WindowStats, 0, len(byWindow))
	for w, pts := range byWindow {
		st := WindowStats{Window: w, Runs: len(pts)}
		var ends []time.Time
		var shift float64
		var prev time.Time
		for _, p := range pts {
			if p.Err != nil {
				st.Failed++
				continue
			}
			if !prev.IsZero() {
				shift += math.Abs(p.DetailEnd.Sub(prev).Hours() / 24)
			}
			prev = p.DetailEnd
			ends = append(ends, p.DetailEnd)
		}
		if len(ends) > 0 {
			if len(ends) > 1 {
				st.MeanShiftDays = shift / float64(len(ends)-1)
			}
			sort.Slice(ends, func(i, j int) bool { return ends[i].Before(ends[j]) })
			st.Earliest = ends[0]
			st.Latest = ends[len(ends)-1]
			st.Median = ends[(len(ends)-1)/2]
		}
		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Window < stats[j].Window })
	return stats
}
