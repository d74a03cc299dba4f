package main

import (
	"fmt"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(models.DateLayout)
}

// printDataRange displays the loaded series bounds
func printDataRange(history *models.TimeSeries) {
	first, _ := history.At(0)
	last, _ := history.Last()
	fmt.Printf("  Records: %d\n", history.Len())
	fmt.Printf("  From %s to %s\n", formatDate(first.Date), formatDate(last.Date))
	fmt.Printf("  Latest: %.1f%% fully vaccinated, %.1f%% doses administered\n", last.Full, last.DosesAdministered())
}

// printPoints displays one line per backtest run
func printPoints(points []forecast.BacktestPoint) {
	fmt.Printf("\n  %-6s  %-10s  %-8s  %-10s  %-10s\n", "Window", "From", "Rate", "Full by", "Doses by")
	for _, p := range points {
		if p.Err != nil {
			fmt.Printf("  %-6d  %-10s  failed: %v\n", p.Window, formatDate(p.PredictionMade), p.Err)
			continue
		}
		fmt.Printf("  %-6d  %-10s  %-8.3f  %-10s  %-10s\n",
			p.Window, formatDate(p.PredictionMade), p.Rate, formatDate(p.DetailEnd), formatDate(p.DoseEnd))
	}
}

// printWindowStats displays summary statistics for one window
func printWindowStats(st forecast.WindowStats) {
	fmt.Printf("\n  Window: %d days\n", st.Window)
	fmt.Printf("    Runs: %d (%d failed)\n", st.Runs, st.Failed)
	if st.Runs == st.Failed {
		return
	}
	fmt.Printf("    Predicted full coverage: %s .. %s (median %s)\n",
		formatDate(st.Earliest), formatDate(st.Latest), formatDate(st.Median))
	fmt.Printf("    Mean shift between runs: %.1f days\n", st.MeanShiftDays)
}

// recommendWindow returns the window whose predictions moved least between
// runs, ignoring windows with failures. ok is false when none qualifies.
func recommendWindow(stats []forecast.WindowStats) (best forecast.WindowStats, ok bool) {
	for _, st := range stats {
		if st.Failed > 0 || st.Runs < 2 {
			continue
		}
		if !ok || st.MeanShiftDays < best.MeanShiftDays {
			best, ok = st, true
		}
	}
	return best, ok
}

// printRecommendation displays the most stable averaging window
func printRecommendation(stats []forecast.WindowStats) {
	fmt.Println("\nRECOMMENDED AVERAGING WINDOW:")
	best, ok := recommendWindow(stats)
	if !ok {
		fmt.Println("   None: every window had failed runs or too few runs to compare")
		return
	}
	fmt.Printf("   forecast.averaging_window_days: %d\n", best.Window)
	fmt.Printf("   Predictions moved %.1f days per run on average\n", best.MeanShiftDays)
}
