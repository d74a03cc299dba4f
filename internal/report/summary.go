// Package report turns a forecast run into console text and PNG charts.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Share labels in display order.
const (
	LabelFull         = "Fully vaccinated"
	LabelPartial      = "Half-vaccinated"
	LabelUnvaccinated = "Unvaccinated"
)

// Share is one slice of the current population breakdown.
type Share struct {
	Label string
	Pct   float64
}

// Shares returns the current full, partial and unvaccinated percentages.
func Shares(r models.Record) []Share {
	return []Share{
		{Label: LabelFull, Pct: r.Full},
		{Label: LabelPartial, Pct: r.Partial},
		{Label: LabelUnvaccinated, Pct: r.Unvaccinated},
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(models.DateLayout)
}

// Summary renders the console summary for res.
func Summary(res *forecast.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Vaccination percentages as of %s\n", formatDate(res.AsOf))
	for _, s := range Shares(res.Current) {
		fmt.Fprintf(&b, "  %0.1f%% - %s\n", s.Pct, s.Label)
	}
	fmt.Fprintf(&b, "Percentage of doses administered: %0.1f%%\n", res.DosesAdministered)
	fmt.Fprintf(&b, "Estimated delay between first and second doses: %d days\n", res.Delay)
	if res.Revised != nil {
		fmt.Fprintf(&b, "Current dose rate: %0.2f%% per day over the last %d days\n", res.Revised.Rate, res.Window)
	}

	if res.StartSubstituted {
		b.WriteString("Insufficient data to predict from this date.\n")
		fmt.Fprintf(&b, "Earliest valid date is %s.\n", formatDate(res.PredictionMade))
	}

	b.WriteString("\n")
	if res.Early != nil {
		fmt.Fprintf(&b, "Based on data up to %s, predicted end date: %s\n",
			formatDate(res.PredictionMade), formatDate(res.Early.DetailEnd))
	}
	fmt.Fprintf(&b, "Revised estimate based on %d days up to %s: %s\n",
		res.Window, formatDate(res.AsOf), formatDate(res.RevisedEstimate))
	if res.Revised != nil {
		fmt.Fprintf(&b, "Revised projection: everyone fully vaccinated by %s, all doses given by %s\n",
			formatDate(res.Revised.DetailEnd), formatDate(res.Revised.DoseEnd))
	}

	return b.String()
}

// WriteSummary writes Summary(res) to w.
func WriteSummary(w io.Writer, res *forecast.Result) error {
	_, err := io.WriteString(w, Summary(res))
	return err
}
