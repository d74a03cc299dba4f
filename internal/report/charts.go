package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Output file names written by ChartSet.WriteFiles.
const (
	PieFile        = "vax_frac.png"
	ProjectionFile = "vax_rates.png"
	DailyFile      = "vax_daily.png"
)

// DefaultRollingDays is the window of the daily rate chart.
const DefaultRollingDays = 7

// ChartOptions sizes the rendered charts.
type ChartOptions struct {
	Width       int
	Height      int
	RollingDays int
}

func (o ChartOptions) withDefaults() ChartOptions {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 640
	}
	if o.RollingDays <= 0 {
		o.RollingDays = DefaultRollingDays
	}
	return o
}

var (
	dotted = []float64{2, 4}
	dashed = []float64{8, 5}
)

// line describes how one column is drawn. Projections use the lighter shade.
type line struct {
	label     string
	column    func(models.Record) float64
	actual    drawing.Color
	projected drawing.Color
}

var lines = []line{
	{"People unvaccinated", models.UnvaccinatedOf, drawing.ColorFromHex("ff0000"), drawing.ColorFromHex("cd5c5c")},
	{"People half-vaccinated", models.PartialOf, drawing.ColorFromHex("0000ff"), drawing.ColorFromHex("4169e1")},
	{"People fully vaccinated", models.FullOf, drawing.ColorFromHex("000000"), drawing.ColorFromHex("808080")},
	{"Vaccine doses administered", models.TotalDosesOf, drawing.ColorFromHex("008000"), drawing.ColorFromHex("90ee90")},
}

// ChartSet holds rendered PNGs keyed by file name.
type ChartSet struct {
	files map[string][]byte
	order []string
}

func (cs *ChartSet) add(name string, data []byte) {
	if cs.files == nil {
		cs.files = make(map[string][]byte)
	}
	if _, ok := cs.files[name]; !ok {
		cs.order = append(cs.order, name)
	}
	cs.files[name] = data
}

// Names returns chart file names in render order.
func (cs *ChartSet) Names() []string {
	return append([]string(nil), cs.order...)
}

// Get returns the PNG bytes for name.
func (cs *ChartSet) Get(name string) ([]byte, bool) {
	data, ok := cs.files[name]
	return data, ok
}

// WriteFiles writes every chart into dir, creating it if needed.
func (cs *ChartSet) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, name := range cs.order {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, cs.files[name], 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// RenderAll renders the pie, projection and daily rate charts for res.
func RenderAll(res *forecast.Result, opts ChartOptions) (*ChartSet, error) {
	opts = opts.withDefaults()
	cs := &ChartSet{}

	renderers := []struct {
		name   string
		render func(io.Writer) error
	}{
		{PieFile, func(w io.Writer) error { return RenderPie(w, res.Current, opts) }},
		{ProjectionFile, func(w io.Writer) error { return RenderProjection(w, res, opts) }},
		{DailyFile, func(w io.Writer) error { return RenderRollingRates(w, res, opts) }},
	}
	for _, r := range renderers {
		var buf bytes.Buffer
		if err := r.render(&buf); err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", r.name, err)
		}
		cs.add(r.name, buf.Bytes())
	}
	return cs, nil
}

// RenderPie draws the current population breakdown.
func RenderPie(w io.Writer, current models.Record, opts ChartOptions) error {
	opts = opts.withDefaults()

	var values []chart.Value
	for _, s := range Shares(current) {
		if s.Pct <= 0 {
			continue
		}
		values = append(values, chart.Value{
			Value: s.Pct,
			Label: fmt.Sprintf("%s %.1f%%", s.Label, s.Pct),
		})
	}
	if len(values) == 0 {
		return errors.New("no non-zero shares to plot")
	}

	pie := chart.PieChart{
		Title:  "Vaccination status as of " + formatDate(current.Date),
		Width:  opts.Height,
		Height: opts.Height,
		Values: values,
	}
	return pie.Render(chart.PNG, w)
}

// RenderProjection overlays the observed shares (solid), the early projection
// (dotted) and the revised projection (dashed).
func RenderProjection(w io.Writer, res *forecast.Result, opts ChartOptions) error {
	opts = opts.withDefaults()

	var series []chart.Series
	for _, l := range lines {
		if res.Early != nil {
			series = appendSeries(series, tail(res.Early.Series, res.Early.StartIndex-1), l.column, l.label+" (early)",
				chart.Style{StrokeColor: l.projected, StrokeWidth: 1.5, StrokeDashArray: dotted})
		}
		if res.Revised != nil {
			series = appendSeries(series, tail(res.Revised.Series, res.Revised.StartIndex-1), l.column, l.label+" (revised)",
				chart.Style{StrokeColor: l.projected, StrokeWidth: 1.5, StrokeDashArray: dashed})
		}
	}
	// Observed data last so it draws on top.
	for _, l := range lines {
		series = appendSeries(series, res.History.Records(), l.column, l.label,
			chart.Style{StrokeColor: l.actual, StrokeWidth: 2})
	}

	title := "Vaccination projection"
	if res.Early != nil {
		title = fmt.Sprintf("Vaccination projection (early from %s)", formatDate(res.PredictionMade))
	}
	return renderTimeChart(w, title, "Percentage", series, &chart.ContinuousRange{Min: 0, Max: 100}, opts)
}

// RenderRollingRates plots the rolling per-day change in doses administered for
// the observed series and both projections.
func RenderRollingRates(w io.Writer, res *forecast.Result, opts ChartOptions) error {
	opts = opts.withDefaults()
	n := opts.RollingDays
	green := lines[len(lines)-1]

	var series []chart.Series
	lo, hi := 0.0, 0.0
	add := func(records []models.Record, label string, style chart.Style) {
		dates, rates := rollingPoints(records, n)
		for _, v := range rates {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		series = appendPoints(series, dates, rates, label, style)
	}

	if res.Early != nil {
		add(res.Early.Series.Records(), "Early projection", chart.Style{StrokeColor: green.projected, StrokeWidth: 1.5, StrokeDashArray: dotted})
	}
	if res.Revised != nil {
		add(res.Revised.Series.Records(), "Revised projection", chart.Style{StrokeColor: green.projected, StrokeWidth: 1.5, StrokeDashArray: dashed})
	}
	add(res.History.Records(), "Observed", chart.Style{StrokeColor: green.actual, StrokeWidth: 2})

	if hi-lo < 0.1 {
		hi = lo + 0.1
	}
	yRange := &chart.ContinuousRange{Min: lo, Max: hi + 0.1*(hi-lo)}
	title := fmt.Sprintf("Doses administered per day (%d-day rolling)", n)
	return renderTimeChart(w, title, "Percentage per day", series, yRange, opts)
}

func renderTimeChart(w io.Writer, title, yName string, series []chart.Series, yRange chart.Range, opts ChartOptions) error {
	if len(series) == 0 {
		return errors.New("not enough data points to plot")
	}

	graph := chart.Chart{
		Title:  title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:  yName,
			Range: yRange,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// tail returns records from index from onward, or nil when out of range.
func tail(s *models.TimeSeries, from int) []models.Record {
	if s == nil || from < 0 || from >= s.Len() {
		return nil
	}
	return s.Records()[from:]
}

func appendSeries(series []chart.Series, records []models.Record, column func(models.Record) float64, label string, style chart.Style) []chart.Series {
	dates := make([]time.Time, len(records))
	values := make([]float64, len(records))
	for i, r := range records {
		dates[i] = r.Date
		values[i] = column(r)
	}
	return appendPoints(series, dates, values, label, style)
}

// appendPoints skips series with fewer than two points, which cannot be drawn
// as a line.
func appendPoints(series []chart.Series, dates []time.Time, values []float64, label string, style chart.Style) []chart.Series {
	if len(dates) < 2 {
		return series
	}
	return append(series, chart.TimeSeries{
		Name:    label,
		Style:   style,
		XValues: dates,
		YValues: values,
	})
}

func rollingPoints(records []models.Record, n int) ([]time.Time, []float64) {
	values := make([]float64, len(records))
	for i, r := range records {
		values[i] = r.TotalDoses
	}
	rates := RollingRate(values, n)
	if len(rates) == 0 {
		return nil, nil
	}
	dates := make([]time.Time, len(rates))
	for i := range rates {
		dates[i] = records[i+n].Date
	}
	return dates, rates
}

// RollingRate returns (v[i]-v[i-n])/n for every i >= n. The result has
// len(values)-n entries, or none when n < 1 or values is too short.
func RollingRate(values []float64, n int) []float64 {
	if n < 1 || len(values) <= n {
		return nil
	}
	out := make([]float64, 0, len(values)-n)
	for i := n; i < len(values); i++ {
		out = append(out, (values[i]-values[i-n])/float64(n))
	}
	return out
}
