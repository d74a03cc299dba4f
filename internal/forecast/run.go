package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Options configures a RunContext. Zero values select the package defaults.
type Options struct {
	Window      int
	DelayPolicy DelayPolicy
	MaxDays     int
}

// RunContext holds the observed series and the parameters estimated from it once
// per run. It is immutable after NewRunContext returns.
type RunContext struct {
	history *models.TimeSeries
	delay   int
	window  int
	maxDays int
}

// Result is everything a run produces for reporting.
type Result struct {
	RunID string
	AsOf  time.Time
	// Current is the most recent observed record.
	Current           models.Record
	DosesAdministered float64
	Delay             int
	Window            int
	History           *models.TimeSeries

	Early *Projection
	// PredictionMade is the date the early projection starts from. When the
	// requested date was unusable, StartSubstituted is set and this is the
	// earliest valid date instead.
	PredictionMade   time.Time
	RequestedStart   string
	StartSubstituted bool

	Revised *Projection
	// RevisedEstimate is the straight-line completion date for total doses at
	// the latest rate, for comparison with the revised projection.
	RevisedEstimate time.Time
}

// NewRunContext estimates the second-dose delay for history.
func NewRunContext(history *models.TimeSeries, opts Options) (*RunContext, error) {
	window := opts.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 1 {
		return nil, fmt.Errorf("averaging window must be at least 1 day, got %d", window)
	}

	delay, err := EstimateSecondDoseDelay(history, opts.DelayPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate second dose delay: %w", err)
	}

	return &RunContext{
		history: history,
		delay:   delay,
		window:  window,
		maxDays: opts.MaxDays,
	}, nil
}

// Delay returns the estimated second-dose delay in days.
func (rc *RunContext) Delay() int { return rc.delay }

// Window returns the averaging window in days.
func (rc *RunContext) Window() int { return rc.window }

// EarliestStart returns the first index with enough history behind it for both
// the delay lookback and the averaging window.
func (rc *RunContext) EarliestStart() (int, error) {
	idx := rc.delay
	if rc.window > idx {
		idx = rc.window
	}
	if idx >= rc.history.Len() {
		return 0, &models.InsufficientDataError{
			Need:   idx + 1,
			Have:   rc.history.Len(),
			Reason: fmt.Sprintf("projection needs %d days of delay lookback and a %d day averaging window", rc.delay, rc.window),
		}
	}
	return idx, nil
}

// ResolveStart maps a requested prediction date to a series index. An empty,
// unmatched or too early date resolves to EarliestStart with substituted set.
func (rc *RunContext) ResolveStart(predictFrom string) (idx int, substituted bool, err error) {
	earliest, err := rc.EarliestStart()
	if err != nil {
		return 0, false, err
	}
	if predictFrom == "" {
		return earliest, false, nil
	}

	date, err := time.Parse(models.DateLayout, predictFrom)
	if err != nil {
		return 0, false, fmt.Errorf("invalid prediction date %q: %w", predictFrom, err)
	}

	idx = rc.history.IndexOf(date)
	if idx < 0 || idx < earliest {
		return earliest, true, nil
	}
	return idx, false, nil
}

// Project runs the projector from start (or Latest) at the average rate ending
// there.
func (rc *RunContext) Project(start int) (*Projection, error) {
	rateIdx := start
	if start == Latest {
		rateIdx = rc.history.Len() - 1
	}
	rate, err := AverageRate(rc.history, rateIdx, rc.window)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dose rate: %w", err)
	}
	if rate <= 0 || math.IsNaN(rate) {
		return nil, &models.NonPositiveRateError{Rate: rate}
	}

	p, err := Project(rc.history, start, rate, rc.delay, ProjectOptions{MaxDays: rc.maxDays})
	if err != nil {
		return nil, fmt.Errorf("failed to project from index %d: %w", start, err)
	}
	return p, nil
}

// Run produces the early projection from predictFrom and the revised projection
// from the latest record.
func (rc *RunContext) Run(predictFrom string) (*Result, error) {
	current, ok := rc.history.Last()
	if !ok {
		return nil, &models.InsufficientDataError{Need: 1, Reason: "empty series"}
	}

	start, substituted, err := rc.ResolveStart(predictFrom)
	if err != nil {
		return nil, err
	}
	startRecord, _ := rc.history.At(start)
	if substituted {
		logger.Warn("Insufficient data to predict from %s, using earliest valid date %s",
			predictFrom, startRecord.Date.Format(models.DateLayout))
	}

	logger.Debug("Projecting from %s (delay=%dd, window=%dd)",
		startRecord.Date.Format(models.DateLayout), rc.delay, rc.window)
	early, err := rc.Project(start)
	if err != nil {
		return nil, err
	}

	logger.Debug("Projecting from latest record %s", current.Date.Format(models.DateLayout))
	revised, err := rc.Project(Latest)
	if err != nil {
		return nil, err
	}

	doses := current.DosesAdministered()
	days := math.Floor(1 + (100-doses)/(0.5*revised.Rate))

	return &Result{
		RunID:             uuid.New().String(),
		AsOf:              current.Date,
		Current:           current,
		DosesAdministered: doses,
		Delay:             rc.delay,
		Window:            rc.window,
		History:           rc.history,
		Early:             early,
		PredictionMade:    startRecord.Date,
		RequestedStart:    predictFrom,
		StartSubstituted:  substituted,
		Revised:           revised,
		RevisedEstimate:   current.Date.AddDate(0, 0, int(days)),
	}, nil
}
