package forecast

import (
	"math"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Latest is the start index meaning "project from the most recent record".
const Latest = -1

// DefaultMaxDays bounds a single projection to roughly a century of simulated days.
const DefaultMaxDays = 36500

// ProjectOptions bounds the simulation loop.
type ProjectOptions struct {
	// MaxDays is the maximum number of simulated days. Zero means DefaultMaxDays.
	MaxDays int
}

// Projection is an observed prefix extended with simulated days.
type Projection struct {
	Series *models.TimeSeries
	// StartIndex is the index of the first simulated record. Records before it
	// are copied from the observed series.
	StartIndex int
	Rate       float64
	Delay      int
	// DetailEnd is the first date the full share reaches 100%.
	DetailEnd time.Time
	// DoseEnd is the first date total doses administered reach 100%.
	DoseEnd time.Time
}

// PredictionMade returns the date of the last observed record the projection
// was built from.
func (p *Projection) PredictionMade() time.Time {
	r, err := p.Series.At(p.StartIndex - 1)
	if err != nil {
		return time.Time{}
	}
	return r.Date
}

// Simulated returns only the synthesized records.
func (p *Projection) Simulated() []models.Record {
	return p.Series.Records()[p.StartIndex:]
}

// Project extends history[0..start] (the whole series when start is Latest) one
// day at a time at a fixed daily rate until the full share and total doses both
// reach 100%. The source series is never modified.
//
// Each simulated day t+1 looks back delay records into the series being built:
// the drop in the unvaccinated share between old-1 and old (old = len - delay)
// is the cohort due its second dose today, capped at rate and floored at zero.
// Leftover capacity moves people from unvaccinated to partial. Every transfer is
// limited to the people actually available in the source share, so the three
// shares keep summing to 100 without relying on clamping.
//
// Returns NonPositiveRateError for rate <= 0, InsufficientDataError when the
// prefix is shorter than the delay lookback, and IterationLimitError when the
// loop runs past opts.MaxDays.
func Project(history *models.TimeSeries, start int, rate float64, delay int, opts ProjectOptions) (*Projection, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return nil, &models.NonPositiveRateError{Rate: rate}
	}
	if delay < 1 {
		return nil, &models.InsufficientDataError{Reason: "second-dose delay must be at least one day"}
	}

	end := start
	if start == Latest {
		end = history.Len() - 1
	}
	if end < 0 || end >= history.Len() {
		return nil, &models.InsufficientDataError{Need: end + 1, Have: history.Len(), Reason: "projection start outside series"}
	}

	records := history.Records()[:end+1]
	if len(records) < delay+1 {
		return nil, &models.InsufficientDataError{Need: delay + 1, Have: len(records), Reason: "second-dose delay lookback"}
	}

	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}

	startIndex := len(records)
	for day := 0; !complete(records[len(records)-1]); day++ {
		if day >= maxDays {
			return nil, &models.IterationLimitError{MaxDays: maxDays}
		}
		next, err := step(records, rate, delay)
		if err != nil {
			return nil, err
		}
		records = append(records, next)
	}

	series, err := models.FromRecords(records)
	if err != nil {
		return nil, err
	}

	p := &Projection{
		Series:     series,
		StartIndex: startIndex,
		Rate:       rate,
		Delay:      delay,
	}
	for _, r := range records {
		if p.DetailEnd.IsZero() && r.Full >= 100 {
			p.DetailEnd = r.Date
		}
		if p.DoseEnd.IsZero() && r.TotalDoses >= 100 {
			p.DoseEnd = r.Date
		}
	}
	return p, nil
}

func complete(r models.Record) bool {
	return r.Full >= 100 && r.TotalDoses >= 100
}

// step computes the record following the last one in records.
func step(records []models.Record, rate float64, delay int) (models.Record, error) {
	cur := records[len(records)-1]

	var dFull, dUnvax float64
	if cur.Unvaccinated <= 0 {
		dFull = rate
	} else {
		old := len(records) - delay
		if old-1 < 0 || old >= len(records) {
			return models.Record{}, &models.InsufficientDataError{Need: delay + 1, Have: len(records), Reason: "second-dose delay lookback"}
		}
		dFull = math.Min(records[old-1].Unvaccinated-records[old].Unvaccinated, rate)
	}

	// Second doses can only go to people who already have one. A rise in the
	// observed unvaccinated share (a revised denominator) moves nobody back.
	dFull = math.Max(math.Min(dFull, cur.Partial), 0)

	if cur.Unvaccinated > 0 {
		dUnvax = math.Min(-(rate - dFull), 0)
		dUnvax = math.Max(dUnvax, -cur.Unvaccinated)
	}
	dPartial := -(dFull + dUnvax)

	next := models.Record{
		Date:         cur.Date.AddDate(0, 0, 1),
		Unvaccinated: bound(cur.Unvaccinated + dUnvax),
		Partial:      bound(cur.Partial + dPartial),
		Full:         bound(cur.Full + dFull),
		TotalDoses:   bound(cur.TotalDoses + 0.5*rate),
	}
	next.AtLeastOne = next.Partial + next.Full
	return next, nil
}

// bound clamps v to [0, 100], snapping values within models.Tolerance of either
// end so accumulated rounding cannot leave a share a hair short of complete.
func bound(v float64) float64 {
	switch {
	case v <= models.Tolerance:
		return 0
	case v >= 100-models.Tolerance:
		return 100
	default:
		return v
	}
}
