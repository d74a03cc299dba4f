package forecast

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

var day0 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func mustSeries(t *testing.T, rows []models.Row) *models.TimeSeries {
	t.Helper()
	s, err := models.NewTimeSeries(rows)
	require.NoError(t, err)
	return s
}

// constantSeries holds the given shares for n consecutive days.
func constantSeries(t *testing.T, n int, unvax, partial, full float64) *models.TimeSeries {
	t.Helper()
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			Date:         day0.AddDate(0, 0, i),
			Unvaccinated: unvax,
			Partial:      partial,
			Full:         full,
			AtLeastOne:   partial + full,
			TotalDoses:   full + 0.5*partial,
		}
	}
	s, err := models.FromRecords(records)
	require.NoError(t, err)
	return s
}

// rolloutSeries models 60 days of first doses at 0.8%/day with second doses
// following 30 days later.
func rolloutSeries(t *testing.T) *models.TimeSeries {
	t.Helper()
	first := func(i int) float64 { return 0.8 * float64(i) }
	rows := make([]models.Row, 60)
	for i := range rows {
		second := 0.0
		if i >= 30 {
			second = first(i - 30)
		}
		rows[i] = models.Row{
			Date:             day0.AddDate(0, 0, i).Format(models.DateLayout),
			CumFirstDosePct:  first(i),
			CumSecondDosePct: second,
		}
	}
	return mustSeries(t, rows)
}

// Delay estimator

func TestEstimateSecondDoseDelay_Primary(t *testing.T) {
	s := mustSeries(t, []models.Row{
		{Date: "2021-01-01", CumFirstDosePct: 0, CumSecondDosePct: 0},
		{Date: "2021-01-02", CumFirstDosePct: 10, CumSecondDosePct: 0},
		{Date: "2021-01-15", CumFirstDosePct: 40, CumSecondDosePct: 5},
	})

	delay, err := EstimateSecondDoseDelay(s, DefaultDelayPolicy)
	require.NoError(t, err)
	assert.Equal(t, 13, delay)
}

func TestEstimateSecondDoseDelay_Idempotent(t *testing.T) {
	s := rolloutSeries(t)

	first, err := EstimateSecondDoseDelay(s, DefaultDelayPolicy)
	require.NoError(t, err)
	second, err := EstimateSecondDoseDelay(s, DefaultDelayPolicy)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 29, first)
}

func TestEstimateSecondDoseDelay_PrimaryCap(t *testing.T) {
	s := mustSeries(t, []models.Row{
		{Date: "2021-01-01", CumFirstDosePct: 20, CumSecondDosePct: 0},
		{Date: "2021-06-01", CumFirstDosePct: 30, CumSecondDosePct: 10},
	})

	capped, err := EstimateSecondDoseDelay(s, DefaultDelayPolicy)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPrimaryDelay, capped)

	uncapped, err := EstimateSecondDoseDelay(s, DelayPolicy{})
	require.NoError(t, err)
	assert.Equal(t, 151, uncapped)
}

func TestEstimateSecondDoseDelay_FallbackAfterPartialPeak(t *testing.T) {
	s := mustSeries(t, []models.Row{
		{Date: "2021-01-01", CumFirstDosePct: 0, CumSecondDosePct: 0},
		{Date: "2021-01-10", CumFirstDosePct: 40, CumSecondDosePct: 0},
		{Date: "2021-01-20", CumFirstDosePct: 60, CumSecondDosePct: 10}, // partial peaks at 50
		{Date: "2021-03-01", CumFirstDosePct: 70, CumSecondDosePct: 40}, // last day full < 50
		{Date: "2021-04-01", CumFirstDosePct: 80, CumSecondDosePct: 70},
	})

	// The fallback is never capped, so the policy must not matter.
	for _, policy := range []DelayPolicy{DefaultDelayPolicy, {MaxPrimaryDays: 1}, {}} {
		delay, err := EstimateSecondDoseDelay(s, policy)
		require.NoError(t, err)
		assert.Equal(t, 40, delay)
	}
}

func TestEstimateSecondDoseDelay_Insufficient(t *testing.T) {
	tests := []struct {
		name string
		rows []models.Row
	}{
		{name: "empty", rows: nil},
		{name: "single record", rows: []models.Row{{Date: "2021-01-01", CumFirstDosePct: 10}}},
		{
			name: "no partial vaccination",
			rows: []models.Row{
				{Date: "2021-01-01", CumFirstDosePct: 0},
				{Date: "2021-01-02", CumFirstDosePct: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimateSecondDoseDelay(mustSeries(t, tt.rows), DefaultDelayPolicy)
			var ide *models.InsufficientDataError
			assert.True(t, errors.As(err, &ide), "expected InsufficientDataError, got %v", err)
		})
	}
}

// Rate estimator

func TestAverageRate_Scenario(t *testing.T) {
	s := mustSeries(t, []models.Row{
		{Date: "2021-01-01", CumFirstDosePct: 10},
		{Date: "2021-01-02", CumFirstDosePct: 20},
		{Date: "2021-01-03", CumFirstDosePct: 30},
	})

	rate, err := AverageRate(s, 2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rate, 1e-12)
}

func TestAverageRate_ConstantIncrementRoundTrip(t *testing.T) {
	for _, r := range []float64{0.1, 0.75, 2.5} {
		t.Run(fmt.Sprintf("rate=%g", r), func(t *testing.T) {
			// Half the daily capacity goes to each dose tier.
			rows := make([]models.Row, 30)
			for i := range rows {
				rows[i] = models.Row{
					Date:             day0.AddDate(0, 0, i).Format(models.DateLayout),
					CumFirstDosePct:  1 + float64(i)*r/2,
					CumSecondDosePct: float64(i) * r / 2,
				}
			}
			s := mustSeries(t, rows)

			for _, window := range []int{1, 7, DefaultWindow} {
				got, err := AverageRate(s, 29, window)
				require.NoError(t, err)
				assert.InDelta(t, r, got, 1e-9)
			}
		})
	}
}

func TestAverageRate_Insufficient(t *testing.T) {
	s := rolloutSeries(t)

	for _, tc := range []struct{ idx, window int }{{13, 14}, {0, 1}, {10, 0}, {60, 14}} {
		_, err := AverageRate(s, tc.idx, tc.window)
		var ide *models.InsufficientDataError
		assert.True(t, errors.As(err, &ide), "idx=%d window=%d: expected InsufficientDataError, got %v", tc.idx, tc.window, err)
	}
}

// Projector

func TestProject_FirstStepByHand(t *testing.T) {
	records := []models.Record{}
	for i, u := range []float64{100, 98, 96, 94} {
		records = append(records, models.Record{
			Date:         day0.AddDate(0, 0, i),
			Unvaccinated: u,
			Partial:      100 - u,
			AtLeastOne:   100 - u,
			TotalDoses:   0.5 * (100 - u),
		})
	}
	s, err := models.FromRecords(records)
	require.NoError(t, err)

	p, err := Project(s, Latest, 3, 2, ProjectOptions{})
	require.NoError(t, err)

	next := p.Simulated()[0]
	assert.Equal(t, day0.AddDate(0, 0, 4), next.Date)
	// old = 4-2 = 2, so the 98 -> 96 cohort (2 points) gets second doses and
	// the remaining 1 point of capacity goes to first doses.
	assert.InDelta(t, 93.0, next.Unvaccinated, 1e-12)
	assert.InDelta(t, 5.0, next.Partial, 1e-12)
	assert.InDelta(t, 2.0, next.Full, 1e-12)
	assert.InDelta(t, 4.5, next.TotalDoses, 1e-12)
}

func TestProject_TerminatesAndConserves(t *testing.T) {
	starts := []struct{ unvax, partial, full float64 }{
		{90, 8, 2},
		{50, 30, 20},
	}
	for _, rate := range []float64{0.1, 1.0, 5.0} {
		for _, st := range starts {
			name := fmt.Sprintf("rate=%g/start=%g,%g,%g", rate, st.unvax, st.partial, st.full)
			t.Run(name, func(t *testing.T) {
				history := constantSeries(t, 30, st.unvax, st.partial, st.full)
				before := history.Records()

				p, err := Project(history, Latest, rate, 21, ProjectOptions{MaxDays: 10000})
				require.NoError(t, err)

				assert.Equal(t, before, history.Records(), "source series was modified")

				last, ok := p.Series.Last()
				require.True(t, ok)
				assert.InDelta(t, 100.0, last.Full, 1e-9)
				assert.InDelta(t, 100.0, last.TotalDoses, 1e-9)

				sim := p.Series.Records()[p.StartIndex-1:]
				for i, r := range sim {
					assert.InDelta(t, 100.0, r.Unvaccinated+r.Partial+r.Full, 1e-9, "day %d", i)
					for _, v := range []float64{r.Unvaccinated, r.Partial, r.Full, r.TotalDoses} {
						assert.GreaterOrEqual(t, v, 0.0)
						assert.LessOrEqual(t, v, 100.0)
					}
					if i > 0 {
						assert.GreaterOrEqual(t, r.Full, sim[i-1].Full, "full decreased on day %d", i)
						assert.GreaterOrEqual(t, r.TotalDoses, sim[i-1].TotalDoses, "total doses decreased on day %d", i)
					}
				}
			})
		}
	}
}

func TestProject_FullNeverDecreasesAfterObservedDip(t *testing.T) {
	// First doses fall by 3 points on day 20, as when the population
	// denominator is revised upwards.
	rows := make([]models.Row, 40)
	for i := range rows {
		first := 1.5 * float64(i)
		if i == 20 {
			first -= 3
		}
		rows[i] = models.Row{
			Date:             day0.AddDate(0, 0, i).Format(models.DateLayout),
			CumFirstDosePct:  first,
			CumSecondDosePct: 0.5 * float64(i),
		}
	}
	history := mustSeries(t, rows)

	p, err := Project(history, Latest, 1.5, 21, ProjectOptions{})
	require.NoError(t, err)

	sim := p.Series.Records()[p.StartIndex-1:]
	for i := 1; i < len(sim); i++ {
		require.GreaterOrEqual(t, sim[i].Full, sim[i-1].Full, "full decreased on day %d", i)
		assert.InDelta(t, 100.0, sim[i].Unvaccinated+sim[i].Partial+sim[i].Full, 1e-9, "day %d", i)
	}
	last, ok := p.Series.Last()
	require.True(t, ok)
	assert.Equal(t, 100.0, last.Full)
}

func TestProject_UnvaccinatedExhausted(t *testing.T) {
	history := constantSeries(t, 10, 0, 50, 50)

	p, err := Project(history, Latest, 10, 3, ProjectOptions{})
	require.NoError(t, err)

	sim := p.Simulated()
	require.Len(t, sim, 5)
	for i, r := range sim {
		assert.InDelta(t, 60+10*float64(i), r.Full, 1e-9)
		assert.Equal(t, 0.0, r.Unvaccinated)
	}
	lastDay := day0.AddDate(0, 0, 9)
	assert.Equal(t, lastDay.AddDate(0, 0, 5), p.DetailEnd)
	assert.Equal(t, lastDay.AddDate(0, 0, 5), p.DoseEnd)
}

func TestProject_EndDatesAreFirstReached(t *testing.T) {
	s := rolloutSeries(t)

	p, err := Project(s, Latest, 1.6, 29, ProjectOptions{})
	require.NoError(t, err)
	require.False(t, p.DetailEnd.IsZero())
	require.False(t, p.DoseEnd.IsZero())

	idx := p.Series.IndexOf(p.DetailEnd)
	require.Greater(t, idx, 0)
	at, _ := p.Series.At(idx)
	before, _ := p.Series.At(idx - 1)
	assert.Equal(t, 100.0, at.Full)
	assert.Less(t, before.Full, 100.0)

	idx = p.Series.IndexOf(p.DoseEnd)
	at, _ = p.Series.At(idx)
	before, _ = p.Series.At(idx - 1)
	assert.Equal(t, 100.0, at.TotalDoses)
	assert.Less(t, before.TotalDoses, 100.0)
}

func TestProject_FromChosenIndex(t *testing.T) {
	s := rolloutSeries(t)

	p, err := Project(s, 40, 1.6, 29, ProjectOptions{})
	require.NoError(t, err)

	assert.Equal(t, 41, p.StartIndex)
	assert.Equal(t, day0.AddDate(0, 0, 40), p.PredictionMade())
	assert.Equal(t, day0.AddDate(0, 0, 41), p.Simulated()[0].Date)

	// The observed prefix is copied verbatim.
	observed := s.Records()
	projected := p.Series.Records()
	assert.Equal(t, observed[:41], projected[:41])
}

func TestProject_RejectsNonPositiveRate(t *testing.T) {
	s := rolloutSeries(t)

	for _, rate := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		p, err := Project(s, Latest, rate, 29, ProjectOptions{})
		var npe *models.NonPositiveRateError
		assert.True(t, errors.As(err, &npe), "rate=%g: expected NonPositiveRateError, got %v", rate, err)
		assert.Nil(t, p)
	}
}

func TestProject_RejectsShortLookback(t *testing.T) {
	s := constantSeries(t, 5, 90, 8, 2)

	tests := []struct {
		name  string
		start int
		delay int
	}{
		{name: "delay longer than series", start: Latest, delay: 5},
		{name: "delay longer than prefix", start: 2, delay: 3},
		{name: "zero delay", start: Latest, delay: 0},
		{name: "start past end", start: 5, delay: 1},
		{name: "negative start", start: -2, delay: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Project(s, tt.start, 1, tt.delay, ProjectOptions{})
			var ide *models.InsufficientDataError
			assert.True(t, errors.As(err, &ide), "expected InsufficientDataError, got %v", err)
		})
	}
}

func TestProject_IterationLimit(t *testing.T) {
	s := constantSeries(t, 30, 90, 8, 2)

	_, err := Project(s, Latest, 0.1, 21, ProjectOptions{MaxDays: 5})
	var ile *models.IterationLimitError
	require.True(t, errors.As(err, &ile), "expected IterationLimitError, got %v", err)
	assert.Equal(t, 5, ile.MaxDays)
}

func TestProject_AlreadyComplete(t *testing.T) {
	s := constantSeries(t, 5, 0, 0, 100)

	p, err := Project(s, Latest, 1, 2, ProjectOptions{})
	require.NoError(t, err)
	assert.Empty(t, p.Simulated())
	assert.Equal(t, day0, p.DetailEnd)
	assert.Equal(t, day0, p.DoseEnd)
}

// Run context

func TestRunContext_ResolveStart(t *testing.T) {
	rc, err := NewRunContext(rolloutSeries(t), Options{Window: 14, DelayPolicy: DefaultDelayPolicy})
	require.NoError(t, err)
	require.Equal(t, 29, rc.Delay())

	earliest, err := rc.EarliestStart()
	require.NoError(t, err)
	assert.Equal(t, 29, earliest)

	tests := []struct {
		name        string
		predictFrom string
		wantIdx     int
		wantSubst   bool
	}{
		{name: "empty uses earliest", predictFrom: "", wantIdx: 29},
		{name: "valid date", predictFrom: "2021-02-15", wantIdx: 45},
		{name: "too early", predictFrom: "2021-01-10", wantIdx: 29, wantSubst: true},
		{name: "not in series", predictFrom: "2020-06-01", wantIdx: 29, wantSubst: true},
		{name: "after series", predictFrom: "2022-01-01", wantIdx: 29, wantSubst: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, subst, err := rc.ResolveStart(tt.predictFrom)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIdx, idx)
			assert.Equal(t, tt.wantSubst, subst)
		})
	}

	_, _, err = rc.ResolveStart("15/02/2021")
	assert.Error(t, err)
}

func TestRunContext_EarliestStartInsufficient(t *testing.T) {
	rc, err := NewRunContext(rolloutSeries(t), Options{Window: 60})
	require.NoError(t, err)

	_, err = rc.EarliestStart()
	var ide *models.InsufficientDataError
	assert.True(t, errors.As(err, &ide), "expected InsufficientDataError, got %v", err)

	_, err = rc.Run("")
	assert.True(t, errors.As(err, &ide), "expected InsufficientDataError, got %v", err)
}

func TestRunContext_Run(t *testing.T) {
	history := rolloutSeries(t)
	rc, err := NewRunContext(history, Options{DelayPolicy: DefaultDelayPolicy})
	require.NoError(t, err)
	assert.Equal(t, DefaultWindow, rc.Window())

	res, err := rc.Run("2021-01-10")
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.StartSubstituted)
	assert.Equal(t, day0.AddDate(0, 0, 29), res.PredictionMade)
	assert.Equal(t, day0.AddDate(0, 0, 59), res.AsOf)
	assert.Equal(t, 30, res.Early.StartIndex)
	assert.Equal(t, 60, res.Revised.StartIndex)

	assert.InDelta(t, 1.6, res.Revised.Rate, 1e-9)
	assert.InDelta(t, 35.2, res.DosesAdministered, 1e-9)

	days := math.Floor(1 + (100-res.DosesAdministered)/(0.5*res.Revised.Rate))
	assert.Equal(t, res.AsOf.AddDate(0, 0, int(days)), res.RevisedEstimate)

	assert.False(t, res.Early.DetailEnd.IsZero())
	assert.False(t, res.Revised.DetailEnd.IsZero())
	assert.Equal(t, history.Len(), rc.history.Len())
}

func TestNewRunContext_Errors(t *testing.T) {
	_, err := NewRunContext(rolloutSeries(t), Options{Window: -1})
	assert.Error(t, err)

	_, err = NewRunContext(constantSeries(t, 1, 100, 0, 0), Options{})
	var ide *models.InsufficientDataError
	assert.True(t, errors.As(err, &ide), "expected InsufficientDataError, got %v", err)
}
