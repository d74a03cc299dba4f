// Package forecast projects vaccination coverage forward from observed uptake.
//
// A run estimates two inputs from the observed series and then simulates day by day:
//
//	delay = days between a person's first and second dose (EstimateSecondDoseDelay)
//	rate  = trailing average of first + second doses per day (AverageRate)
//
// Each simulated day, people who received their first dose delay days earlier
// receive their second dose, and any remaining capacity goes to first doses.
// Once nobody is left unvaccinated, all capacity goes to second doses. The
// simulation stops when both the fully vaccinated share and the share of all
// required doses administered reach 100%.
//
// RunContext bundles the estimated parameters so that the early projection (from a
// chosen date) and the revised projection (from the latest date) share them.
package forecast

import (
	"math"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

// DefaultMaxPrimaryDelay is the 12-week ceiling on the primary delay estimate,
// the longest recommended gap between doses when the rollout started.
const DefaultMaxPrimaryDelay = 84

// DelayPolicy tunes EstimateSecondDoseDelay.
type DelayPolicy struct {
	// MaxPrimaryDays caps the primary estimate. Zero disables the cap. The
	// fallback estimate is never capped.
	//
	// The cap is a domain ceiling that predates the peak-based fallback, not a
	// property of the data. Prefer disabling it for series past the partial peak.
	MaxPrimaryDays int
}

// DefaultDelayPolicy caps the primary estimate at DefaultMaxPrimaryDelay days.
var DefaultDelayPolicy = DelayPolicy{MaxPrimaryDays: DefaultMaxPrimaryDelay}

// EstimateSecondDoseDelay infers the typical gap in days between first and second
// dose.
//
// Primary estimate: the earliest date on which the partial share exceeded today's
// full share. Everyone fully vaccinated today had had one dose by then, so the
// delay is the distance from that date to the latest date.
//
// Once the full share has grown past the historical peak of the partial share,
// the primary scan finds nothing. The fallback then measures from the date the
// partial share peaked to the last date on which the full share was still below
// that peak.
func EstimateSecondDoseDelay(s *models.TimeSeries, policy DelayPolicy) (int, error) {
	if s.Len() < 2 {
		return 0, &models.InsufficientDataError{Need: 2, Have: s.Len(), Reason: "delay estimation"}
	}

	records := s.Records()
	last := records[len(records)-1]

	for _, r := range records {
		if r.Partial > last.Full {
			delay := daysBetween(r.Date, last.Date)
			if policy.MaxPrimaryDays > 0 && delay > policy.MaxPrimaryDays {
				delay = policy.MaxPrimaryDays
			}
			return delay, nil
		}
	}

	return fallbackDelay(records)
}

func fallbackDelay(records []models.Record) (int, error) {
	peak := 0.0
	peakIdx := -1
	for i, r := range records {
		if r.Partial > peak {
			peak = r.Partial
			peakIdx = i
		}
	}
	if peakIdx < 0 {
		return 0, &models.InsufficientDataError{Reason: "no partial vaccination observed"}
	}

	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Full < peak {
			delay := daysBetween(records[peakIdx].Date, records[i].Date)
			if delay < 0 {
				delay = 0
			}
			return delay, nil
		}
	}

	return 0, &models.InsufficientDataError{Reason: "full share never below partial peak"}
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
