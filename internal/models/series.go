// Package models defines the core domain types for vaxoracle: raw dose-uptake rows
// as published, and the date-indexed series of population shares derived from them.
//
// Terminology:
//   - Unvaccinated: share of the population with no dose.
//   - Partial: share with exactly one dose.
//   - Full: share with two doses.
//   - AtLeastOne: Partial + Full, the published first-dose uptake.
//   - TotalDoses: share of all required doses administered (Full + Partial/2).
//
// All values are percentages in [0, 100].
package models

import (
	"math"
	"sort"
	"time"
)

// DateLayout is the date format used by the published data and all reports.
const DateLayout = "2006-01-02"

// Tolerance is the floating point slack allowed when checking share invariants.
const Tolerance = 1e-9

// Row is one raw published observation. Date is kept as the source string so
// parse failures can be reported against the original input.
type Row struct {
	Date             string  `json:"date"`
	CumFirstDosePct  float64 `json:"cum_first_dose_pct"`
	CumSecondDosePct float64 `json:"cum_second_dose_pct"`
}

// Record is the per-day state of the population shares.
type Record struct {
	Date         time.Time `json:"date"`
	Unvaccinated float64   `json:"unvaccinated"`
	Partial      float64   `json:"partial"`
	Full         float64   `json:"full"`
	AtLeastOne   float64   `json:"at_least_one"`
	// TotalDoses is derived as Full + Partial/2 for observed records. Projected
	// records carry the value accumulated by the projection instead.
	TotalDoses float64 `json:"total_doses"`
}

// DosesAdministered returns Full + Partial/2 for the record's shares.
func (r Record) DosesAdministered() float64 {
	return r.Full + 0.5*r.Partial
}

// Validate checks the share invariants of a single record.
func (r Record) Validate() error {
	for _, v := range []float64{r.Unvaccinated, r.Partial, r.Full, r.AtLeastOne, r.TotalDoses} {
		if math.IsNaN(v) || v < -Tolerance || v > 100+Tolerance {
			return &DataFormatError{Row: -1, Date: r.Date.Format(DateLayout), Reason: "share outside [0, 100]"}
		}
	}
	if math.Abs(r.Unvaccinated+r.Partial+r.Full-100) > 1e-6 {
		return &DataFormatError{Row: -1, Date: r.Date.Format(DateLayout), Reason: "shares do not sum to 100"}
	}
	return nil
}

// TimeSeries is an ordered, strictly date-increasing sequence of records.
// The zero value is an empty series.
type TimeSeries struct {
	records []Record
}

// NewTimeSeries converts raw rows, in any order, into an ascending series.
func NewTimeSeries(rows []Row) (*TimeSeries, error) {
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := recordFromRow(i, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	for i := 1; i < len(records); i++ {
		if !records[i].Date.After(records[i-1].Date) {
			return nil, &DataFormatError{
				Row:    -1,
				Date:   records[i].Date.Format(DateLayout),
				Reason: "duplicate date",
			}
		}
	}

	return &TimeSeries{records: records}, nil
}

// FromRecords builds a series from records that are already in date order.
// The slice is copied.
func FromRecords(records []Record) (*TimeSeries, error) {
	for i := 1; i < len(records); i++ {
		if !records[i].Date.After(records[i-1].Date) {
			return nil, &DataFormatError{
				Row:    i,
				Date:   records[i].Date.Format(DateLayout),
				Reason: "records not strictly increasing by date",
			}
		}
	}
	out := make([]Record, len(records))
	copy(out, records)
	return &TimeSeries{records: out}, nil
}

func recordFromRow(i int, row Row) (Record, error) {
	date, err := time.Parse(DateLayout, row.Date)
	if err != nil {
		return Record{}, &DataFormatError{Row: i, Date: row.Date, Reason: "unparseable date"}
	}

	first, second := row.CumFirstDosePct, row.CumSecondDosePct
	if !inRange(first) || !inRange(second) {
		return Record{}, &DataFormatError{Row: i, Date: row.Date, Reason: "percentage outside [0, 100]"}
	}
	if second > first {
		return Record{}, &DataFormatError{Row: i, Date: row.Date, Reason: "second dose uptake exceeds first dose uptake"}
	}

	partial := first - second
	return Record{
		Date:         date,
		Unvaccinated: 100 - first,
		Partial:      partial,
		Full:         second,
		AtLeastOne:   first,
		TotalDoses:   second + 0.5*partial,
	}, nil
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// Len returns the number of records.
func (s *TimeSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// At returns the record at index i.
func (s *TimeSeries) At(i int) (Record, error) {
	if i < 0 || i >= s.Len() {
		return Record{}, &InsufficientDataError{Need: i + 1, Have: s.Len(), Reason: "index out of range"}
	}
	return s.records[i], nil
}

// Last returns the most recent record. ok is false for an empty series.
func (s *TimeSeries) Last() (Record, bool) {
	if s.Len() == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// IndexOf returns the index of the record on date, or -1.
func (s *TimeSeries) IndexOf(date time.Time) int {
	if s.Len() == 0 {
		return -1
	}
	y, m, d := date.Date()
	i := sort.Search(len(s.records), func(i int) bool {
		ry, rm, rd := s.records[i].Date.Date()
		if ry != y {
			return ry > y
		}
		if rm != m {
			return rm > m
		}
		return rd >= d
	})
	if i < len(s.records) {
		ry, rm, rd := s.records[i].Date.Date()
		if ry == y && rm == m && rd == d {
			return i
		}
	}
	return -1
}

// Records returns a copy of the underlying records.
func (s *TimeSeries) Records() []Record {
	out := make([]Record, s.Len())
	if s.Len() > 0 {
		copy(out, s.records)
	}
	return out
}

// Prefix returns a copy of the first n records as a new series.
func (s *TimeSeries) Prefix(n int) (*TimeSeries, error) {
	if n < 0 || n > s.Len() {
		return nil, &InsufficientDataError{Need: n, Have: s.Len(), Reason: "prefix longer than series"}
	}
	out := make([]Record, n)
	copy(out, s.records[:n])
	return &TimeSeries{records: out}, nil
}

// Dates returns the record dates in order.
func (s *TimeSeries) Dates() []time.Time {
	out := make([]time.Time, s.Len())
	for i := range out {
		out[i] = s.records[i].Date
	}
	return out
}

// Column extracts one value per record using f.
func (s *TimeSeries) Column(f func(Record) float64) []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = f(s.records[i])
	}
	return out
}

// Column selectors for use with TimeSeries.Column.
var (
	UnvaccinatedOf = func(r Record) float64 { return r.Unvaccinated }
	PartialOf      = func(r Record) float64 { return r.Partial }
	FullOf         = func(r Record) float64 { return r.Full }
	AtLeastOneOf   = func(r Record) float64 { return r.AtLeastOne }
	TotalDosesOf   = func(r Record) float64 { return r.TotalDoses }
)
