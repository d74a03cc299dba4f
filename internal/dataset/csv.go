package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Column names used by the dashboard API and by cached CSV files.
const (
	ColumnDate       = "date"
	ColumnFirstDose  = "cumVaccinationFirstDoseUptakeByPublishDatePercentage"
	ColumnSecondDose = "cumVaccinationSecondDoseUptakeByPublishDatePercentage"
)

// ReadCSV parses the three-column uptake format. Columns are located by header
// name, extra columns are ignored. Rows with an empty percentage cell are skipped:
// the dashboard publishes those for days before uptake reporting started.
func ReadCSV(r io.Reader) ([]models.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	dateCol, ok1 := cols[ColumnDate]
	firstCol, ok2 := cols[ColumnFirstDose]
	secondCol, ok3 := cols[ColumnSecondDose]
	if !ok1 || !ok2 || !ok3 {
		return nil, &models.DataFormatError{Row: -1, Reason: fmt.Sprintf("missing columns, header is %v", header)}
	}

	var rows []models.Row
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if len(rec) <= dateCol || len(rec) <= firstCol || len(rec) <= secondCol {
			return nil, &models.DataFormatError{Row: line, Reason: "short row"}
		}

		firstRaw, secondRaw := strings.TrimSpace(rec[firstCol]), strings.TrimSpace(rec[secondCol])
		if firstRaw == "" || secondRaw == "" {
			continue
		}
		first, err := strconv.ParseFloat(firstRaw, 64)
		if err != nil {
			return nil, &models.DataFormatError{Row: line, Date: rec[dateCol], Reason: "invalid first dose percentage"}
		}
		second, err := strconv.ParseFloat(secondRaw, 64)
		if err != nil {
			return nil, &models.DataFormatError{Row: line, Date: rec[dateCol], Reason: "invalid second dose percentage"}
		}

		rows = append(rows, models.Row{
			Date:             strings.TrimSpace(rec[dateCol]),
			CumFirstDosePct:  first,
			CumSecondDosePct: second,
		})
	}
	return rows, nil
}

// WriteCSV writes rows in the format ReadCSV accepts.
func WriteCSV(w io.Writer, rows []models.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnDate, ColumnFirstDose, ColumnSecondDose}); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{
			row.Date,
			strconv.FormatFloat(row.CumFirstDosePct, 'f', -1, 64),
			strconv.FormatFloat(row.CumSecondDosePct, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
