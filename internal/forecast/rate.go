package forecast

import (
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// DefaultWindow is the number of trailing days averaged by AverageRate.
const DefaultWindow = 14

// AverageRate returns the mean daily dose rate over the window days ending at idx,
// in percent of the population per day. First and second doses both count, so the
// result is the total daily capacity the projection allocates.
func AverageRate(s *models.TimeSeries, idx, window int) (float64, error) {
	if window < 1 {
		return 0, &models.InsufficientDataError{Reason: "averaging window must be at least one day"}
	}
	if idx-window < 0 {
		return 0, &models.InsufficientDataError{Need: window + 1, Have: idx + 1, Reason: "averaging window"}
	}

	end, err := s.At(idx)
	if err != nil {
		return 0, err
	}
	start, err := s.At(idx - window)
	if err != nil {
		return 0, err
	}

	return ((end.AtLeastOne - start.AtLeastOne) + (end.Full - start.Full)) / float64(window), nil
}
