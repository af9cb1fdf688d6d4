package tradelocker

import (
	"fmt"
	"time"

	apperrors "tradelocker/pkg/errors"
)

// Resolution is the time-bucket size for price history bars.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution30m Resolution = "30m"
	Resolution1H  Resolution = "1H"
	Resolution4H  Resolution = "4H"
	Resolution1D  Resolution = "1D"
	Resolution1W  Resolution = "1W"
	Resolution1M  Resolution = "1M"
)

// resolutionOrder lists the supported resolutions from the most to the least
// frequent.
var resolutionOrder = []Resolution{
	Resolution1m, Resolution5m, Resolution15m, Resolution30m,
	Resolution1H, Resolution4H, Resolution1D, Resolution1W, Resolution1M,
}

func resolutionIndex(r Resolution) (int, error) {
	for i, candidate := range resolutionOrder {
		if candidate == r {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown resolution %q", apperrors.ErrInvalidArgument, r)
}

// MoreFrequentThan reports whether r produces more bars than other over the
// same window.
func (r Resolution) MoreFrequentThan(other Resolution) (bool, error) {
	ri, err := resolutionIndex(r)
	if err != nil {
		return false, err
	}
	oi, err := resolutionIndex(other)
	if err != nil {
		return false, err
	}
	return ri < oi, nil
}

// Period unit suffixes and their duration in milliseconds. Months count as 30
// days and years as 365 days.
var periodUnitMillis = map[byte]int64{
	's': 1000,
	'm': 60 * 1000,
	'H': 60 * 60 * 1000,
	'D': 24 * 60 * 60 * 1000,
	'W': 7 * 24 * 60 * 60 * 1000,
	'M': 30 * 24 * 60 * 60 * 1000,
	'Y': 365 * 24 * 60 * 60 * 1000,
}

// periodMillis parses a period string such as "5D" or "15m" into milliseconds.
func periodMillis(period string) (int64, error) {
	if len(period) < 2 {
		return 0, fmt.Errorf("%w: period %q must have a number and a unit suffix",
			apperrors.ErrInvalidArgument, period)
	}

	unit := period[len(period)-1]
	coeff, ok := periodUnitMillis[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown period unit %q in %q",
			apperrors.ErrInvalidArgument, string(unit), period)
	}

	var n int64
	if _, err := fmt.Sscanf(period[:len(period)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid period count in %q",
			apperrors.ErrInvalidArgument, period)
	}

	return n * coeff, nil
}

// timestampsFromLookback converts a lookback period into a [from, to] window
// in unix milliseconds ending at now.
func timestampsFromLookback(lookback string, now time.Time) (int64, int64, error) {
	span, err := periodMillis(lookback)
	if err != nil {
		return 0, 0, err
	}
	to := now.UnixMilli()
	return to - span, to, nil
}

// resolveWindow normalizes a history request window. Explicit timestamps win
// over the lookback period; a zero end means "until now"; a request with
// neither a lookback nor a valid start is an error.
func resolveWindow(lookback string, from, to int64, now time.Time) (int64, int64, error) {
	if to == 0 {
		to = now.UnixMilli()
	}

	if lookback == "" && (from == 0 || from > to) {
		return 0, 0, fmt.Errorf("%w: either a lookback period or a valid from/to window is required",
			apperrors.ErrInvalidArgument)
	}

	if from != 0 && from <= to {
		return from, to, nil
	}

	return timestampsFromLookback(lookback, now)
}

// resolutionMillis returns the bar duration of a resolution in milliseconds.
func resolutionMillis(resolution Resolution) (int64, error) {
	return periodMillis(string(resolution))
}

// estimateBars estimates how many bars a history window will produce at the
// given resolution.
func estimateBars(from, to int64, resolution Resolution) (int, error) {
	coeff, err := resolutionMillis(resolution)
	if err != nil {
		return 0, err
	}
	return int((to - from) / coeff), nil
}
