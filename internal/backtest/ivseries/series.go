// Package ivseries is the per-symbol time-series store for IV data points:
// ordered insertion, O(log n) date lookup via binary search, and range
// queries. A Series is treated as read-only once the loader has finished
// populating it.
package ivseries

import (
	"sort"
	"time"

	"github.com/ivbacktest/core/internal/backtest/model"
)

// Series holds one symbol's IV points ordered strictly ascending by date.
// Inserting a point with a date already present replaces it in place.
type Series struct {
	Symbol string
	points []model.IVPoint
}

// New returns an empty series for symbol.
func New(symbol string) *Series {
	return &Series{Symbol: symbol}
}

// Add inserts point in date order, replacing any existing point on the
// same date.
func (s *Series) Add(point model.IVPoint) {
	idx := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(point.Date)
	})
	if idx < len(s.points) && s.points[idx].Date.Equal(point.Date) {
		s.points[idx] = point
		return
	}
	s.points = append(s.points, model.IVPoint{})
	copy(s.points[idx+1:], s.points[idx:])
	s.points[idx] = point
}

// Get returns the point on date, if present.
func (s *Series) Get(date time.Time) (model.IVPoint, bool) {
	idx := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(date)
	})
	if idx < len(s.points) && s.points[idx].Date.Equal(date) {
		return s.points[idx], true
	}
	return model.IVPoint{}, false
}

// GetRange returns points with start <= date <= end, in ascending order.
func (s *Series) GetRange(start, end time.Time) []model.IVPoint {
	from := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(start)
	})
	to := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Date.After(end)
	})
	if from >= to {
		return nil
	}
	out := make([]model.IVPoint, to-from)
	copy(out, s.points[from:to])
	return out
}

// Dates returns all dates in ascending order.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.points))
	for i, p := range s.points {
		out[i] = p.Date
	}
	return out
}

// Points returns a copy of the underlying points in ascending date order,
// for callers that need to iterate rather than random-access.
func (s *Series) Points() []model.IVPoint {
	out := make([]model.IVPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Len reports the number of points in the series.
func (s *Series) Len() int { return len(s.points) }

// PointsBefore returns the points strictly before date, in ascending
// order.
func (s *Series) PointsBefore(date time.Time) []model.IVPoint {
	idx := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(date)
	})
	out := make([]model.IVPoint, idx)
	copy(out, s.points[:idx])
	return out
}

// DateMatch selects how GetNearest resolves a date with no exact point.
type DateMatch int

const (
	// MatchExact requires an exact date match; GetNearest behaves like Get.
	MatchExact DateMatch = iota
	// MatchNearest picks whichever neighbour is closer in calendar days,
	// ties broken toward the earlier date.
	MatchNearest
	// MatchHigher picks the first point with Date >= the requested date.
	MatchHigher
	// MatchLower picks the last point with Date <= the requested date.
	MatchLower
)

// GetNearest resolves date to a point per the requested match mode. ok is
// false when no point satisfies the mode (e.g. MatchLower before the
// series starts).
func (s *Series) GetNearest(date time.Time, mode DateMatch) (model.IVPoint, bool) {
	if len(s.points) == 0 {
		return model.IVPoint{}, false
	}
	idx := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(date)
	})

	switch mode {
	case MatchExact:
		if idx < len(s.points) && s.points[idx].Date.Equal(date) {
			return s.points[idx], true
		}
		return model.IVPoint{}, false
	case MatchHigher:
		if idx < len(s.points) {
			return s.points[idx], true
		}
		return model.IVPoint{}, false
	case MatchLower:
		if idx < len(s.points) && s.points[idx].Date.Equal(date) {
			return s.points[idx], true
		}
		if idx == 0 {
			return model.IVPoint{}, false
		}
		return s.points[idx-1], true
	default: // MatchNearest
		if idx < len(s.points) && s.points[idx].Date.Equal(date) {
			return s.points[idx], true
		}
		var lower, higher *model.IVPoint
		if idx > 0 {
			lower = &s.points[idx-1]
		}
		if idx < len(s.points) {
			higher = &s.points[idx]
		}
		switch {
		case lower == nil:
			return *higher, true
		case higher == nil:
			return *lower, true
		default:
			dLower := date.Sub(lower.Date)
			dHigher := higher.Date.Sub(date)
			if dLower <= dHigher {
				return *lower, true
			}
			return *higher, true
		}
	}
}

// SplitByDate partitions the series at d: points with Date < d go to the
// in-sample series, the rest go to out-of-sample.
func (s *Series) SplitByDate(d time.Time) (inSample, outSample *Series) {
	inSample, outSample = New(s.Symbol), New(s.Symbol)
	for _, p := range s.points {
		if p.Date.Before(d) {
			inSample.Add(p)
		} else {
			outSample.Add(p)
		}
	}
	return
}

// SplitByRatio partitions the series using its own date range: the split
// point is start + ratio*(end-start), so symbols with different
// histories each contribute non-empty partitions.
func (s *Series) SplitByRatio(ratio float64) (inSample, outSample *Series) {
	if len(s.points) == 0 {
		return New(s.Symbol), New(s.Symbol)
	}
	start := s.points[0].Date
	end := s.points[len(s.points)-1].Date
	span := end.Sub(start)
	splitDate := start.Add(time.Duration(float64(span) * ratio))
	return s.SplitByDate(splitDate)
}
