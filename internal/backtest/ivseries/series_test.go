package ivseries

import (
	"testing"
	"time"

	"github.com/ivbacktest/core/internal/backtest/model"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func pt(date string, iv float64) model.IVPoint {
	return model.IVPoint{Date: d(date), AtmIV: iv, IVPercentileSet: true}
}

func TestSeriesAddOrdersAndDedupes(t *testing.T) {
	s := New("SPY")
	s.Add(pt("2024-01-03", 0.3))
	s.Add(pt("2024-01-01", 0.2))
	s.Add(pt("2024-01-02", 0.25))
	s.Add(pt("2024-01-01", 0.21)) // replaces the first point

	dates := s.Dates()
	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	if len(dates) != len(want) {
		t.Fatalf("got %d dates, want %d", len(dates), len(want))
	}
	for i, w := range want {
		if !dates[i].Equal(d(w)) {
			t.Fatalf("dates[%d] = %v, want %v", i, dates[i], w)
		}
	}

	p, ok := s.Get(d("2024-01-01"))
	if !ok || p.AtmIV != 0.21 {
		t.Fatalf("expected replaced point 0.21, got %+v ok=%v", p, ok)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 points after dedupe, got %d", s.Len())
	}
}

func TestSeriesGetRange(t *testing.T) {
	s := New("SPY")
	for _, day := range []string{"2024-01-01", "2024-01-05", "2024-01-10", "2024-01-15"} {
		s.Add(pt(day, 0.2))
	}

	got := s.GetRange(d("2024-01-04"), d("2024-01-12"))
	if len(got) != 2 {
		t.Fatalf("expected 2 points in range, got %d", len(got))
	}
	if !got[0].Date.Equal(d("2024-01-05")) || !got[1].Date.Equal(d("2024-01-10")) {
		t.Fatalf("unexpected range result: %+v", got)
	}

	if got := s.GetRange(d("2024-02-01"), d("2024-02-28")); got != nil {
		t.Fatalf("expected nil for a range with no points, got %+v", got)
	}
}

func TestSeriesSplitByDate(t *testing.T) {
	s := New("SPY")
	for _, day := range []string{"2024-01-01", "2024-06-01", "2024-12-01"} {
		s.Add(pt(day, 0.2))
	}

	in, out := s.SplitByDate(d("2024-06-01"))
	if in.Len() != 1 || out.Len() != 2 {
		t.Fatalf("split counts wrong: in=%d out=%d", in.Len(), out.Len())
	}
	if !in.Dates()[0].Equal(d("2024-01-01")) {
		t.Fatalf("in-sample should only hold points strictly before split date")
	}
}

func TestSeriesSplitByRatioUsesOwnRange(t *testing.T) {
	spy := New("SPY")
	for y := 2020; y <= 2024; y++ {
		spy.Add(pt(time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), 0.2))
	}
	aapl := New("AAPL")
	for y := 2022; y <= 2024; y++ {
		aapl.Add(pt(time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), 0.2))
	}

	spyIn, spyOut := spy.SplitByRatio(0.5)
	aaplIn, aaplOut := aapl.SplitByRatio(0.5)

	if spyIn.Len() == 0 || spyOut.Len() == 0 {
		t.Fatalf("SPY split should be non-empty on both sides: in=%d out=%d", spyIn.Len(), spyOut.Len())
	}
	if aaplIn.Len() == 0 || aaplOut.Len() == 0 {
		t.Fatalf("AAPL split should be non-empty on both sides despite disjoint history: in=%d out=%d", aaplIn.Len(), aaplOut.Len())
	}
}

func TestSeriesGetNearest(t *testing.T) {
	s := New("SPY")
	s.Add(pt("2024-01-01", 0.1))
	s.Add(pt("2024-01-10", 0.2))

	if _, ok := s.GetNearest(d("2024-01-05"), MatchExact); ok {
		t.Fatalf("MatchExact should miss when there's no point on that date")
	}

	p, ok := s.GetNearest(d("2024-01-05"), MatchLower)
	if !ok || !p.Date.Equal(d("2024-01-01")) {
		t.Fatalf("MatchLower got %+v ok=%v", p, ok)
	}

	p, ok = s.GetNearest(d("2024-01-05"), MatchHigher)
	if !ok || !p.Date.Equal(d("2024-01-10")) {
		t.Fatalf("MatchHigher got %+v ok=%v", p, ok)
	}

	p, ok = s.GetNearest(d("2024-01-03"), MatchNearest)
	if !ok || !p.Date.Equal(d("2024-01-01")) {
		t.Fatalf("MatchNearest should pick the closer neighbour, got %+v", p)
	}

	if _, ok := s.GetNearest(d("2023-12-01"), MatchLower); ok {
		t.Fatalf("MatchLower before series start should miss")
	}
}
