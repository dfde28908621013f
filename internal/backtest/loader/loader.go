// Package loader reads historical IV and spot files from disk and builds
// per-symbol ivseries.Series, filling in missing iv_percentile/iv_rank via
// a rolling 252-calendar-day window.
package loader

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivbacktest/core/internal/backtest/ivseries"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/logger"
)

// rollingWindowDays is the lookback used to fill missing iv_percentile
// and iv_rank. Calendar days, not trading days, per design.
const rollingWindowDays = 252

// minRollingSamples is the minimum number of prior points required before
// the rolling computation is trusted.
const minRollingSamples = 20

// Loader reads per-symbol historical files from dir. It accepts two file
// layouts per symbol, trying the pre-extracted historical schema first
// and falling back to the daily-summary schema.
type Loader struct {
	dir string
}

// New returns a Loader rooted at dir.
func New(dir string) *Loader {
	return &Loader{dir: dir}
}

// maxConcurrentLoads bounds the per-symbol file-read pool. Symbol loads
// are independent and touch no shared state until the join.
const maxConcurrentLoads = 4

// LoadAll reads each symbol's file (if present) and builds its IV series,
// restricted to [start, end]. Symbols load concurrently; a symbol whose
// file is missing or fails to open is logged and omitted from the result
// rather than failing the whole load.
func (l *Loader) LoadAll(symbols []string, start, end time.Time) map[string]*ivseries.Series {
	out := make(map[string]*ivseries.Series, len(symbols))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(maxConcurrentLoads)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			series, err := l.loadSymbol(sym, start, end)
			if err != nil {
				logger.Errorf("load symbol %s: %v", sym, err)
				return nil
			}
			mu.Lock()
			out[sym] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-symbol failures are logged, never returned
	return out
}

func (l *Loader) loadSymbol(symbol string, start, end time.Time) (*ivseries.Series, error) {
	records, err := l.readRecords(symbol)
	if err != nil {
		return nil, err
	}

	series := ivseries.New(symbol)
	for _, rec := range records {
		point, ok := rec.toPoint(symbol)
		if !ok {
			logger.Debugf("skip malformed record for %s: %+v", symbol, rec)
			continue
		}
		if point.Date.Before(start) || point.Date.After(end) {
			continue
		}
		series.Add(point)
	}

	fillRollingStats(series)
	return series, nil
}

// rawRecord is the union of fields either file schema may supply.
type rawRecord struct {
	date         string
	atmIV        string
	ivRank       string
	ivPercentile string
	hv30         string
	skew         string
	termM1M2     string
	termM1M3     string
	spotPrice    string
}

func (r rawRecord) toPoint(symbol string) (model.IVPoint, bool) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(r.date))
	if err != nil {
		return model.IVPoint{}, false
	}
	iv, err := parseNormalizedIV(r.atmIV)
	if err != nil {
		return model.IVPoint{}, false
	}

	p := model.IVPoint{Date: date, Symbol: symbol, AtmIV: iv}
	if v, ok := parseFloat(r.ivRank); ok {
		p.IVRank, p.IVRankSet = v, true
	}
	if v, ok := parseFloat(r.ivPercentile); ok {
		p.IVPercentile, p.IVPercentileSet = v, true
	}
	if v, ok := parseFloat(r.hv30); ok {
		p.HV30, p.HV30Set = v, true
	}
	if v, ok := parseFloat(r.skew); ok {
		p.Skew, p.SkewSet = v, true
	}
	if v, ok := parseFloat(r.termM1M2); ok {
		p.TermM1M2, p.TermM1M2Set = v, true
	}
	if v, ok := parseFloat(r.termM1M3); ok {
		p.TermM1M3, p.TermM1M3Set = v, true
	}
	if v, ok := parseFloat(r.spotPrice); ok {
		p.SpotPrice, p.SpotPriceSet = v, true
	}
	return p, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNormalizedIV parses an IV field and normalises it to a decimal.
// Values > 2 are assumed to be percent (e.g. 30 means 0.30); this is an
// input-validation tolerance applied once at the boundary, not a runtime
// detection branch scattered through callers.
func parseNormalizedIV(s string) (float64, error) {
	v, ok := parseFloat(s)
	if !ok {
		return 0, fmt.Errorf("invalid atm_iv %q", s)
	}
	if v > 2 {
		v = v / 100
	}
	return v, nil
}

// readRecords tries the pre-extracted historical layout
// (<dir>/historical/<SYMBOL>.csv, header: date,atm_iv,iv_rank,
// iv_percentile,hv30,skew,term_m1_m2,term_m1_m3,spot_price) and falls
// back to the daily-summary layout (<dir>/daily/<SYMBOL>.csv, header:
// date,atm_iv,iv_rank (IV),iv_rank (HV),close).
func (l *Loader) readRecords(symbol string) ([]rawRecord, error) {
	histPath := filepath.Join(l.dir, "historical", strings.ToUpper(symbol)+".csv")
	if rows, header, err := readCSV(histPath); err == nil {
		return mapHistoricalSchema(header, rows), nil
	}

	dailyPath := filepath.Join(l.dir, "daily", strings.ToUpper(symbol)+".csv")
	rows, header, err := readCSV(dailyPath)
	if err != nil {
		return nil, fmt.Errorf("open data file for %s: %w", symbol, err)
	}
	return mapDailySummarySchema(header, rows), nil
}

func readCSV(path string) (rows [][]string, header []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty file %s", path)
	}
	return records[1:], records[0], nil
}

func colIndex(header []string, names ...string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func mapHistoricalSchema(header []string, rows [][]string) []rawRecord {
	dateIdx := colIndex(header, "date")
	ivIdx := colIndex(header, "atm_iv")
	rankIdx := colIndex(header, "iv_rank")
	pctIdx := colIndex(header, "iv_percentile")
	hvIdx := colIndex(header, "hv30")
	skewIdx := colIndex(header, "skew")
	m1m2Idx := colIndex(header, "term_m1_m2")
	m1m3Idx := colIndex(header, "term_m1_m3")
	spotIdx := colIndex(header, "spot_price", "close")

	out := make([]rawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rawRecord{
			date:         field(row, dateIdx),
			atmIV:        field(row, ivIdx),
			ivRank:       field(row, rankIdx),
			ivPercentile: field(row, pctIdx),
			hv30:         field(row, hvIdx),
			skew:         field(row, skewIdx),
			termM1M2:     field(row, m1m2Idx),
			termM1M3:     field(row, m1m3Idx),
			spotPrice:    field(row, spotIdx),
		})
	}
	return out
}

func mapDailySummarySchema(header []string, rows [][]string) []rawRecord {
	dateIdx := colIndex(header, "date")
	ivIdx := colIndex(header, "atm_iv")
	rankIVIdx := colIndex(header, "iv_rank (iv)")
	closeIdx := colIndex(header, "close")

	out := make([]rawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rawRecord{
			date:      field(row, dateIdx),
			atmIV:     field(row, ivIdx),
			ivRank:    field(row, rankIVIdx),
			spotPrice: field(row, closeIdx),
		})
	}
	return out
}

// fillRollingStats fills IVPercentile/IVRank for points lacking them by
// rolling a rollingWindowDays-calendar-day window over prior same-symbol
// points, requiring at least minRollingSamples samples.
func fillRollingStats(series *ivseries.Series) {
	points := series.Points()
	for i, p := range points {
		if p.IVPercentileSet && p.IVRankSet {
			continue
		}
		windowStart := p.Date.AddDate(0, 0, -rollingWindowDays)
		var prior []float64
		for j := i - 1; j >= 0; j-- {
			if points[j].Date.Before(windowStart) {
				break
			}
			prior = append(prior, points[j].AtmIV)
		}
		if len(prior) < minRollingSamples {
			continue
		}

		if !p.IVPercentileSet {
			below := 0
			for _, v := range prior {
				if v < p.AtmIV {
					below++
				}
			}
			p.IVPercentile = float64(below) / float64(len(prior)) * 100
			p.IVPercentileSet = true
		}
		if !p.IVRankSet {
			min, max := prior[0], prior[0]
			for _, v := range prior {
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
			if max > min {
				p.IVRank = (p.AtmIV - min) / (max - min) * 100
				p.IVRankSet = true
			}
		}
		series.Add(p)
	}
}

// LoadSpotPrices reads a best-effort close-price series for symbol.
// Missing files are not an error; callers get a nil map.
func (l *Loader) LoadSpotPrices(symbol string) map[time.Time]float64 {
	bars := l.LoadSpotOHLC(symbol)
	if bars == nil {
		return nil
	}
	out := make(map[time.Time]float64, len(bars))
	for _, b := range bars {
		out[b.Date] = b.Close
	}
	return out
}

// LoadSpotOHLC reads <dir>/spot/<SYMBOL>.csv (date,open,high,low,close),
// best-effort.
func (l *Loader) LoadSpotOHLC(symbol string) []model.SpotBar {
	path := filepath.Join(l.dir, "spot", strings.ToUpper(symbol)+".csv")
	rows, header, err := readCSV(path)
	if err != nil {
		logger.Debugf("no spot file for %s: %v", symbol, err)
		return nil
	}
	dateIdx := colIndex(header, "date")
	openIdx := colIndex(header, "open")
	highIdx := colIndex(header, "high")
	lowIdx := colIndex(header, "low")
	closeIdx := colIndex(header, "close")

	var out []model.SpotBar
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", strings.TrimSpace(field(row, dateIdx)))
		if err != nil {
			continue
		}
		open, _ := parseFloat(field(row, openIdx))
		high, _ := parseFloat(field(row, highIdx))
		low, _ := parseFloat(field(row, lowIdx))
		closeP, _ := parseFloat(field(row, closeIdx))
		out = append(out, model.SpotBar{Date: date, Open: open, High: high, Low: low, Close: closeP})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// LoadEarningsCalendar reads <dir>/earnings.json:
// {"SYMBOL": ["YYYY-MM-DD", ...]}. A missing file yields an empty,
// non-nil calendar; every lookup simply misses.
func (l *Loader) LoadEarningsCalendar() model.EarningsCalendar {
	cal := make(model.EarningsCalendar)
	path := filepath.Join(l.dir, "earnings.json")
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Debugf("no earnings calendar at %s: %v", path, err)
		return cal
	}
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		logger.Errorf("parse earnings calendar: %v", err)
		return cal
	}
	for sym, dates := range raw {
		var parsed []time.Time
		for _, d := range dates {
			t, err := time.Parse("2006-01-02", d)
			if err != nil {
				continue
			}
			parsed = append(parsed, t)
		}
		sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })
		cal[sym] = parsed
	}
	return cal
}

// SplitByDate partitions every series in all at d.
func SplitByDate(all map[string]*ivseries.Series, d time.Time) (inSample, outSample map[string]*ivseries.Series) {
	inSample = make(map[string]*ivseries.Series, len(all))
	outSample = make(map[string]*ivseries.Series, len(all))
	for sym, series := range all {
		in, out := series.SplitByDate(d)
		inSample[sym] = in
		outSample[sym] = out
	}
	return
}

// SplitByRatio partitions every series in all using each symbol's own
// date range, per SplitByRatio's per-symbol semantics.
func SplitByRatio(all map[string]*ivseries.Series, ratio float64) (inSample, outSample map[string]*ivseries.Series) {
	inSample = make(map[string]*ivseries.Series, len(all))
	outSample = make(map[string]*ivseries.Series, len(all))
	for sym, series := range all {
		in, out := series.SplitByRatio(ratio)
		inSample[sym] = in
		outSample[sym] = out
	}
	return
}
