// Package marketdata loads OHLCV candle files and aligns them into the
// rectangular [bars][assets] arrays the simulation engine consumes.
package marketdata

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"simkernel/services/engine"
)

// Series is one symbol's candle history in ascending timestamp order.
type Series struct {
	Symbol string
	Ts     []int64
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

func (s *Series) Len() int { return len(s.Ts) }

// LoadCSV reads a candle file with columns
// timestamp,open,high,low,close[,volume]. Timestamps are epoch
// milliseconds. A UTF-16 BOM is detected and decoded transparently;
// header rows and malformed lines are skipped.
func LoadCSV(path, symbol string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadCSV parses candle rows from r. See LoadCSV for the format.
func ReadCSV(r io.Reader, symbol string) (*Series, error) {
	br := bufio.NewReader(r)
	// detect UTF-16 BOM; if present, decode to UTF-8
	if b, _ := br.Peek(2); len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		tr := transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
		br = bufio.NewReader(tr)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	cr.LazyQuotes = true

	s := &Series{Symbol: symbol}
	idx := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(rec) < 5 {
			idx++
			continue
		}
		if idx == 0 && (strings.EqualFold(rec[0], "timestamp") || strings.EqualFold(rec[0], "timestamp_ms")) {
			idx++
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF")), 10, 64)
		if err != nil {
			idx++
			continue
		}
		o := parseField(rec[1])
		h := parseField(rec[2])
		l := parseField(rec[3])
		c := parseField(rec[4])
		v := 0.0
		if len(rec) >= 6 {
			v = parseField(rec[5])
		}
		s.Ts = append(s.Ts, ts)
		s.Open = append(s.Open, o)
		s.High = append(s.High, h)
		s.Low = append(s.Low, l)
		s.Close = append(s.Close, c)
		s.Volume = append(s.Volume, v)
		idx++
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("no candle rows parsed")
	}
	s.normalize()
	return s, nil
}

func parseField(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(raw, `"`)), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// normalize sorts rows by timestamp and collapses duplicates, keeping
// the last occurrence of each timestamp.
func (s *Series) normalize() {
	order := make([]int, s.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.Ts[order[a]] < s.Ts[order[b]] })

	out := &Series{Symbol: s.Symbol}
	for _, i := range order {
		n := out.Len()
		if n > 0 && out.Ts[n-1] == s.Ts[i] {
			out.Open[n-1] = s.Open[i]
			out.High[n-1] = s.High[i]
			out.Low[n-1] = s.Low[i]
			out.Close[n-1] = s.Close[i]
			out.Volume[n-1] = s.Volume[i]
			continue
		}
		out.Ts = append(out.Ts, s.Ts[i])
		out.Open = append(out.Open, s.Open[i])
		out.High = append(out.High, s.High[i])
		out.Low = append(out.Low, s.Low[i])
		out.Close = append(out.Close, s.Close[i])
		out.Volume = append(out.Volume, s.Volume[i])
	}
	*s = *out
}

// Align merges the series onto the union of their timestamps. Column
// order follows the argument order. Bars a series has no candle for
// stay NaN, which the engine treats as untradable for that asset.
func Align(series ...*Series) (*engine.MarketData, []string, error) {
	if len(series) == 0 {
		return nil, nil, fmt.Errorf("no series to align")
	}
	seen := make(map[int64]bool)
	var times []int64
	for i, s := range series {
		if s == nil || s.Len() == 0 {
			return nil, nil, fmt.Errorf("series %d is empty", i)
		}
		for _, ts := range s.Ts {
			if !seen[ts] {
				seen[ts] = true
				times = append(times, ts)
			}
		}
	}
	sort.Slice(times, func(a, b int) bool { return times[a] < times[b] })
	barOf := make(map[int64]int, len(times))
	for i, ts := range times {
		barOf[ts] = i
	}

	bars, assets := len(times), len(series)
	data := &engine.MarketData{
		Open:  engine.NewBuffer(bars, assets),
		High:  engine.NewBuffer(bars, assets),
		Low:   engine.NewBuffer(bars, assets),
		Close: engine.NewBuffer(bars, assets),
		Times: times,
	}
	columns := make([]string, assets)
	for col, s := range series {
		columns[col] = s.Symbol
		for i, ts := range s.Ts {
			bar := barOf[ts]
			data.Open[bar][col] = s.Open[i]
			data.High[bar][col] = s.High[i]
			data.Low[bar][col] = s.Low[i]
			data.Close[bar][col] = s.Close[i]
		}
	}
	return data, columns, nil
}
