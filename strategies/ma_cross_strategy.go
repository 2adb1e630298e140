// Package strategies holds ready-made signal generators for the
// simulation engine.
package strategies

import (
	"fmt"
	"math"

	"simkernel/services/engine"
)

// MACrossStrategy generates long entries when a fast moving average
// crosses above a slow one, and exits on the cross back down. With
// AllowShort the down-cross also opens a short.
type MACrossStrategy struct {
	// Params
	Fast       int
	Slow       int
	UseEMA     bool // exponential averages instead of simple
	AllowShort bool
	Size       float64 // units per entry, NaN = as much as affordable
}

func NewMACrossStrategy() *MACrossStrategy {
	return &MACrossStrategy{
		Fast: 20,
		Slow: 50,
		Size: math.NaN(),
	}
}

// Build precomputes the crossover flags for every column and returns a
// signal strategy the engine can run directly.
func (s *MACrossStrategy) Build(data *engine.MarketData) (*engine.SignalStrategy, error) {
	if s.Fast < 1 || s.Slow < 1 {
		return nil, fmt.Errorf("window lengths must be positive, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.Fast >= s.Slow {
		return nil, fmt.Errorf("fast window %d must be shorter than slow window %d", s.Fast, s.Slow)
	}
	bars, assets := data.Bars(), data.Assets()
	longEntry := boolGrid(bars, assets)
	longExit := boolGrid(bars, assets)
	var shortEntry, shortExit [][]bool
	if s.AllowShort {
		shortEntry = boolGrid(bars, assets)
		shortExit = boolGrid(bars, assets)
	}

	avg := SMA
	if s.UseEMA {
		avg = EMA
	}
	col := make([]float64, bars)
	for a := 0; a < assets; a++ {
		for bar := 0; bar < bars; bar++ {
			col[bar] = data.Close[bar][a]
		}
		fast := avg(col, s.Fast)
		slow := avg(col, s.Slow)
		for bar := 1; bar < bars; bar++ {
			prevUp, prevOK := above(fast[bar-1], slow[bar-1])
			nowUp, nowOK := above(fast[bar], slow[bar])
			if !prevOK || !nowOK {
				continue
			}
			if nowUp && !prevUp {
				longEntry[bar][a] = true
				if s.AllowShort {
					shortExit[bar][a] = true
				}
			}
			if !nowUp && prevUp {
				longExit[bar][a] = true
				if s.AllowShort {
					shortEntry[bar][a] = true
				}
			}
		}
	}

	sig := &engine.SignalStrategy{
		LongEntry:  longEntry,
		LongExit:   longExit,
		ShortEntry: shortEntry,
		ShortExit:  shortExit,
	}
	if !math.IsNaN(s.Size) {
		size := make([][]float64, bars)
		for bar := range size {
			row := make([]float64, assets)
			for a := range row {
				row[a] = s.Size
			}
			size[bar] = row
		}
		sig.Size = size
	}
	return sig, nil
}

// SMA is the simple moving average over a trailing window of n values.
// Bars before the window fills, and windows containing NaN, come out
// NaN.
func SMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	nan := 0
	for i, v := range values {
		if math.IsNaN(v) {
			nan++
		} else {
			sum += v
		}
		if i >= n {
			old := values[i-n]
			if math.IsNaN(old) {
				nan--
			} else {
				sum -= old
			}
		}
		if i < n-1 || nan > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA is the exponential moving average with smoothing 2/(n+1), seeded
// with the simple average of the first n values. A NaN input discards
// the accumulated state and the seed restarts on the next value.
func EMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	alpha := 2 / float64(n+1)
	prev := math.NaN()
	sum, count := 0.0, 0
	for i, v := range values {
		if math.IsNaN(v) {
			prev = math.NaN()
			sum, count = 0, 0
			out[i] = math.NaN()
			continue
		}
		if math.IsNaN(prev) {
			sum += v
			count++
			if count < n {
				out[i] = math.NaN()
				continue
			}
			prev = sum / float64(n)
			sum, count = 0, 0
			out[i] = prev
			continue
		}
		prev = alpha*v + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

func above(fast, slow float64) (up, ok bool) {
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return false, false
	}
	return fast > slow, true
}

func boolGrid(bars, assets int) [][]bool {
	g := make([][]bool, bars)
	for i := range g {
		g[i] = make([]bool, assets)
	}
	return g
}
