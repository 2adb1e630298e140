package engine

// Materialized inputs and the per-step view handed to strategies

import "math"

// MarketData holds pre-broadcast OHLC arrays shaped [bars][assets]. The
// engine performs no broadcasting; callers deliver aligned arrays.
type MarketData struct {
	Open  [][]float64
	High  [][]float64
	Low   [][]float64
	Close [][]float64
	Times []int64 // optional epoch ms per bar, metadata only
}

func (m *MarketData) Bars() int { return len(m.Close) }

func (m *MarketData) Assets() int {
	if len(m.Close) == 0 {
		return 0
	}
	return len(m.Close[0])
}

// BarAt assembles the OHLC of one asset at one bar.
func (m *MarketData) BarAt(bar, asset int) Bar {
	return Bar{
		Open:  m.Open[bar][asset],
		High:  m.High[bar][asset],
		Low:   m.Low[bar][asset],
		Close: m.Close[bar][asset],
	}
}

// Tradable reports whether the asset has a complete bar. A NaN anywhere
// in OHLC marks the asset untradable for that bar: no new orders and no
// stop checks, while resting limits and time stops carry over.
func (m *MarketData) Tradable(bar, asset int) bool {
	b := m.BarAt(bar, asset)
	return !math.IsNaN(b.Open) && !math.IsNaN(b.High) && !math.IsNaN(b.Low) && !math.IsNaN(b.Close)
}

// PositionView is a copy of the open position, zero-valued when flat.
type PositionView struct {
	Size     float64
	AvgPrice float64
	EntryBar int
	Dir      Direction
}

// SimulationContext is the read-only view a strategy sees for one
// (bar, asset) step. HaltGroup is the only mutation it offers. FreeCash
// is the pool's cash at the start of the bar; fills executed earlier in
// the same bar's call sequence are not reflected.
type SimulationContext struct {
	Bar   int
	Asset int
	Group int

	Price    Bar
	Tradable bool

	Position PositionView
	FreeCash float64
	Strict   bool

	halt *bool
}

// HaltGroup requests an early stop for the whole group. The transition
// is one-way: the loop finishes the current bar and stops.
func (c *SimulationContext) HaltGroup() {
	if c.halt != nil {
		*c.halt = true
	}
}
