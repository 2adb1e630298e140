package strategies

import (
	"fmt"
	"math"

	"simkernel/services/engine"
)

// BreakoutStrategy buys when the close clears the highest high of the
// trailing channel and flattens when it breaks the lowest low. With
// AllowShort the breakdown opens a short instead of just exiting.
// Prepare must run before the simulation starts.
type BreakoutStrategy struct {
	// Params
	Lookback   int
	AllowShort bool
	Size       float64 // units per entry, NaN = as much as affordable

	// Channel state, precomputed over the run's data
	upper [][]float64
	lower [][]float64
}

var _ engine.Strategy = (*BreakoutStrategy)(nil)

func NewBreakoutStrategy() *BreakoutStrategy {
	return &BreakoutStrategy{
		Lookback: 20,
		Size:     math.NaN(),
	}
}

// Prepare computes the channel extremes per column. The channel at bar
// i covers the Lookback bars strictly before i, so the breakout bar
// itself never feeds its own trigger level.
func (s *BreakoutStrategy) Prepare(data *engine.MarketData) error {
	if s.Lookback < 1 {
		return fmt.Errorf("lookback must be positive, got %d", s.Lookback)
	}
	bars, assets := data.Bars(), data.Assets()
	s.upper = engine.NewBuffer(bars, assets)
	s.lower = engine.NewBuffer(bars, assets)
	for a := 0; a < assets; a++ {
		for bar := s.Lookback; bar < bars; bar++ {
			hi, lo := math.NaN(), math.NaN()
			for j := bar - s.Lookback; j < bar; j++ {
				h, l := data.High[j][a], data.Low[j][a]
				if !math.IsNaN(h) && (math.IsNaN(hi) || h > hi) {
					hi = h
				}
				if !math.IsNaN(l) && (math.IsNaN(lo) || l < lo) {
					lo = l
				}
			}
			s.upper[bar][a] = hi
			s.lower[bar][a] = lo
		}
	}
	return nil
}

func (s *BreakoutStrategy) OnBar(ctx *engine.SimulationContext) engine.OrderIntent {
	if s.upper == nil || ctx.Bar >= len(s.upper) || !ctx.Tradable {
		return engine.OrderIntent{}
	}
	up := s.upper[ctx.Bar][ctx.Asset]
	down := s.lower[ctx.Bar][ctx.Asset]
	if math.IsNaN(up) || math.IsNaN(down) {
		return engine.OrderIntent{}
	}
	brokeUp := ctx.Price.Close > up
	brokeDown := ctx.Price.Close < down
	sig := engine.RawSignal{
		LongEntry: brokeUp,
		LongExit:  brokeDown,
		Size:      s.Size,
	}
	if s.AllowShort {
		sig.ShortEntry = brokeDown
		sig.ShortExit = brokeUp
	}
	return engine.ResolveSignal(sig, ctx.Position)
}
