package engine

// Signal Resolver: raw entry/exit flags and explicit sizes become order
// intents against the current position

import "math"

// Strategy produces one intent per (bar, asset) step. OnBar is invoked
// exactly once per step, in declared column order, for every bar the
// group processes; the returned intent may be superseded by a resting
// fill or a stop exit (see call sequencing). The engine never inspects
// a strategy's internals.
type Strategy interface {
	OnBar(ctx *SimulationContext) OrderIntent
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(ctx *SimulationContext) OrderIntent

func (f StrategyFunc) OnBar(ctx *SimulationContext) OrderIntent { return f(ctx) }

// RawSignal is one asset's boolean flags for one bar.
type RawSignal struct {
	LongEntry  bool
	LongExit   bool
	ShortEntry bool
	ShortExit  bool
	Size       float64 // units, NaN = as much as affordable
}

// ResolveSignal applies the position-aware rules: a flat position
// accepts entries only, an open position accepts exits and opposite
// entries (a reversal closing and reopening in one order), duplicate
// same-direction entries are ignored, and an exit beats a simultaneous
// same-direction entry. Contradictory entries on a flat position cancel
// out.
func ResolveSignal(sig RawSignal, pos PositionView) OrderIntent {
	size := sig.Size
	if math.IsNaN(size) {
		size = math.Inf(1)
	}
	switch pos.Dir {
	case DirLong:
		if sig.ShortEntry { // reversal: close the long and open short
			return MarketOrder(Sell, pos.Size+size)
		}
		if sig.LongExit {
			return MarketOrder(Sell, pos.Size)
		}
	case DirShort:
		if sig.LongEntry {
			return MarketOrder(Buy, -pos.Size+size)
		}
		if sig.ShortExit {
			return MarketOrder(Buy, -pos.Size)
		}
	default:
		if sig.LongEntry && sig.ShortEntry {
			return OrderIntent{}
		}
		if sig.LongEntry {
			return MarketOrder(Buy, size)
		}
		if sig.ShortEntry {
			return MarketOrder(Sell, size)
		}
	}
	return OrderIntent{}
}

// SignalStrategy drives the resolver from pre-broadcast boolean arrays.
// Nil arrays are treated as all-false; a nil Size array means all-in.
type SignalStrategy struct {
	LongEntry  [][]bool
	LongExit   [][]bool
	ShortEntry [][]bool
	ShortExit  [][]bool
	Size       [][]float64
}

func (s *SignalStrategy) OnBar(ctx *SimulationContext) OrderIntent {
	sig := RawSignal{Size: math.NaN()}
	if s.LongEntry != nil {
		sig.LongEntry = s.LongEntry[ctx.Bar][ctx.Asset]
	}
	if s.LongExit != nil {
		sig.LongExit = s.LongExit[ctx.Bar][ctx.Asset]
	}
	if s.ShortEntry != nil {
		sig.ShortEntry = s.ShortEntry[ctx.Bar][ctx.Asset]
	}
	if s.ShortExit != nil {
		sig.ShortExit = s.ShortExit[ctx.Bar][ctx.Asset]
	}
	if s.Size != nil {
		sig.Size = s.Size[ctx.Bar][ctx.Asset]
	}
	return ResolveSignal(sig, ctx.Position)
}

// OrderStrategy drives the engine from explicit size arrays, one value
// per (bar, asset). Zero means no order. NaN propagates: the engine
// degrades it to a logged no-order, or aborts the run in strict mode.
type OrderStrategy struct {
	Size [][]float64
	Mode SizeMode
}

func (s *OrderStrategy) OnBar(ctx *SimulationContext) OrderIntent {
	v := s.Size[ctx.Bar][ctx.Asset]
	if math.IsNaN(v) {
		return MarketOrder(Buy, v)
	}
	// in target mode zero is a real instruction: go flat
	if s.Mode == SizeModeTargetUnits {
		delta := v - ctx.Position.Size
		if delta == 0 {
			return OrderIntent{}
		}
		if delta > 0 {
			return MarketOrder(Buy, delta)
		}
		return MarketOrder(Sell, -delta)
	}
	if v == 0 {
		return OrderIntent{}
	}
	if s.Mode == SizeModeNotional {
		it := MarketOrder(sideOf(v), abs(v))
		it.Notional = true
		return it
	}
	return MarketOrder(sideOf(v), abs(v))
}

func sideOf(v float64) Side {
	if v > 0 {
		return Buy
	}
	return Sell
}
