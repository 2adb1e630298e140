package engine

// Intrabar price-path assumptions for same-bar stop collisions

// Bar is a single OHLC bar for one asset.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// FirstTouchResult indicates which level the assumed path reaches first.
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

// ResolveFirstTouchLong decides whether a long position's take-profit or
// loss level trades first within the bar. When both sit inside the range,
// the extremum closer to the open is assumed to trade first.
func ResolveFirstTouchLong(bar Bar, tp, sl float64) FirstTouchResult {
	both := bar.Low <= sl && bar.High >= tp
	if both {
		distHigh := abs(bar.High - bar.Open)
		distLow := abs(bar.Open - bar.Low)
		if distLow < distHigh {
			return TouchSL
		}
		return TouchTP
	}
	if bar.Low <= sl {
		return TouchSL
	}
	if bar.High >= tp {
		return TouchTP
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic: tp below, sl above.
func ResolveFirstTouchShort(bar Bar, tp, sl float64) FirstTouchResult {
	both := bar.High >= sl && bar.Low <= tp
	if both {
		distHigh := abs(bar.High - bar.Open)
		distLow := abs(bar.Open - bar.Low)
		if distHigh < distLow {
			return TouchSL
		}
		return TouchTP
	}
	if bar.High >= sl {
		return TouchSL
	}
	if bar.Low <= tp {
		return TouchTP
	}
	return TouchNone
}

// clamp bounds v into [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
