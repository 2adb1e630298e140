package engine

// Order intents, time-in-force and resting-limit resolution

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

type OrderKind int

const (
	KindNone OrderKind = iota
	KindMarket
	KindLimit
	KindStop
)

func (k OrderKind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindLimit:
		return "limit"
	case KindStop:
		return "stop"
	}
	return "none"
}

type TimeInForce int

const (
	TIFDay TimeInForce = iota // valid for the placement bar only
	TIFGTC
	TIFGTD // valid through ExpiryBar
	TIFFOK // fill whole immediately or cancel
)

func (t TimeInForce) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFGTD:
		return "GTD"
	case TIFFOK:
		return "FOK"
	}
	return "DAY"
}

// OrderIntent is the resolver's verdict for one asset at one bar. The
// zero value means no order. Size is in units unless Notional is set;
// an infinite size means as much as affordable.
type OrderIntent struct {
	Kind      OrderKind
	Side      Side
	Size      float64
	Notional  bool
	Limit     float64
	TIF       TimeInForce
	ExpiryBar int
	Stop      StopKind // set on stop exits
}

func MarketOrder(side Side, size float64) OrderIntent {
	return OrderIntent{Kind: KindMarket, Side: side, Size: size}
}

func LimitOrder(side Side, size, limit float64, tif TimeInForce, expiryBar int) OrderIntent {
	return OrderIntent{Kind: KindLimit, Side: side, Size: size, Limit: limit, TIF: tif, ExpiryBar: expiryBar}
}

// restingLimit is an unfilled limit order carried across bars.
type restingLimit struct {
	Asset     int
	Side      Side
	Size      float64
	Notional  bool
	Price     float64
	TIF       TimeInForce
	PlacedBar int
	ExpiryBar int
	done      bool // filled or cancelled, swept at end of bar
}

// expired reports whether the order is no longer valid at bar. DAY and
// FOK orders never survive their placement bar.
func (r restingLimit) expired(bar int) bool {
	switch r.TIF {
	case TIFDay, TIFFOK:
		return bar > r.PlacedBar
	case TIFGTD:
		return bar > r.ExpiryBar
	}
	return false
}

// restingBook holds a group's unfilled limit orders in placement order.
type restingBook struct {
	orders []restingLimit
}

func (b *restingBook) add(r restingLimit) { b.orders = append(b.orders, r) }

// sweep drops filled and cancelled entries, keeping placement order.
func (b *restingBook) sweep() {
	remaining := b.orders[:0]
	for _, r := range b.orders {
		if !r.done {
			remaining = append(remaining, r)
		}
	}
	b.orders = remaining
}

// LimitCrossed reports whether the bar's range reaches the limit price.
func LimitCrossed(side Side, limit float64, bar Bar) bool {
	if side == Buy {
		return bar.Low <= limit
	}
	return bar.High >= limit
}

// LimitFillPrice computes the deterministic fill price for a touched
// limit. Opens that gap through the level fill at the open, never worse
// than the limit itself.
func LimitFillPrice(side Side, limit float64, bar Bar) float64 {
	if side == Buy {
		if bar.Low <= limit {
			if bar.Open <= limit { // gap/open through
				return bar.Open
			}
			return limit
		}
	} else {
		if bar.High >= limit {
			if bar.Open >= limit {
				return bar.Open
			}
			return limit
		}
	}
	return 0
}

// StopFillPrice computes the fill price for a triggered stop exit: the
// level itself, or the open when the bar gapped past it. The gap side
// follows the stop: protective stops sit against the position (a long
// SL gaps below its level), a take-profit sits in its favor (a long TP
// gaps above).
func StopFillPrice(exitSide Side, kind StopKind, level float64, bar Bar) float64 {
	gapBelow := exitSide == Sell
	if kind == StopTake {
		gapBelow = !gapBelow
	}
	if gapBelow {
		if bar.Open <= level {
			return bar.Open
		}
	} else if bar.Open >= level {
		return bar.Open
	}
	return clamp(level, bar.Low, bar.High)
}
