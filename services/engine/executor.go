package engine

// Order Executor: one intent in, one fill or a reject reason out

import (
	"errors"
	"math"
)

// FillResult is one executed fill before it reaches the ledger.
type FillResult struct {
	Group int
	Asset int
	Bar   int
	Side  Side
	Size  float64
	Price float64
	Fees  float64
	Kind  OrderKind
	Stop  StopKind
}

type FeeModel interface {
	// Compute returns the fee for one fill. maker marks resting limit
	// executions.
	Compute(side Side, price, qty float64, maker bool) float64
}

// PercentFee charges a fraction of notional plus a fixed amount per
// order, with separate maker and taker rates.
type PercentFee struct {
	Maker float64
	Taker float64
	Fixed float64
}

func (m PercentFee) Compute(_ Side, price, qty float64, maker bool) float64 {
	rate := m.Taker
	if maker {
		rate = m.Maker
	}
	return price*qty*rate + m.Fixed
}

type SlippageModel interface {
	Apply(side Side, price float64) float64
}

// PercentSlippage worsens the price by a fraction, direction aware.
type PercentSlippage struct{ Rate float64 }

func (s PercentSlippage) Apply(side Side, price float64) float64 {
	if side == Buy {
		return price * (1 + s.Rate)
	}
	return price * (1 - s.Rate)
}

type noFee struct{}

func (noFee) Compute(Side, float64, float64, bool) float64 { return 0 }

type noSlippage struct{}

func (noSlippage) Apply(_ Side, price float64) float64 { return price }

// errNoRefPrice marks an order that cannot price this bar, e.g. a
// next-open fill on the final bar. Degrades to no order.
var errNoRefPrice = errors.New("no reference price")

// errFOKCancel marks a fill-or-kill limit that could not fill whole.
var errFOKCancel = errors.New("fill-or-kill cancelled")

type Executor struct {
	cfg  SimConfig
	data *MarketData
	fees FeeModel
	slip SlippageModel
}

func NewExecutor(cfg SimConfig, data *MarketData) *Executor {
	fees := cfg.Fees
	if fees == nil {
		fees = noFee{}
	}
	slip := cfg.Slippage
	if slip == nil {
		slip = noSlippage{}
	}
	return &Executor{cfg: cfg, data: data, fees: fees, slip: slip}
}

// refPrice picks the configured reference price for market-style fills.
func (ex *Executor) refPrice(bar, asset int) (float64, error) {
	var raw float64
	switch ex.cfg.Ref {
	case RefOpen:
		raw = ex.data.Open[bar][asset]
	case RefNextOpen:
		if bar+1 >= ex.data.Bars() {
			return 0, errNoRefPrice
		}
		raw = ex.data.Open[bar+1][asset]
	default:
		raw = ex.data.Close[bar][asset]
	}
	if math.IsNaN(raw) || raw <= 0 {
		return 0, errNoRefPrice
	}
	return raw, nil
}

// ExecuteMarket fills a market intent at the reference price adjusted
// by slippage, sizing against the pool's budget.
func (ex *Executor) ExecuteMarket(it OrderIntent, led *Ledger, group, asset, bar int) (FillResult, error) {
	raw, err := ex.refPrice(bar, asset)
	if err != nil {
		return FillResult{}, err
	}
	price := ex.slip.Apply(it.Side, raw)
	units, _, err := ex.resolveUnits(it, price, led, group, asset, bar, false)
	if err != nil {
		return FillResult{}, err
	}
	fees := ex.fees.Compute(it.Side, price, units, false)
	return FillResult{
		Group: group, Asset: asset, Bar: bar,
		Side: it.Side, Size: units, Price: price, Fees: fees,
		Kind: it.Kind, Stop: it.Stop,
	}, nil
}

// ExecuteStopExit closes the whole position at the stop's fill price:
// the level itself (or the open past a gap), or the bar close, per
// configuration. Time stops are path independent and use the close.
func (ex *Executor) ExecuteStopExit(hit StopHit, pos *PositionState, group, bar int) (FillResult, error) {
	exitSide := Sell
	if pos.Dir == DirShort {
		exitSide = Buy
	}
	b := ex.data.BarAt(bar, pos.Asset)
	var raw float64
	if hit.Kind == StopTime || ex.cfg.StopExit == StopPriceClose || math.IsNaN(hit.Level) {
		raw = b.Close
	} else {
		raw = StopFillPrice(exitSide, hit.Kind, hit.Level, b)
	}
	price := ex.slip.Apply(exitSide, raw)
	size := abs(pos.Size)
	if size == 0 {
		return FillResult{}, sizeError(group, pos.Asset, bar, "stop exit on empty position")
	}
	fees := ex.fees.Compute(exitSide, price, size, false)
	return FillResult{
		Group: group, Asset: pos.Asset, Bar: bar,
		Side: exitSide, Size: size, Price: price, Fees: fees,
		Kind: KindStop, Stop: hit.Kind,
	}, nil
}

// FillLimit fills a crossed limit order at its deterministic price. No
// slippage applies; the limit bounds the fill. maker marks orders that
// rested at least one bar. FOK orders cancel unless they fill whole.
func (ex *Executor) FillLimit(it OrderIntent, led *Ledger, group, asset, bar int, maker, fok bool) (FillResult, error) {
	b := ex.data.BarAt(bar, asset)
	price := LimitFillPrice(it.Side, it.Limit, b)
	if price <= 0 {
		return FillResult{}, errNoRefPrice
	}
	units, clipped, err := ex.resolveUnits(it, price, led, group, asset, bar, maker)
	if err != nil {
		if fok {
			return FillResult{}, errFOKCancel
		}
		return FillResult{}, err
	}
	if fok && clipped {
		return FillResult{}, errFOKCancel
	}
	fees := ex.fees.Compute(it.Side, price, units, maker)
	return FillResult{
		Group: group, Asset: asset, Bar: bar,
		Side: it.Side, Size: units, Price: price, Fees: fees,
		Kind: KindLimit,
	}, nil
}

// resolveUnits turns the intent's size into executable units: notional
// conversion, infinity as the affordable maximum, granularity and cap
// clipping, then the budget check. Closing the opposite side of an
// existing position consumes no budget. Without leverage an order over
// budget rejects; with leverage it clips to the cap.
func (ex *Executor) resolveUnits(it OrderIntent, price float64, led *Ledger, group, asset, bar int, maker bool) (units float64, clipped bool, err error) {
	units = it.Size
	if it.Notional && !math.IsInf(units, 1) {
		units = units / price
	}
	if math.IsNaN(units) || units < 0 {
		return 0, false, sizeError(group, asset, bar, "order size %v", it.Size)
	}

	pos := led.Position(asset)
	var closing float64
	if it.Side == Buy && pos.Dir == DirShort {
		closing = -pos.Size
	} else if it.Side == Sell && pos.Dir == DirLong {
		closing = pos.Size
	}

	budget := led.FreeCash() * ex.cfg.leverageCap()
	var maxOpen float64
	if it.Side == Buy {
		maxOpen = ex.maxBuyUnits(budget, price, maker)
	} else {
		maxOpen = max(budget, 0) / price // short collateral bound
	}
	afford := closing + maxOpen

	if math.IsInf(units, 1) {
		units = afford
	}

	// granularity applies to the opening portion only, so exits always
	// close whole
	if step := ex.cfg.SizeGranularity; step > 0 && units > closing {
		units = closing + floorStep(units-closing, step)
	}
	if ex.cfg.MaxSize != nil {
		if lim := ex.cfg.MaxSize[asset]; !math.IsNaN(lim) && units > lim {
			units = lim
			clipped = true
		}
	}
	if units <= 0 {
		return 0, clipped, sizeError(group, asset, bar, "order size rounds to zero")
	}

	if units > afford+sizeTol {
		if ex.cfg.LeverageMode == LeverageNone {
			return 0, false, cashError(group, asset, bar,
				"notional %.8f exceeds free cash %.8f", (units-closing)*price, led.FreeCash())
		}
		units = afford
		clipped = true
		if step := ex.cfg.SizeGranularity; step > 0 && units > closing {
			units = closing + floorStep(units-closing, step)
		}
		if units <= 0 {
			return 0, true, cashError(group, asset, bar, "no affordable size at price %.8f", price)
		}
	}
	return units, clipped, nil
}

// maxBuyUnits solves units so that notional plus fees fits the budget.
// One refinement step is exact for linear fee models; the final check
// guards anything else.
func (ex *Executor) maxBuyUnits(budget, price float64, maker bool) float64 {
	if budget <= 0 {
		return 0
	}
	u := budget / price
	fee := ex.fees.Compute(Buy, price, u, maker)
	u = (budget - fee) / price
	if u <= 0 {
		return 0
	}
	if price*u+ex.fees.Compute(Buy, price, u, maker) > budget {
		u *= 1 - 1e-9
	}
	return u
}

const sizeTol = 1e-9

// floorStep rounds qty down to a multiple of step.
func floorStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}
