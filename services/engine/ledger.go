package engine

// Ledger: cash, debt and per-asset positions for one pool. Fills apply
// atomically; a failed validation leaves state untouched.

import "math"

type Direction int

const (
	DirNone Direction = iota
	DirLong
	DirShort
)

func (d Direction) String() string {
	switch d {
	case DirLong:
		return "long"
	case DirShort:
		return "short"
	}
	return "none"
}

// GroupState is one cash pool. With cash sharing a whole group maps to
// a single pool; otherwise each asset in the group gets its own.
type GroupState struct {
	InitCash float64
	Cash     float64
	Debt     float64
	Realized float64
}

// PositionState tracks one asset's open position and its armed stops.
// Size is signed and its sign always agrees with Dir; size zero means
// the position is empty and carries no stop state.
type PositionState struct {
	Asset    int
	Size     float64
	AvgPrice float64
	EntryBar int
	Dir      Direction
	Realized float64
	Stops    StopState
}

func (p *PositionState) view() PositionView {
	return PositionView{Size: p.Size, AvgPrice: p.AvgPrice, EntryBar: p.EntryBar, Dir: p.Dir}
}

func (p *PositionState) reset() {
	*p = PositionState{Asset: p.Asset, EntryBar: -1, Stops: emptyStops()}
}

type Ledger struct {
	cfg       SimConfig
	Group     GroupState
	positions map[int]*PositionState
}

func NewLedger(cfg SimConfig, initCash float64) *Ledger {
	return &Ledger{
		cfg:       cfg,
		Group:     GroupState{InitCash: initCash, Cash: initCash},
		positions: make(map[int]*PositionState),
	}
}

// Position returns the asset's position, creating an empty one on first
// use. Callers iterate assets in column order, never over the map.
func (l *Ledger) Position(asset int) *PositionState {
	p, ok := l.positions[asset]
	if !ok {
		p = &PositionState{Asset: asset, EntryBar: -1, Stops: emptyStops()}
		l.positions[asset] = p
	}
	return p
}

func (l *Ledger) FreeCash() float64 { return l.Group.Cash }

// Equity values the pool at the given bar: cash plus marked positions
// minus outstanding debt. Assets without a tradable close are marked at
// their average entry price.
func (l *Ledger) Equity(data *MarketData, bar int, cols []int) float64 {
	eq := l.Group.Cash - l.Group.Debt
	for _, col := range cols {
		p, ok := l.positions[col]
		if !ok || p.Size == 0 {
			continue
		}
		mark := data.Close[bar][col]
		if math.IsNaN(mark) {
			mark = p.AvgPrice
		}
		eq += p.Size * mark
	}
	return eq
}

// Apply validates a fill and applies it: cash and debt first, then the
// position. Returns the recorded cash delta, signed notional net of
// fees, which sums to the pool's change in cash minus debt over a run.
func (l *Ledger) Apply(f FillResult) (float64, error) {
	if f.Size <= 0 || math.IsNaN(f.Size) || math.IsInf(f.Size, 0) {
		return 0, sizeError(f.Group, f.Asset, f.Bar, "fill size %v", f.Size)
	}
	if f.Price <= 0 || math.IsNaN(f.Price) {
		return 0, sizeError(f.Group, f.Asset, f.Bar, "fill price %v", f.Price)
	}

	notional := f.Price * f.Size
	if f.Side == Buy {
		cost := notional + f.Fees
		var borrow float64
		switch l.cfg.LeverageMode {
		case LeverageEager:
			if lev := l.cfg.Leverage; lev > 1 {
				borrow = cost * (1 - 1/lev)
			}
		case LeverageLazy:
			if cost > l.Group.Cash {
				borrow = cost - l.Group.Cash
			}
		}
		// buying back a short is not a funded purchase: the closing
		// portion may overdraw the pool and the shortfall is carried as
		// debt, so an underwater short can always close
		if short := cost - borrow - l.Group.Cash; short > cashTol {
			if p := l.Position(f.Asset); p.Dir == DirShort {
				closingCost := min(f.Size, -p.Size) * f.Price
				borrow += min(short, closingCost)
			}
		}
		if cost-borrow > l.Group.Cash+cashTol {
			return 0, cashError(f.Group, f.Asset, f.Bar, "cost %.8f exceeds cash %.8f", cost, l.Group.Cash)
		}
		l.Group.Cash -= cost - borrow
		l.Group.Debt += borrow
		l.applyPosition(f)
		return -(notional + f.Fees), nil
	}

	proceeds := notional - f.Fees
	repay := min(l.Group.Debt, max(proceeds, 0))
	l.Group.Debt -= repay
	l.Group.Cash += proceeds - repay
	l.applyPosition(f)
	return notional - f.Fees, nil
}

// applyPosition folds the fill into the position: weighted average on
// same-direction adds, realized P&L on reduces, flip in one operation.
func (l *Ledger) applyPosition(f FillResult) {
	p := l.Position(f.Asset)
	signed := f.Size
	if f.Side == Sell {
		signed = -signed
	}

	switch {
	case p.Size == 0:
		p.Size = signed
		p.AvgPrice = f.Price
		p.EntryBar = f.Bar
		p.Dir = dirOf(signed)
	case sameSign(p.Size, signed):
		p.AvgPrice = weightedAvg(p.AvgPrice, abs(p.Size), f.Price, f.Size)
		p.Size += signed
	default:
		closing := min(abs(p.Size), f.Size)
		var realized float64
		if p.Size > 0 {
			realized = (f.Price - p.AvgPrice) * closing
		} else {
			realized = (p.AvgPrice - f.Price) * closing
		}
		p.Realized += realized
		l.Group.Realized += realized
		p.Size += signed
		if p.Size == 0 {
			p.reset()
			return
		}
		if sameSign(p.Size, signed) { // flipped through zero
			p.Dir = dirOf(p.Size)
			p.AvgPrice = f.Price
			p.EntryBar = f.Bar
			p.Realized = 0
			p.Stops = emptyStops()
		}
	}
}

const cashTol = 1e-9

func dirOf(signed float64) Direction {
	if signed > 0 {
		return DirLong
	}
	if signed < 0 {
		return DirShort
	}
	return DirNone
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func weightedAvg(p1, q1, p2, q2 float64) float64 {
	if q1+q2 == 0 {
		return 0
	}
	return (p1*q1 + p2*q2) / (q1 + q2)
}
