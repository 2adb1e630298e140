package engine

// Stop Monitor: arms, ratchets and evaluates position stops

import "math"

type StopKind int

const (
	StopNone StopKind = iota
	StopLoss
	StopTrail
	StopTake
	StopTime
)

func (k StopKind) String() string {
	switch k {
	case StopLoss:
		return "sl"
	case StopTrail:
		return "tsl"
	case StopTake:
		return "tp"
	case StopTime:
		return "time"
	}
	return "none"
}

// StopParams are one asset's raw stop inputs at the entry bar. NaN
// means the stop is absent. Values are latched when a position opens
// and re-read only on the next entry or flip.
type StopParams struct {
	SL   float64
	TSL  float64
	TP   float64
	Time float64 // whole bars to hold
}

// StopState is the armed configuration attached to one open position.
// Levels are absolute prices; NaN marks an unset stop.
type StopState struct {
	SL       float64
	TP       float64
	TSL      float64 // current trailing level, only ever tightens
	TSLDist  float64 // trailing distance for absolute and price units
	TSLPct   float64 // trailing fraction of the favorable extreme
	Deadline int     // bar index at which the time stop fires, -1 unset
}

func emptyStops() StopState {
	nan := math.NaN()
	return StopState{SL: nan, TP: nan, TSL: nan, TSLDist: nan, TSLPct: nan, Deadline: -1}
}

func (s StopState) armed() bool {
	return !math.IsNaN(s.SL) || !math.IsNaN(s.TSL) || !math.IsNaN(s.TP) || s.Deadline >= 0
}

// lossLevel picks the tighter of SL and TSL: the one the adverse price
// reaches first. Returns NaN and StopNone when neither is set.
func (s StopState) lossLevel(dir Direction) (float64, StopKind) {
	hasSL, hasTSL := !math.IsNaN(s.SL), !math.IsNaN(s.TSL)
	switch {
	case hasSL && hasTSL:
		if dir == DirLong {
			if s.TSL >= s.SL {
				return s.TSL, StopTrail
			}
			return s.SL, StopLoss
		}
		if s.TSL <= s.SL {
			return s.TSL, StopTrail
		}
		return s.SL, StopLoss
	case hasTSL:
		return s.TSL, StopTrail
	case hasSL:
		return s.SL, StopLoss
	}
	return math.NaN(), StopNone
}

// ArmStops converts raw stop inputs into absolute levels for a position
// entered at entryPrice. Percent and absolute units derive levels from
// the entry price; price units are taken as-is and must sit on the
// protective side of the entry.
func ArmStops(p StopParams, dir Direction, entryPrice float64, entryBar int, unit StopUnit) (StopState, error) {
	st := emptyStops()
	long := dir == DirLong

	if !math.IsNaN(p.SL) {
		level, err := protectiveLevel(p.SL, entryPrice, long, unit, "SL")
		if err != nil {
			return st, err
		}
		st.SL = level
	}
	if !math.IsNaN(p.TSL) {
		level, err := protectiveLevel(p.TSL, entryPrice, long, unit, "TSL")
		if err != nil {
			return st, err
		}
		st.TSL = level
		switch unit {
		case StopUnitPercent:
			st.TSLPct = p.TSL
		default:
			if long {
				st.TSLDist = entryPrice - level
			} else {
				st.TSLDist = level - entryPrice
			}
		}
	}
	if !math.IsNaN(p.TP) {
		level, err := targetLevel(p.TP, entryPrice, long, unit)
		if err != nil {
			return st, err
		}
		st.TP = level
	}
	if !math.IsNaN(p.Time) {
		if p.Time < 1 {
			return st, configError("time stop must be at least one bar, got %v", p.Time)
		}
		st.Deadline = entryBar + int(p.Time)
	}
	return st, nil
}

// protectiveLevel resolves an SL/TSL input into the price level below a
// long entry or above a short entry.
func protectiveLevel(v, entry float64, long bool, unit StopUnit, name string) (float64, error) {
	switch unit {
	case StopUnitPercent:
		if v <= 0 || (long && v >= 1) {
			return 0, configError("%s fraction %v out of range for entry %v", name, v, entry)
		}
		if long {
			return entry * (1 - v), nil
		}
		return entry * (1 + v), nil
	case StopUnitAbsolute:
		if v <= 0 || (long && v >= entry) {
			return 0, configError("%s distance %v out of range for entry %v", name, v, entry)
		}
		if long {
			return entry - v, nil
		}
		return entry + v, nil
	default: // StopUnitPrice
		if long && v >= entry {
			return 0, configError("%s level %v not below long entry %v", name, v, entry)
		}
		if !long && v <= entry {
			return 0, configError("%s level %v not above short entry %v", name, v, entry)
		}
		return v, nil
	}
}

// targetLevel resolves a TP input into the price level above a long
// entry or below a short entry.
func targetLevel(v, entry float64, long bool, unit StopUnit) (float64, error) {
	switch unit {
	case StopUnitPercent:
		if v <= 0 || (!long && v >= 1) {
			return 0, configError("TP fraction %v out of range for entry %v", v, entry)
		}
		if long {
			return entry * (1 + v), nil
		}
		return entry * (1 - v), nil
	case StopUnitAbsolute:
		if v <= 0 || (!long && v >= entry) {
			return 0, configError("TP distance %v out of range for entry %v", v, entry)
		}
		if long {
			return entry + v, nil
		}
		return entry - v, nil
	default:
		if long && v <= entry {
			return 0, configError("TP level %v not above long entry %v", v, entry)
		}
		if !long && v >= entry {
			return 0, configError("TP level %v not below short entry %v", v, entry)
		}
		return v, nil
	}
}

// Ratchet advances a trailing level using the bar's favorable extreme.
// Levels only tighten, never loosen. Returns the level to persist and
// whether it moved.
func Ratchet(st StopState, dir Direction, bar Bar) (float64, bool) {
	if math.IsNaN(st.TSL) {
		return st.TSL, false
	}
	if dir == DirLong {
		candidate := bar.High - st.TSLDist
		if !math.IsNaN(st.TSLPct) {
			candidate = bar.High * (1 - st.TSLPct)
		}
		if candidate > st.TSL {
			return candidate, true
		}
		return st.TSL, false
	}
	candidate := bar.Low + st.TSLDist
	if !math.IsNaN(st.TSLPct) {
		candidate = bar.Low * (1 + st.TSLPct)
	}
	if candidate < st.TSL {
		return candidate, true
	}
	return st.TSL, false
}

// StopHit describes a triggered stop. Level is NaN for time stops.
type StopHit struct {
	Kind  StopKind
	Level float64
}

// EvaluateStops checks the armed stops against one bar. The trailing
// level must already be ratcheted for this bar. Time stops are path
// independent and win outright; among price stops, a loss and a gain
// both feasible in the range go to the loss side unless the first-touch
// heuristic is enabled.
func EvaluateStops(st StopState, dir Direction, bar Bar, barIdx int, firstTouch bool) (StopHit, bool) {
	if st.Deadline >= 0 && barIdx >= st.Deadline {
		return StopHit{Kind: StopTime, Level: math.NaN()}, true
	}

	loss, lossKind := st.lossLevel(dir)
	hasTP := !math.IsNaN(st.TP)

	var lossHit, tpHit bool
	if dir == DirLong {
		lossHit = lossKind != StopNone && bar.Low <= loss
		tpHit = hasTP && bar.High >= st.TP
	} else {
		lossHit = lossKind != StopNone && bar.High >= loss
		tpHit = hasTP && bar.Low <= st.TP
	}

	switch {
	case lossHit && tpHit:
		if firstTouch {
			var touch FirstTouchResult
			if dir == DirLong {
				touch = ResolveFirstTouchLong(bar, st.TP, loss)
			} else {
				touch = ResolveFirstTouchShort(bar, st.TP, loss)
			}
			if touch == TouchTP {
				return StopHit{Kind: StopTake, Level: st.TP}, true
			}
		}
		return StopHit{Kind: lossKind, Level: loss}, true
	case lossHit:
		return StopHit{Kind: lossKind, Level: loss}, true
	case tpHit:
		return StopHit{Kind: StopTake, Level: st.TP}, true
	}
	return StopHit{}, false
}
