package engine

import (
	"math"
	"testing"
)

func TestResolveSignalFlat(t *testing.T) {
	flat := PositionView{}
	it := ResolveSignal(RawSignal{LongEntry: true, Size: 2}, flat)
	if it.Kind != KindMarket || it.Side != Buy || it.Size != 2 {
		t.Fatalf("long entry = %+v", it)
	}
	it = ResolveSignal(RawSignal{ShortEntry: true, Size: 2}, flat)
	if it.Side != Sell || it.Size != 2 {
		t.Fatalf("short entry = %+v", it)
	}
	// contradictory entries cancel out
	if it := ResolveSignal(RawSignal{LongEntry: true, ShortEntry: true, Size: 1}, flat); it.Kind != KindNone {
		t.Fatalf("contradiction should produce nothing, got %+v", it)
	}
	// exits on a flat position are no-ops
	if it := ResolveSignal(RawSignal{LongExit: true}, flat); it.Kind != KindNone {
		t.Fatalf("flat exit should produce nothing, got %+v", it)
	}
	// NaN size means as much as affordable
	it = ResolveSignal(RawSignal{LongEntry: true, Size: math.NaN()}, flat)
	if !math.IsInf(it.Size, 1) {
		t.Fatalf("size = %g, want +Inf", it.Size)
	}
}

func TestResolveSignalOpenLong(t *testing.T) {
	long := PositionView{Size: 3, Dir: DirLong}
	// duplicate entry is ignored
	if it := ResolveSignal(RawSignal{LongEntry: true, Size: 1}, long); it.Kind != KindNone {
		t.Fatalf("duplicate entry should produce nothing, got %+v", it)
	}
	it := ResolveSignal(RawSignal{LongExit: true}, long)
	if it.Side != Sell || it.Size != 3 {
		t.Fatalf("exit = %+v, want sell 3", it)
	}
	// exit wins over a simultaneous same-direction entry
	it = ResolveSignal(RawSignal{LongEntry: true, LongExit: true, Size: 1}, long)
	if it.Side != Sell || it.Size != 3 {
		t.Fatalf("exit should win, got %+v", it)
	}
	// opposite entry reverses: close 3 and open 2 in one order
	it = ResolveSignal(RawSignal{ShortEntry: true, Size: 2}, long)
	if it.Side != Sell || it.Size != 5 {
		t.Fatalf("reversal = %+v, want sell 5", it)
	}
}

func TestResolveSignalOpenShort(t *testing.T) {
	short := PositionView{Size: -2, Dir: DirShort}
	it := ResolveSignal(RawSignal{ShortExit: true}, short)
	if it.Side != Buy || it.Size != 2 {
		t.Fatalf("cover = %+v, want buy 2", it)
	}
	it = ResolveSignal(RawSignal{LongEntry: true, Size: 4}, short)
	if it.Side != Buy || it.Size != 6 {
		t.Fatalf("reversal = %+v, want buy 6", it)
	}
}

func TestSignalStrategyNilArraysAreQuiet(t *testing.T) {
	s := &SignalStrategy{}
	ctx := &SimulationContext{Bar: 0, Asset: 0}
	if it := s.OnBar(ctx); it.Kind != KindNone {
		t.Fatalf("all-nil strategy must stay quiet, got %+v", it)
	}
}

func TestOrderStrategyModes(t *testing.T) {
	units := &OrderStrategy{Size: [][]float64{{2.5}}}
	it := units.OnBar(&SimulationContext{})
	if it.Side != Buy || it.Size != 2.5 || it.Notional {
		t.Fatalf("units mode = %+v", it)
	}

	notional := &OrderStrategy{Size: [][]float64{{-500}}, Mode: SizeModeNotional}
	it = notional.OnBar(&SimulationContext{})
	if it.Side != Sell || it.Size != 500 || !it.Notional {
		t.Fatalf("notional mode = %+v", it)
	}

	target := &OrderStrategy{Size: [][]float64{{2}}, Mode: SizeModeTargetUnits}
	it = target.OnBar(&SimulationContext{Position: PositionView{Size: 5, Dir: DirLong}})
	if it.Side != Sell || it.Size != 3 {
		t.Fatalf("target 2 from 5 = %+v, want sell 3", it)
	}

	// target zero closes the position rather than meaning no order
	goFlat := &OrderStrategy{Size: [][]float64{{0}}, Mode: SizeModeTargetUnits}
	it = goFlat.OnBar(&SimulationContext{Position: PositionView{Size: -4, Dir: DirShort}})
	if it.Side != Buy || it.Size != 4 {
		t.Fatalf("target 0 from -4 = %+v, want buy 4", it)
	}

	// zero means no order
	quiet := &OrderStrategy{Size: [][]float64{{0}}}
	if it := quiet.OnBar(&SimulationContext{}); it.Kind != KindNone {
		t.Fatalf("zero size = %+v", it)
	}

	// NaN propagates for the engine to log or abort
	nan := &OrderStrategy{Size: [][]float64{{math.NaN()}}}
	if it := nan.OnBar(&SimulationContext{}); !math.IsNaN(it.Size) {
		t.Fatalf("NaN should pass through, got %+v", it)
	}
}
