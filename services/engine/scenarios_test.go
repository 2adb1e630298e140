package engine

// End-to-end checks of the basic position lifecycle: entry accounting,
// a price-level stop exit, and rejection without leverage.

import (
	"errors"
	"testing"
)

func TestEntryDebitsSharedCash(t *testing.T) {
	data := flatData(2, 1, 10)
	size := NewBuffer(2, 1)
	size[0][0] = 5

	sim, err := New(DefaultConfig(100, 1), RunInputs{
		Data:     data,
		Strategy: &OrderStrategy{Size: size},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Side != Buy || rec.Size != 5 || rec.Price != 10 || rec.Fees != 0 {
		t.Fatalf("entry = %+v", rec)
	}
	snap := res.Snapshots[0]
	if !approx(snap.Cash, 50, 1e-12) {
		t.Fatalf("cash = %g, want 50", snap.Cash)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("positions = %+v", snap.Positions)
	}
	p := snap.Positions[0]
	if p.Size != 5 || p.AvgPrice != 10 || p.Dir != DirLong || p.EntryBar != 0 {
		t.Fatalf("position = %+v", p)
	}
}

func TestPriceLevelStopExitClosesPosition(t *testing.T) {
	data := singleCol(
		[4]float64{10, 10.2, 9.9, 10},
		[4]float64{10, 10.1, 9.6, 9.9},
		[4]float64{9.8, 9.9, 8.5, 9.2},
	)
	size := NewBuffer(3, 1)
	size[0][0] = 5
	sl := NewBuffer(3, 1)
	sl[0][0] = 9 // armed as a price level, not a fraction

	cfg := DefaultConfig(100, 1)
	cfg.StopUnit = StopUnitPrice
	sim, err := New(cfg, RunInputs{
		Data:     data,
		Strategy: &OrderStrategy{Size: size},
		SL:       sl,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want entry and stop exit", len(res.Records))
	}
	exit := res.Records[1]
	if exit.Kind != KindStop || exit.Stop != StopLoss || exit.Bar != 2 {
		t.Fatalf("exit = %+v", exit)
	}
	// the bar straddles the level, so the fill takes the level itself
	if exit.Price != 9 || exit.Size != 5 {
		t.Fatalf("exit fill = %g units at %g, want 5 at 9", exit.Size, exit.Price)
	}
	snap := res.Snapshots[0]
	if len(snap.Positions) != 0 {
		t.Fatalf("position should be flat, got %+v", snap.Positions)
	}
	if !approx(snap.Cash, 95, 1e-9) {
		t.Fatalf("cash = %g, want 95", snap.Cash)
	}
}

func TestTakeProfitFillsAtLevel(t *testing.T) {
	data := singleCol(
		[4]float64{10, 10.1, 9.9, 10},
		[4]float64{10, 11, 9.9, 10.7},
	)
	size := NewBuffer(2, 1)
	size[0][0] = 5
	tp := NewBuffer(2, 1)
	tp[0][0] = 10.8

	cfg := DefaultConfig(100, 1)
	cfg.StopUnit = StopUnitPrice
	sim, err := New(cfg, RunInputs{
		Data:     data,
		Strategy: &OrderStrategy{Size: size},
		TP:       tp,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want entry and TP exit", len(res.Records))
	}
	exit := res.Records[1]
	if exit.Kind != KindStop || exit.Stop != StopTake || exit.Bar != 1 {
		t.Fatalf("exit = %+v", exit)
	}
	// the bar opens below the target and reaches it intrabar, so the
	// fill takes the target level, not the open
	if exit.Price != 10.8 || exit.Size != 5 {
		t.Fatalf("exit fill = %g units at %g, want 5 at 10.8", exit.Size, exit.Price)
	}
	snap := res.Snapshots[0]
	if len(snap.Positions) != 0 {
		t.Fatalf("position should be flat, got %+v", snap.Positions)
	}
	if !approx(snap.Cash, 104, 1e-9) {
		t.Fatalf("cash = %g, want 104", snap.Cash)
	}
}

func TestUnfundedOrderLeavesStateUntouched(t *testing.T) {
	data := flatData(2, 1, 10)
	size := NewBuffer(2, 1)
	size[0][0] = 20 // 200 notional against 100 cash

	cfg := DefaultConfig(100, 1)
	cfg.RaiseOnReject = true
	sim, err := New(cfg, RunInputs{Data: data, Strategy: &OrderStrategy{Size: size}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Run(); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("want insufficient cash, got %v", err)
	}

	// without raising, the run completes and state is untouched
	cfg.RaiseOnReject = false
	cfg.EnableLogs = true
	sim, err = New(cfg, RunInputs{Data: data, Strategy: &OrderStrategy{Size: size}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("records = %d, want none", len(res.Records))
	}
	snap := res.Snapshots[0]
	if snap.Cash != 100 || len(snap.Positions) != 0 {
		t.Fatalf("state mutated by a rejected order: %+v", snap)
	}
	rejected := false
	for _, l := range res.Logs {
		if l.Status == LogRejected && l.Bar == 0 {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("missing rejection log")
	}
}
