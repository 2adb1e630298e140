package engine

import (
	"errors"
	"math"
	"testing"
)

func execFixture(cfg SimConfig, data *MarketData) (*Executor, *Ledger) {
	return NewExecutor(cfg, data), NewLedger(cfg, cfg.InitCash[0])
}

func TestExecuteMarketReferencePrices(t *testing.T) {
	data := singleCol(
		[4]float64{100, 102, 98, 101},
		[4]float64{103, 104, 100, 102},
	)
	cfg := DefaultConfig(1000, 1)
	ex, led := execFixture(cfg, data)
	fill, err := ex.ExecuteMarket(MarketOrder(Buy, 1), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 101 {
		t.Fatalf("close ref = %g, want 101", fill.Price)
	}

	cfg.Ref = RefOpen
	ex, led = execFixture(cfg, data)
	fill, err = ex.ExecuteMarket(MarketOrder(Buy, 1), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 100 {
		t.Fatalf("open ref = %g, want 100", fill.Price)
	}

	cfg.Ref = RefNextOpen
	ex, led = execFixture(cfg, data)
	fill, err = ex.ExecuteMarket(MarketOrder(Buy, 1), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 103 {
		t.Fatalf("next-open ref = %g, want 103", fill.Price)
	}
	if _, err = ex.ExecuteMarket(MarketOrder(Buy, 1), led, 0, 0, 1); !errors.Is(err, errNoRefPrice) {
		t.Fatalf("next open past the end = %v, want no reference price", err)
	}
}

func TestSlippageIsDirectionAware(t *testing.T) {
	data := singleCol([4]float64{100, 100, 100, 100})
	cfg := DefaultConfig(10000, 1)
	cfg.Slippage = PercentSlippage{Rate: 0.01}
	ex, led := execFixture(cfg, data)
	buy, err := ex.ExecuteMarket(MarketOrder(Buy, 1), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(buy.Price, 101, 1e-9) {
		t.Fatalf("buy slips up: %g, want 101", buy.Price)
	}
	sell, err := ex.ExecuteMarket(MarketOrder(Sell, 1), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(sell.Price, 99, 1e-9) {
		t.Fatalf("sell slips down: %g, want 99", sell.Price)
	}
}

func TestAllInSizingFitsFees(t *testing.T) {
	data := singleCol([4]float64{100, 100, 100, 100})
	cfg := DefaultConfig(1000, 1)
	cfg.Fees = PercentFee{Taker: 0.002}
	ex, led := execFixture(cfg, data)
	fill, err := ex.ExecuteMarket(MarketOrder(Buy, math.Inf(1)), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	cost := fill.Price*fill.Size + fill.Fees
	if cost > 1000+1e-9 {
		t.Fatalf("all-in cost %.12f exceeds the budget", cost)
	}
	if fill.Size < 9.9 {
		t.Fatalf("all-in size %g leaves too much on the table", fill.Size)
	}
	if _, err := led.Apply(fill); err != nil {
		t.Fatalf("the ledger must accept the executor's sizing: %v", err)
	}
}

func TestOverBudgetRejectsWithoutLeverage(t *testing.T) {
	data := singleCol([4]float64{100, 100, 100, 100})
	cfg := DefaultConfig(500, 1)
	ex, led := execFixture(cfg, data)
	_, err := ex.ExecuteMarket(MarketOrder(Buy, 6), led, 0, 0, 0)
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("want insufficient cash, got %v", err)
	}
	var se *SimError
	if !errors.As(err, &se) || se.Asset != 0 {
		t.Fatalf("reject should carry its location, got %v", err)
	}
}

func TestOverBudgetClipsWithLeverage(t *testing.T) {
	data := singleCol([4]float64{100, 100, 100, 100})
	cfg := DefaultConfig(500, 1)
	cfg.Leverage = 2
	cfg.LeverageMode = LeverageLazy
	ex, led := execFixture(cfg, data)
	fill, err := ex.ExecuteMarket(MarketOrder(Buy, 20), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// budget is cash times leverage: 1000, so 10 units at 100
	if !approx(fill.Size, 10, 1e-6) {
		t.Fatalf("clipped size = %g, want 10", fill.Size)
	}
	if _, err := led.Apply(fill); err != nil {
		t.Fatal(err)
	}
	if !approx(led.Group.Debt, 500, 1e-6) {
		t.Fatalf("debt = %g, want 500", led.Group.Debt)
	}
}

func TestGranularityFloorsOpeningOnly(t *testing.T) {
	data := singleCol([4]float64{100, 100, 100, 100})
	cfg := DefaultConfig(10000, 1)
	cfg.SizeGranularity = 1
	ex, led := execFixture(cfg, data)

	fill, err := ex.ExecuteMarket(MarketOrder(Buy, 3.7), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Size != 3 {
		t.Fatalf("opening buy floors to %g, want 3", fill.Size)
	}
	if _, err := led.Apply(fill); err != nil {
		t.Fatal(err)
	}

	// a fractional position closes whole even under granularity
	led.Position(0).Size = 3.5
	fill, err = ex.ExecuteMarket(MarketOrder(Sell, 3.5), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Size != 3.5 {
		t.Fatalf("exit = %g, want the whole 3.5", fill.Size)
	}

	// sub-step orders round to nothing
	led2 := NewLedger(cfg, 10000)
	if _, err := ex.ExecuteMarket(MarketOrder(Buy, 0.4), led2, 0, 0, 0); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("want invalid size, got %v", err)
	}
}

func TestNotionalSizing(t *testing.T) {
	data := singleCol([4]float64{200, 200, 200, 200})
	cfg := DefaultConfig(1000, 1)
	ex, led := execFixture(cfg, data)
	it := MarketOrder(Buy, 500)
	it.Notional = true
	fill, err := ex.ExecuteMarket(it, led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(fill.Size, 2.5, 1e-9) {
		t.Fatalf("500 notional at 200 = %g units, want 2.5", fill.Size)
	}
}

func TestMaxSizeCapsOrders(t *testing.T) {
	data := singleCol([4]float64{10, 10, 10, 10})
	cfg := DefaultConfig(1000, 1)
	cfg.MaxSize = []float64{4}
	ex, led := execFixture(cfg, data)
	fill, err := ex.ExecuteMarket(MarketOrder(Buy, 9), led, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Size != 4 {
		t.Fatalf("capped size = %g, want 4", fill.Size)
	}
}

func TestStopExitUsesConfiguredPrice(t *testing.T) {
	data := singleCol([4]float64{97, 98, 94, 96})
	cfg := DefaultConfig(1000, 1)
	ex, _ := execFixture(cfg, data)
	pos := &PositionState{Asset: 0, Size: 2, AvgPrice: 100, Dir: DirLong}

	fill, err := ex.ExecuteStopExit(StopHit{Kind: StopLoss, Level: 95}, pos, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 95 || fill.Size != 2 || fill.Side != Sell {
		t.Fatalf("level exit = %+v", fill)
	}

	cfg.StopExit = StopPriceClose
	ex = NewExecutor(cfg, data)
	fill, err = ex.ExecuteStopExit(StopHit{Kind: StopLoss, Level: 95}, pos, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 96 {
		t.Fatalf("close exit = %g, want 96", fill.Price)
	}
}

func TestFillLimitChargesMakerAfterResting(t *testing.T) {
	data := singleCol([4]float64{97, 98, 94, 96})
	cfg := DefaultConfig(1000, 1)
	cfg.Fees = PercentFee{Maker: 0.0002, Taker: 0.002}
	ex, led := execFixture(cfg, data)
	it := LimitOrder(Buy, 2, 95, TIFGTC, 0)

	maker, err := ex.FillLimit(it, led, 0, 0, 0, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(maker.Fees, 95*2*0.0002, 1e-12) {
		t.Fatalf("maker fees = %g", maker.Fees)
	}
	taker, err := ex.FillLimit(it, led, 0, 0, 0, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(taker.Fees, 95*2*0.002, 1e-12) {
		t.Fatalf("taker fees = %g", taker.Fees)
	}
}
