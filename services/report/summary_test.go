package report

import (
	"strings"
	"testing"

	"simkernel/services/engine"
)

func sampleResult() *engine.RunResult {
	return &engine.RunResult{
		Records: []engine.OrderRecord{
			{Seq: 0, Group: 0, Asset: 0, Bar: 1, Side: engine.Buy, Size: 2, Price: 100, Fees: 0.2, Kind: engine.KindMarket},
			{Seq: 1, Group: 0, Asset: 0, Bar: 3, Side: engine.Sell, Size: 2, Price: 110, Fees: 0.22, Kind: engine.KindStop, Stop: engine.StopTake},
			{Seq: 0, Group: 1, Asset: 2, Bar: 2, Side: engine.Buy, Size: 1, Price: 50, Fees: 0.05, Kind: engine.KindLimit},
		},
		Snapshots: []engine.GroupSnapshot{
			{Group: 0, Cash: 1019.58, Debt: 0, Realized: 20, EndBar: 5},
			{Group: 1, Cash: 949.95, Debt: 0, Realized: 0, EndBar: 5},
		},
	}
}

func TestSummarizeTotals(t *testing.T) {
	s := Summarize(sampleResult(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	if s.Orders != 3 {
		t.Fatalf("orders = %d, want 3", s.Orders)
	}
	// 2*100 + 2*110 + 1*50
	if got := s.Notional.String(); got != "470" {
		t.Fatalf("notional = %s, want 470", got)
	}
	if got := s.Fees.String(); got != "0.47" {
		t.Fatalf("fees = %s, want 0.47", got)
	}
}

func TestSummarizePerAsset(t *testing.T) {
	s := Summarize(sampleResult(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	if len(s.Assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(s.Assets))
	}
	a := s.Assets[0]
	if a.Asset != 0 || a.Symbol != "BTCUSDT" {
		t.Fatalf("first asset = %+v", a)
	}
	if a.Buys != 1 || a.Sells != 1 {
		t.Fatalf("buys/sells = %d/%d", a.Buys, a.Sells)
	}
	if a.BuyUnits.String() != "2" || a.SellUnits.String() != "2" {
		t.Fatalf("units = %s/%s", a.BuyUnits, a.SellUnits)
	}
	if a.Notional.String() != "420" {
		t.Fatalf("asset notional = %s, want 420", a.Notional)
	}
	// sparse asset index keeps its own column
	b := s.Assets[1]
	if b.Asset != 2 || b.Symbol != "SOLUSDT" {
		t.Fatalf("second asset = %+v", b)
	}
}

func TestSummarizeGroupCashFlow(t *testing.T) {
	s := Summarize(sampleResult(), nil)
	if len(s.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(s.Groups))
	}
	g := s.Groups[0]
	// -(200+0.2) + (220-0.22)
	if got := g.CashFlow.String(); got != "19.58" {
		t.Fatalf("group 0 cash flow = %s, want 19.58", got)
	}
	if g.EndCash.String() != "1019.58" || g.EndBar != 5 {
		t.Fatalf("group 0 snapshot = %+v", g)
	}
	if got := s.Groups[1].CashFlow.String(); got != "-50.05" {
		t.Fatalf("group 1 cash flow = %s, want -50.05", got)
	}
}

func TestSymbolFallsBackToIndex(t *testing.T) {
	s := Summarize(sampleResult(), []string{"BTCUSDT"})
	if s.Assets[1].Symbol != "2" {
		t.Fatalf("fallback symbol = %q, want \"2\"", s.Assets[1].Symbol)
	}
}

func TestWriteCSV(t *testing.T) {
	s := Summarize(sampleResult(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})

	var assetBuf strings.Builder
	if err := s.WriteAssetCSV(&assetBuf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(assetBuf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("asset csv lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[1], "0,BTCUSDT,2,1,1,") {
		t.Fatalf("asset row = %q", lines[1])
	}

	var groupBuf strings.Builder
	if err := s.WriteGroupCSV(&groupBuf); err != nil {
		t.Fatal(err)
	}
	lines = strings.Split(strings.TrimSpace(groupBuf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("group csv lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.Contains(lines[1], "19.58") {
		t.Fatalf("group row = %q", lines[1])
	}
}
