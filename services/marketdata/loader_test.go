package marketdata

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadCSVSkipsHeaderAndQuotes(t *testing.T) {
	in := "timestamp,open,high,low,close,volume\n" +
		"1000,\"10.5\",11,10,10.8,3.2\n" +
		"2000,10.8,11.2,10.6,11.0,1.5\n"
	s, err := ReadCSV(strings.NewReader(in), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("rows = %d, want 2", s.Len())
	}
	if s.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q", s.Symbol)
	}
	if s.Ts[0] != 1000 || s.Open[0] != 10.5 || s.Volume[0] != 3.2 {
		t.Fatalf("first row = %d %v %v", s.Ts[0], s.Open[0], s.Volume[0])
	}
	if s.Close[1] != 11.0 {
		t.Fatalf("close[1] = %v", s.Close[1])
	}
}

func utf16le(s string) []byte {
	buf := []byte{0xFF, 0xFE}
	for _, r := range s {
		buf = append(buf, byte(r), byte(r>>8))
	}
	return buf
}

func TestLoadCSVDecodesUTF16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	body := "timestamp,open,high,low,close,volume\n1000,5,6,4,5.5,9\n"
	if err := os.WriteFile(path, utf16le(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadCSV(path, "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("rows = %d, want 1", s.Len())
	}
	if s.Close[0] != 5.5 {
		t.Fatalf("close = %v", s.Close[0])
	}
}

func TestReadCSVSortsAndDeduplicates(t *testing.T) {
	in := "3000,3,3,3,3,0\n" +
		"1000,1,1,1,1,0\n" +
		"2000,2,2,2,2,0\n" +
		"1000,9,9,9,9,0\n"
	s, err := ReadCSV(strings.NewReader(in), "X")
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatalf("rows = %d, want 3", s.Len())
	}
	for i := 1; i < s.Len(); i++ {
		if s.Ts[i] <= s.Ts[i-1] {
			t.Fatalf("timestamps not ascending: %v", s.Ts)
		}
	}
	// later duplicate wins
	if s.Open[0] != 9 {
		t.Fatalf("open[0] = %v, want 9", s.Open[0])
	}
}

func TestReadCSVRejectsEmptyInput(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close\n"), "X"); err == nil {
		t.Fatal("expected error for header-only input")
	}
}

func TestAlignFillsMissingBarsWithNaN(t *testing.T) {
	a := &Series{Symbol: "AAA", Ts: []int64{1000, 2000, 3000},
		Open: []float64{1, 2, 3}, High: []float64{1, 2, 3},
		Low: []float64{1, 2, 3}, Close: []float64{1, 2, 3},
		Volume: []float64{0, 0, 0}}
	b := &Series{Symbol: "BBB", Ts: []int64{2000, 4000},
		Open: []float64{20, 40}, High: []float64{20, 40},
		Low: []float64{20, 40}, Close: []float64{20, 40},
		Volume: []float64{0, 0}}

	data, cols, err := Align(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if data.Bars() != 4 || data.Assets() != 2 {
		t.Fatalf("shape = %dx%d, want 4x2", data.Bars(), data.Assets())
	}
	if cols[0] != "AAA" || cols[1] != "BBB" {
		t.Fatalf("columns = %v", cols)
	}
	want := []int64{1000, 2000, 3000, 4000}
	for i, ts := range want {
		if data.Times[i] != ts {
			t.Fatalf("times = %v, want %v", data.Times, want)
		}
	}
	if data.Close[1][0] != 2 || data.Close[1][1] != 20 {
		t.Fatalf("bar 1 = %v %v", data.Close[1][0], data.Close[1][1])
	}
	if !math.IsNaN(data.Close[0][1]) || !math.IsNaN(data.Close[3][0]) {
		t.Fatal("missing cells should be NaN")
	}
	if data.Tradable(0, 1) {
		t.Fatal("bar 0 asset 1 should be untradable")
	}
	if !data.Tradable(1, 1) {
		t.Fatal("bar 1 asset 1 should be tradable")
	}
}

func TestAlignRejectsEmptySeries(t *testing.T) {
	if _, _, err := Align(); err == nil {
		t.Fatal("expected error for no series")
	}
	if _, _, err := Align(&Series{Symbol: "X"}); err == nil {
		t.Fatal("expected error for empty series")
	}
}
