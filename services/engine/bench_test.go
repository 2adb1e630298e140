package engine

import (
	"math"
	"testing"
)

func benchInputs() (SimConfig, RunInputs) {
	const bars, assets = 2048, 8
	data := flatData(bars, assets, 0)
	entries := boolGrid(bars, assets)
	exits := boolGrid(bars, assets)
	tsl := NewBuffer(bars, assets)
	for bar := 0; bar < bars; bar++ {
		for a := 0; a < assets; a++ {
			base := 100 + 10*math.Sin(float64(bar)/17+float64(a)) + 0.01*float64(bar)
			data.Open[bar][a] = base
			data.High[bar][a] = base + 1.5
			data.Low[bar][a] = base - 1.5
			data.Close[bar][a] = base + 0.5
			if bar%32 == 4*a%32 {
				entries[bar][a] = true
				tsl[bar][a] = 0.08
			}
			if bar%32 == (4*a+16)%32 {
				exits[bar][a] = true
			}
		}
	}
	cfg := DefaultConfig(1_000_000, assets)
	cfg.CallSeq = CallSeqAuto
	cfg.Fees = PercentFee{Taker: 0.001}
	in := RunInputs{
		Data:     data,
		Strategy: &SignalStrategy{LongEntry: entries, LongExit: exits},
		TSL:      tsl,
	}
	return cfg, in
}

func BenchmarkRun(b *testing.B) {
	cfg, in := benchInputs()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim, err := New(cfg, in)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := sim.Run(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunParallel(b *testing.B) {
	cfg, in := benchInputs()
	cfg.CashSharing = false
	cfg.InitCash = []float64{250_000, 250_000, 250_000, 250_000}
	cfg.Groups = [][]int{{0, 1}, {2, 3}, {4, 5}, {6, 7}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim, err := New(cfg, in)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := sim.RunParallel(4); err != nil {
			b.Fatal(err)
		}
	}
}
