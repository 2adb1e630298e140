package marketdata

import "testing"

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"5m", 5 * 60 * 1000},
		{"15min", 15 * 60 * 1000},
		{"1h", 60 * 60 * 1000},
		{"30", 30 * 60 * 1000},
		{" 5M ", 5 * 60 * 1000},
	}
	for _, c := range cases {
		got, err := ParseTimeframe(c.in)
		if err != nil {
			t.Fatalf("ParseTimeframe(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseTimeframe(%q) = %d, want %d", c.in, got, c.want)
		}
	}
	if _, err := ParseTimeframe("soon"); err == nil {
		t.Fatal("expected error for junk timeframe")
	}
}

func TestResampleAggregatesBuckets(t *testing.T) {
	minute := int64(60 * 1000)
	s := &Series{
		Symbol: "BTCUSDT",
		Ts:     []int64{0, minute, 2 * minute, 3 * minute, 5 * minute},
		Open:   []float64{10, 11, 12, 13, 20},
		High:   []float64{11, 15, 13, 14, 21},
		Low:    []float64{9, 10, 8, 12, 19},
		Close:  []float64{11, 12, 13, 14, 20},
		Volume: []float64{1, 2, 3, 4, 5},
	}
	out, err := Resample(s, 5*minute)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 2 {
		t.Fatalf("buckets = %d, want 2", out.Len())
	}
	if out.Ts[0] != 0 || out.Ts[1] != 5*minute {
		t.Fatalf("bucket ts = %v", out.Ts)
	}
	// first open, max high, min low, last close, summed volume
	if out.Open[0] != 10 || out.High[0] != 15 || out.Low[0] != 8 || out.Close[0] != 14 {
		t.Fatalf("bucket 0 = O%v H%v L%v C%v", out.Open[0], out.High[0], out.Low[0], out.Close[0])
	}
	if out.Volume[0] != 10 {
		t.Fatalf("bucket 0 volume = %v, want 10", out.Volume[0])
	}
	if out.Open[1] != 20 || out.Volume[1] != 5 {
		t.Fatalf("bucket 1 = %v %v", out.Open[1], out.Volume[1])
	}
}

func TestResampleAlignsToEpoch(t *testing.T) {
	minute := int64(60 * 1000)
	// rows start mid-bucket; the bucket stamp floors to the boundary
	s := &Series{
		Symbol: "X",
		Ts:     []int64{7 * minute, 8 * minute},
		Open:   []float64{1, 2},
		High:   []float64{1, 2},
		Low:    []float64{1, 2},
		Close:  []float64{1, 2},
		Volume: []float64{1, 1},
	}
	out, err := Resample(s, 5*minute)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Ts[0] != 5*minute {
		t.Fatalf("out = %d buckets, ts %v", out.Len(), out.Ts)
	}
}

func TestResampleRejectsBadInput(t *testing.T) {
	if _, err := Resample(&Series{}, 60000); err == nil {
		t.Fatal("expected error for empty series")
	}
	if _, err := Resample(&Series{Ts: []int64{0}}, 0); err == nil {
		t.Fatal("expected error for zero bucket")
	}
}
