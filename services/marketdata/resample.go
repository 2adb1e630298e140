package marketdata

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimeframe converts a cadence like "5m", "15min" or "1h" into
// milliseconds. A bare number means minutes.
func ParseTimeframe(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasSuffix(s, "min"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "min"))
		if err != nil {
			return 0, fmt.Errorf("unsupported timeframe: %s", raw)
		}
		return int64(n) * 60 * 1000, nil
	case strings.HasSuffix(s, "h"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return 0, fmt.Errorf("unsupported timeframe: %s", raw)
		}
		return int64(n) * 60 * 60 * 1000, nil
	case strings.HasSuffix(s, "m"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "m"))
		if err != nil {
			return 0, fmt.Errorf("unsupported timeframe: %s", raw)
		}
		return int64(n) * 60 * 1000, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported timeframe: %s", raw)
	}
	return int64(n) * 60 * 1000, nil
}

// Resample aggregates candles into epoch-aligned buckets of bucketMs:
// first open, highest high, lowest low, last close, summed volume. The
// series must be in ascending timestamp order, which LoadCSV
// guarantees.
func Resample(s *Series, bucketMs int64) (*Series, error) {
	if bucketMs <= 0 {
		return nil, fmt.Errorf("bucket must be positive, got %d ms", bucketMs)
	}
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("no candles to resample")
	}
	out := &Series{Symbol: s.Symbol}
	for i := 0; i < s.Len(); i++ {
		bucket := (s.Ts[i] / bucketMs) * bucketMs
		n := out.Len()
		if n > 0 && out.Ts[n-1] == bucket {
			if s.High[i] > out.High[n-1] {
				out.High[n-1] = s.High[i]
			}
			if s.Low[i] < out.Low[n-1] {
				out.Low[n-1] = s.Low[i]
			}
			out.Close[n-1] = s.Close[i]
			out.Volume[n-1] += s.Volume[i]
			continue
		}
		out.Ts = append(out.Ts, bucket)
		out.Open = append(out.Open, s.Open[i])
		out.High = append(out.High, s.High[i])
		out.Low = append(out.Low, s.Low[i])
		out.Close = append(out.Close, s.Close[i])
		out.Volume = append(out.Volume, s.Volume[i])
	}
	return out, nil
}
