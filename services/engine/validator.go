package engine

// Pre-run validation: a call either passes every structural check or
// never starts. Checks that depend on an entry price (stop feasibility)
// stay at arm time.

import "math"

func Validate(cfg SimConfig, in RunInputs) error {
	if in.Data == nil {
		return configError("market data is nil")
	}
	bars, assets := in.Data.Bars(), in.Data.Assets()
	if bars < 1 || assets < 1 {
		return configError("market data is empty: %d bars, %d assets", bars, assets)
	}
	if err := checkOHLC(in.Data, bars, assets); err != nil {
		return err
	}
	if in.Data.Times != nil && len(in.Data.Times) != bars {
		return configError("times length %d does not match %d bars", len(in.Data.Times), bars)
	}
	if in.Strategy == nil {
		return configError("no strategy")
	}

	if len(cfg.Groups) == 0 {
		return configError("no groups")
	}
	if len(cfg.InitCash) != len(cfg.Groups) {
		return configError("%d initial cash entries for %d groups", len(cfg.InitCash), len(cfg.Groups))
	}
	for g, cash := range cfg.InitCash {
		if math.IsNaN(cash) || math.IsInf(cash, 0) || cash <= 0 {
			return configError("group %d initial cash %v must be positive and finite", g, cash)
		}
	}

	// groups must partition the asset columns
	owner := make([]int, assets) // group index + 1, 0 = unassigned
	for g, cols := range cfg.Groups {
		if len(cols) == 0 {
			return configError("group %d has no assets", g)
		}
		for _, col := range cols {
			if col < 0 || col >= assets {
				return indexError("group %d references asset %d, have %d assets", g, col, assets)
			}
			if owner[col] != 0 {
				return configError("asset %d assigned to groups %d and %d", col, owner[col]-1, g)
			}
			owner[col] = g + 1
		}
	}
	for col, g := range owner {
		if g == 0 {
			return configError("asset %d not assigned to any group", col)
		}
	}

	if cfg.CallSeq < CallSeqDefault || cfg.CallSeq > CallSeqAuto {
		return configError("unknown call sequence mode %d", int(cfg.CallSeq))
	}
	if cfg.Ref < RefClose || cfg.Ref > RefNextOpen {
		return configError("unknown reference price %d", int(cfg.Ref))
	}
	if cfg.StopExit < StopPriceLevel || cfg.StopExit > StopPriceClose {
		return configError("unknown stop exit price %d", int(cfg.StopExit))
	}
	if cfg.Precedence < PrecedenceConservative || cfg.Precedence > PrecedenceSignal {
		return configError("unknown stop precedence %d", int(cfg.Precedence))
	}
	if cfg.StopUnit < StopUnitPercent || cfg.StopUnit > StopUnitPrice {
		return configError("unknown stop unit %d", int(cfg.StopUnit))
	}
	switch cfg.LeverageMode {
	case LeverageNone:
	case LeverageLazy, LeverageEager:
		if math.IsNaN(cfg.Leverage) || math.IsInf(cfg.Leverage, 0) || cfg.Leverage < 1 {
			return configError("leverage %v must be at least 1", cfg.Leverage)
		}
	default:
		return configError("unknown leverage mode %d", int(cfg.LeverageMode))
	}

	if math.IsNaN(cfg.SizeGranularity) || cfg.SizeGranularity < 0 {
		return configError("size granularity %v must be zero or positive", cfg.SizeGranularity)
	}
	if cfg.MaxSize != nil {
		if len(cfg.MaxSize) != assets {
			return configError("max size length %d does not match %d assets", len(cfg.MaxSize), assets)
		}
		for col, v := range cfg.MaxSize {
			if !math.IsNaN(v) && v <= 0 {
				return configError("max size %v for asset %d must be positive", v, col)
			}
		}
	}

	if err := checkShape("sl", in.SL, bars, assets); err != nil {
		return err
	}
	if err := checkShape("tsl", in.TSL, bars, assets); err != nil {
		return err
	}
	if err := checkShape("tp", in.TP, bars, assets); err != nil {
		return err
	}
	if err := checkShape("time stop", in.TimeStop, bars, assets); err != nil {
		return err
	}

	for name, buf := range in.Buffers {
		switch name {
		case BufStopLevel, BufCash, BufDebt, BufPosition:
		default:
			return configError("unknown buffer %q", name)
		}
		if err := checkShape("buffer "+name, buf, bars, assets); err != nil {
			return err
		}
	}
	return nil
}

func checkOHLC(data *MarketData, bars, assets int) error {
	fields := []struct {
		name string
		arr  [][]float64
	}{
		{"open", data.Open}, {"high", data.High}, {"low", data.Low}, {"close", data.Close},
	}
	for _, f := range fields {
		if len(f.arr) != bars {
			return configError("%s has %d bars, close has %d", f.name, len(f.arr), bars)
		}
		for bar, row := range f.arr {
			if len(row) != assets {
				return configError("%s bar %d has %d assets, expected %d", f.name, bar, len(row), assets)
			}
		}
	}
	return nil
}

// checkShape verifies an optional [bars][assets] array. Nil is allowed
// and means the input is absent.
func checkShape(name string, arr [][]float64, bars, assets int) error {
	if arr == nil {
		return nil
	}
	if len(arr) != bars {
		return configError("%s has %d bars, expected %d", name, len(arr), bars)
	}
	for bar, row := range arr {
		if len(row) != assets {
			return configError("%s bar %d has %d assets, expected %d", name, bar, len(row), assets)
		}
	}
	return nil
}
