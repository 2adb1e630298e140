// Command simrun executes one simulation over local candle CSVs and
// writes records, logs, snapshots and summaries to an output directory.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"simkernel/services/arrowpipeline"
	"simkernel/services/clickhouse"
	"simkernel/services/config"
	"simkernel/services/engine"
	"simkernel/services/marketdata"
	"simkernel/services/report"
	"simkernel/strategies"
)

func main() {
	csvList := flag.String("csv", "", "Comma-separated candle CSV paths (timestamp,open,high,low,close[,volume])")
	symbolList := flag.String("symbols", "", "Comma-separated symbols matching -csv order; defaults to file names")
	strategyName := flag.String("strategy", "macross", "Strategy: macross or breakout")
	fast := flag.Int("fast", 20, "Fast window (macross)")
	slow := flag.Int("slow", 50, "Slow window (macross)")
	lookback := flag.Int("lookback", 20, "Channel lookback (breakout)")
	allowShort := flag.Bool("allow-short", false, "Mirror entries on the short side")
	size := flag.Float64("size", math.NaN(), "Units per entry; NaN = as much as affordable")
	cash := flag.Float64("cash", 10000, "Initial cash")
	splitGroups := flag.Bool("split-groups", false, "One group per asset instead of one shared pool")
	feeTaker := flag.Float64("fee-taker", 0.001, "Taker fee fraction")
	feeMaker := flag.Float64("fee-maker", 0.0005, "Maker fee fraction for rested limits")
	feeFixed := flag.Float64("fee-fixed", 0, "Fixed fee per order")
	slip := flag.Float64("slippage", 0, "Fractional slippage on market and stop fills")
	slPct := flag.Float64("sl", math.NaN(), "Stop loss, fraction of entry price")
	tslPct := flag.Float64("tsl", math.NaN(), "Trailing stop, fraction of the tracked extreme")
	tpPct := flag.Float64("tp", math.NaN(), "Take profit, fraction of entry price")
	timeStop := flag.Float64("time-stop", math.NaN(), "Bars a position may stay open")
	callSeq := flag.String("call-seq", "declared", "Execution order: declared or auto")
	ref := flag.String("ref", "close", "Reference price: close, open or nextopen")
	stopFill := flag.String("stop-exit", "level", "Stop fill price: level or close")
	firstTouch := flag.Bool("first-touch", false, "Open-distance heuristic on stop collisions")
	leverage := flag.Float64("leverage", 1, "Leverage factor")
	levMode := flag.String("leverage-mode", "none", "Leverage mode: none, lazy or eager")
	strict := flag.Bool("strict", false, "Abort on NaN order sizes")
	raise := flag.Bool("raise-on-reject", false, "Abort on rejected orders")
	withLogs := flag.Bool("logs", true, "Record per-decision diagnostics")
	workers := flag.Int("workers", 1, "Parallel group workers")
	outDir := flag.String("out", "./simrun_out", "Output directory")
	arrowOut := flag.Bool("arrow", false, "Also write Arrow IPC outputs")
	chSink := flag.Bool("ch", false, "Also insert records into ClickHouse (env-configured)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *csvList == "" {
		logger.Fatal("-csv is required")
	}
	paths := splitList(*csvList)
	symbols := splitList(*symbolList)
	if len(symbols) == 0 {
		for _, p := range paths {
			base := filepath.Base(p)
			symbols = append(symbols, strings.TrimSuffix(base, filepath.Ext(base)))
		}
	}
	if len(symbols) != len(paths) {
		logger.Fatal("symbol count does not match csv count",
			zap.Int("symbols", len(symbols)), zap.Int("csvs", len(paths)))
	}

	series := make([]*marketdata.Series, len(paths))
	for i, p := range paths {
		s, err := marketdata.LoadCSV(p, symbols[i])
		if err != nil {
			logger.Fatal("failed to load candles", zap.String("path", p), zap.Error(err))
		}
		logger.Info("loaded candles", zap.String("symbol", s.Symbol), zap.Int("bars", s.Len()))
		series[i] = s
	}
	data, columns, err := marketdata.Align(series...)
	if err != nil {
		logger.Fatal("failed to align series", zap.Error(err))
	}
	bars, assets := data.Bars(), data.Assets()
	logger.Info("aligned market data", zap.Int("bars", bars), zap.Int("assets", assets))

	var strat engine.Strategy
	switch *strategyName {
	case "macross":
		s := strategies.NewMACrossStrategy()
		s.Fast = *fast
		s.Slow = *slow
		s.AllowShort = *allowShort
		s.Size = *size
		sig, err := s.Build(data)
		if err != nil {
			logger.Fatal("failed to build strategy", zap.Error(err))
		}
		strat = sig
	case "breakout":
		b := strategies.NewBreakoutStrategy()
		b.Lookback = *lookback
		b.AllowShort = *allowShort
		b.Size = *size
		if err := b.Prepare(data); err != nil {
			logger.Fatal("failed to prepare strategy", zap.Error(err))
		}
		strat = b
	default:
		logger.Fatal("unknown strategy", zap.String("strategy", *strategyName))
	}

	cfg := engine.DefaultConfig(*cash, assets)
	if *splitGroups && assets > 1 {
		groups := make([][]int, assets)
		initCash := make([]float64, assets)
		for i := 0; i < assets; i++ {
			groups[i] = []int{i}
			initCash[i] = *cash / float64(assets)
		}
		cfg.Groups = groups
		cfg.InitCash = initCash
		cfg.CashSharing = false
	}
	cfg.CallSeq, err = parseCallSeq(*callSeq)
	if err == nil {
		cfg.Ref, err = parseRef(*ref)
	}
	if err == nil {
		cfg.StopExit, err = parseStopFill(*stopFill)
	}
	if err == nil {
		cfg.LeverageMode, err = parseLeverageMode(*levMode)
	}
	if err != nil {
		logger.Fatal("bad flag value", zap.Error(err))
	}
	cfg.FirstTouch = *firstTouch
	cfg.Leverage = *leverage
	cfg.Fees = engine.PercentFee{Maker: *feeMaker, Taker: *feeTaker, Fixed: *feeFixed}
	if *slip > 0 {
		cfg.Slippage = engine.PercentSlippage{Rate: *slip}
	}
	cfg.Strict = *strict
	cfg.RaiseOnReject = *raise
	cfg.EnableLogs = *withLogs

	buffers := map[string][][]float64{
		engine.BufCash:      engine.NewBuffer(bars, assets),
		engine.BufDebt:      engine.NewBuffer(bars, assets),
		engine.BufPosition:  engine.NewBuffer(bars, assets),
		engine.BufStopLevel: engine.NewBuffer(bars, assets),
	}
	in := engine.RunInputs{
		Data:     data,
		Strategy: strat,
		SL:       fillGrid(bars, assets, *slPct),
		TSL:      fillGrid(bars, assets, *tslPct),
		TP:       fillGrid(bars, assets, *tpPct),
		TimeStop: fillGrid(bars, assets, *timeStop),
		Buffers:  buffers,
	}

	sim, err := engine.New(cfg, in)
	if err != nil {
		logger.Fatal("invalid simulation inputs", zap.Error(err))
	}

	start := time.Now()
	var res *engine.RunResult
	if *workers > 1 {
		res, err = sim.RunParallel(*workers)
	} else {
		res, err = sim.Run()
	}
	if err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
	res.Manifest.RunID = uuid.New().String()
	logger.Info("simulation complete",
		zap.String("run_id", res.Manifest.RunID),
		zap.Int("records", len(res.Records)),
		zap.Int("logs", len(res.Logs)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatal("failed to create output dir", zap.Error(err))
	}
	if err := writeJSON(filepath.Join(*outDir, "manifest.json"), res.Manifest); err != nil {
		logger.Fatal("failed to write manifest", zap.Error(err))
	}
	if err := writeJSON(filepath.Join(*outDir, "snapshots.json"), res.Snapshots); err != nil {
		logger.Fatal("failed to write snapshots", zap.Error(err))
	}
	if err := writeRecordsCSV(filepath.Join(*outDir, "records.csv"), res.Records, columns, data.Times); err != nil {
		logger.Fatal("failed to write records", zap.Error(err))
	}
	if len(res.Logs) > 0 {
		if err := writeLogsCSV(filepath.Join(*outDir, "logs.csv"), res.Logs); err != nil {
			logger.Fatal("failed to write logs", zap.Error(err))
		}
	}
	if err := writeCurvesCSV(filepath.Join(*outDir, "curves.csv"), columns, data.Times, buffers); err != nil {
		logger.Fatal("failed to write curves", zap.Error(err))
	}

	summary := report.Summarize(res, columns)
	if err := writeSummaryCSVs(*outDir, summary); err != nil {
		logger.Fatal("failed to write summaries", zap.Error(err))
	}
	fmt.Print(summary.String())

	if *arrowOut {
		if err := writeArrow(*outDir, res, columns, data.Times, buffers, logger); err != nil {
			logger.Fatal("failed to write arrow outputs", zap.Error(err))
		}
	}
	if *chSink {
		if err := pushClickHouse(res, columns, data.Times, logger); err != nil {
			logger.Fatal("failed to push to clickhouse", zap.Error(err))
		}
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseCallSeq(raw string) (engine.CallSeqMode, error) {
	switch raw {
	case "declared":
		return engine.CallSeqDefault, nil
	case "auto":
		return engine.CallSeqAuto, nil
	}
	return 0, fmt.Errorf("unknown call-seq %q", raw)
}

func parseRef(raw string) (engine.RefPrice, error) {
	switch raw {
	case "close":
		return engine.RefClose, nil
	case "open":
		return engine.RefOpen, nil
	case "nextopen":
		return engine.RefNextOpen, nil
	}
	return 0, fmt.Errorf("unknown ref %q", raw)
}

func parseStopFill(raw string) (engine.StopExitPrice, error) {
	switch raw {
	case "level":
		return engine.StopPriceLevel, nil
	case "close":
		return engine.StopPriceClose, nil
	}
	return 0, fmt.Errorf("unknown stop-exit %q", raw)
}

func parseLeverageMode(raw string) (engine.LeverageMode, error) {
	switch raw {
	case "none":
		return engine.LeverageNone, nil
	case "lazy":
		return engine.LeverageLazy, nil
	case "eager":
		return engine.LeverageEager, nil
	}
	return 0, fmt.Errorf("unknown leverage-mode %q", raw)
}

// fillGrid broadcasts one scalar over every (bar, asset) cell; NaN
// means the input is absent and yields a nil grid.
func fillGrid(bars, assets int, v float64) [][]float64 {
	if math.IsNaN(v) {
		return nil
	}
	grid := make([][]float64, bars)
	for i := range grid {
		row := make([]float64, assets)
		for j := range row {
			row[j] = v
		}
		grid[i] = row
	}
	return grid
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ffmt(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func writeRecordsCSV(path string, recs []engine.OrderRecord, symbols []string, times []int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"seq", "group", "asset", "symbol", "bar", "ts_ms", "side", "size", "price", "fees", "kind", "stop"}); err != nil {
		return err
	}
	for _, rec := range recs {
		sym := strconv.Itoa(rec.Asset)
		if rec.Asset < len(symbols) {
			sym = symbols[rec.Asset]
		}
		ts := int64(0)
		if rec.Bar < len(times) {
			ts = times[rec.Bar]
		}
		row := []string{
			strconv.FormatInt(rec.Seq, 10),
			strconv.Itoa(rec.Group),
			strconv.Itoa(rec.Asset),
			sym,
			strconv.Itoa(rec.Bar),
			strconv.FormatInt(ts, 10),
			rec.Side.String(),
			ffmt(rec.Size),
			ffmt(rec.Price),
			ffmt(rec.Fees),
			rec.Kind.String(),
			rec.Stop.String(),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeLogsCSV(path string, logs []engine.LogRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"group", "asset", "bar", "kind", "status", "reason"}); err != nil {
		return err
	}
	for _, l := range logs {
		row := []string{
			strconv.Itoa(l.Group),
			strconv.Itoa(l.Asset),
			strconv.Itoa(l.Bar),
			l.Kind.String(),
			l.Status.String(),
			l.Reason,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeCurvesCSV(path string, symbols []string, times []int64, buffers map[string][][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"bar", "ts_ms", "symbol", "cash", "debt", "position", "stop_level"}); err != nil {
		return err
	}
	cash := buffers[engine.BufCash]
	debt := buffers[engine.BufDebt]
	pos := buffers[engine.BufPosition]
	stop := buffers[engine.BufStopLevel]
	for bar := range cash {
		ts := int64(0)
		if bar < len(times) {
			ts = times[bar]
		}
		for a := range cash[bar] {
			row := []string{
				strconv.Itoa(bar),
				strconv.FormatInt(ts, 10),
				symbols[a],
				ffmt(cash[bar][a]),
				ffmt(debt[bar][a]),
				ffmt(pos[bar][a]),
				ffmt(stop[bar][a]),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func writeSummaryCSVs(outDir string, summary *report.Summary) error {
	af, err := os.Create(filepath.Join(outDir, "asset_summary.csv"))
	if err != nil {
		return err
	}
	defer af.Close()
	if err := summary.WriteAssetCSV(af); err != nil {
		return err
	}
	gf, err := os.Create(filepath.Join(outDir, "group_summary.csv"))
	if err != nil {
		return err
	}
	defer gf.Close()
	return summary.WriteGroupCSV(gf)
}

func writeArrow(outDir string, res *engine.RunResult, symbols []string, times []int64, buffers map[string][][]float64, logger *zap.Logger) error {
	pipe, err := arrowpipeline.NewPipeline(nil, logger)
	if err != nil {
		return err
	}
	defer pipe.Close()

	if len(res.Records) > 0 {
		data, err := pipe.ConvertRecords(res.Manifest.RunID, res.Records, symbols, times)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, "records.arrow"), data, 0o644); err != nil {
			return err
		}
	}
	for a, sym := range symbols {
		data, err := pipe.ConvertCurves(a, times, buffers)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("curves_%s.arrow", sym)
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func pushClickHouse(res *engine.RunResult, symbols []string, times []int64, logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := clickhouse.NewClient(cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := client.InsertRecords(ctx, res.Manifest.RunID, res.Records, symbols, times); err != nil {
		return err
	}
	if err := client.InsertLogs(ctx, res.Manifest.RunID, res.Logs); err != nil {
		return err
	}
	logger.Info("records stored",
		zap.String("run_id", res.Manifest.RunID),
		zap.String("database", cfg.ClickHouse.Database),
		zap.Int("records", len(res.Records)),
	)
	return nil
}
