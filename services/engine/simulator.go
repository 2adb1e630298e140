package engine

// Simulation loop: strictly sequential over bars within a group, one
// fill per asset per bar. Each bar runs two passes: a pure decision
// pass in declared column order, then an execution pass in call
// sequence order so sells can fund same-bar buys.

import (
	"errors"
	"math"
	"sync"
)

// phase identifies which step of a bar claimed an asset's single fill.
// Resting limits resolve first (they were placed earliest), then stops
// and user signals in the configured precedence.
type phase int

const (
	phaseNone phase = iota
	phaseResting
	phaseStop
	phaseSignal
)

// barPlan is the pure decision for one asset at one bar, computed
// before any state mutates so the call sequence can reorder execution.
type barPlan struct {
	col      int
	tradable bool
	resting  int // index into the resting book, -1 none
	stop     StopHit
	stopHit  bool
	tslLevel float64
	tslMoved bool
	intent   OrderIntent
	claimed  phase
	side     Side
	hasOrder bool
	haltReq  bool
}

// RunInputs bundles the materialized arrays for one call. Stop arrays
// are optional and shaped [bars][assets] with NaN for absent values.
type RunInputs struct {
	Data     *MarketData
	Strategy Strategy

	SL       [][]float64
	TSL      [][]float64
	TP       [][]float64
	TimeStop [][]float64

	// Buffers are caller-declared outputs written in lockstep with the
	// loop, addressed by (bar, asset). See the Buf* names.
	Buffers map[string][][]float64
}

type PositionSnapshot struct {
	Asset    int       `json:"asset"`
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avg_price"`
	EntryBar int       `json:"entry_bar"`
	Dir      Direction `json:"dir"`
}

// GroupSnapshot is the final cash/debt/position state of one group.
// EndBar is the first out-of-range bar; it equals the bar count unless
// the group stopped early.
type GroupSnapshot struct {
	Group     int                `json:"group"`
	Cash      float64            `json:"cash"`
	Debt      float64            `json:"debt"`
	Realized  float64            `json:"realized"`
	EndBar    int                `json:"end_bar"`
	Positions []PositionSnapshot `json:"positions,omitempty"`
}

type RunResult struct {
	Records   []OrderRecord
	Logs      []LogRecord
	Snapshots []GroupSnapshot
	Manifest  RunManifest
}

type Simulator struct {
	cfg SimConfig
	in  RunInputs
}

// New validates configuration and inputs up front; nothing runs on a
// config that fails the pre-run pass.
func New(cfg SimConfig, in RunInputs) (*Simulator, error) {
	if err := Validate(cfg, in); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, in: in}, nil
}

// Run simulates every group sequentially and merges output in group
// order. Re-running on identical inputs yields identical records.
func (s *Simulator) Run() (*RunResult, error) {
	n := len(s.cfg.Groups)
	recs := make([]*Recorder, n)
	snaps := make([]GroupSnapshot, n)
	for g := 0; g < n; g++ {
		rec := NewRecorder(g, s.in.Data.Bars(), s.in.Buffers, s.cfg.EnableLogs)
		snap, err := s.runGroup(g, rec)
		if err != nil {
			return nil, err
		}
		recs[g] = rec
		snaps[g] = snap
	}
	return s.merge(recs, snaps), nil
}

// RunParallel fans groups out over a bounded worker pool. Groups share
// no mutable state, so the merged output is identical to Run. A
// strategy with internal mutable state must tolerate concurrent OnBar
// calls from different groups.
func (s *Simulator) RunParallel(workers int) (*RunResult, error) {
	n := len(s.cfg.Groups)
	if workers <= 1 || n <= 1 {
		return s.Run()
	}
	if workers > n {
		workers = n
	}
	recs := make([]*Recorder, n)
	snaps := make([]GroupSnapshot, n)
	errs := make([]error, n)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range jobs {
				rec := NewRecorder(g, s.in.Data.Bars(), s.in.Buffers, s.cfg.EnableLogs)
				snaps[g], errs[g] = s.runGroup(g, rec)
				recs[g] = rec
			}
		}()
	}
	for g := 0; g < n; g++ {
		jobs <- g
	}
	close(jobs)
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return s.merge(recs, snaps), nil
}

func (s *Simulator) merge(recs []*Recorder, snaps []GroupSnapshot) *RunResult {
	res := &RunResult{
		Snapshots: snaps,
		Manifest:  NewManifest("", s.cfg, s.in.Data.Bars(), s.in.Data.Assets()),
	}
	for _, rec := range recs {
		res.Records = append(res.Records, rec.Records()...)
		res.Logs = append(res.Logs, rec.Logs()...)
	}
	return res
}

// buildPools maps the group's columns onto cash pools: one shared pool,
// or one per column with the initial cash split equally.
func (s *Simulator) buildPools(g int) ([]*Ledger, map[int]*Ledger) {
	cols := s.cfg.Groups[g]
	byCol := make(map[int]*Ledger, len(cols))
	if s.cfg.CashSharing {
		led := NewLedger(s.cfg, s.cfg.InitCash[g])
		for _, col := range cols {
			byCol[col] = led
		}
		return []*Ledger{led}, byCol
	}
	pools := make([]*Ledger, 0, len(cols))
	split := s.cfg.InitCash[g] / float64(len(cols))
	for _, col := range cols {
		led := NewLedger(s.cfg, split)
		pools = append(pools, led)
		byCol[col] = led
	}
	return pools, byCol
}

func (s *Simulator) runGroup(g int, rec *Recorder) (GroupSnapshot, error) {
	cols := s.cfg.Groups[g]
	data := s.in.Data
	ex := NewExecutor(s.cfg, data)
	pools, byCol := s.buildPools(g)
	book := &restingBook{}
	plans := make([]barPlan, len(cols))
	halt := false

	bars := data.Bars()
	endBar := bars
	for bar := 0; bar < bars; bar++ {
		// expire resting orders that did not survive the previous bar
		for i := range book.orders {
			r := &book.orders[i]
			if !r.done && r.expired(bar) {
				r.done = true
				rec.Log(r.Asset, bar, KindLimit, LogCancelled, "expired "+r.TIF.String())
			}
		}

		for i, col := range cols {
			plans[i] = s.decide(g, bar, col, byCol[col], book)
		}

		order := CallSequence(s.cfg.CallSeq, plans)

		for _, i := range order {
			if err := s.execute(g, bar, &plans[i], byCol[plans[i].col], book, ex, rec); err != nil {
				return GroupSnapshot{}, err
			}
			if plans[i].haltReq {
				halt = true
			}
		}

		book.sweep()

		for _, col := range cols {
			led := byCol[col]
			p := led.Position(col)
			rec.WriteBuffer(BufCash, bar, col, led.Group.Cash)
			rec.WriteBuffer(BufDebt, bar, col, led.Group.Debt)
			rec.WriteBuffer(BufPosition, bar, col, p.Size)
			level, _ := p.Stops.lossLevel(p.Dir)
			rec.WriteBuffer(BufStopLevel, bar, col, level)
		}

		// liquidation: debt outstanding and equity gone
		if !halt && s.cfg.LeverageMode != LeverageNone {
			for _, led := range pools {
				if led.Group.Debt > 0 && led.Equity(data, bar, cols) <= 0 {
					halt = true
					break
				}
			}
		}
		if halt {
			endBar = bar + 1
			break
		}
	}
	rec.MarkEnd(endBar)

	snap := GroupSnapshot{Group: g, EndBar: rec.EndBar()}
	for _, led := range pools {
		snap.Cash += led.Group.Cash
		snap.Debt += led.Group.Debt
		snap.Realized += led.Group.Realized
	}
	for _, col := range cols {
		p := byCol[col].Position(col)
		if p.Size != 0 {
			snap.Positions = append(snap.Positions, PositionSnapshot{
				Asset: col, Size: p.Size, AvgPrice: p.AvgPrice, EntryBar: p.EntryBar, Dir: p.Dir,
			})
		}
	}
	return snap, nil
}

// decide computes one asset's candidates for the bar without mutating
// any state: the oldest crossed resting order, a stop hit over the
// ratcheted trailing level, and the strategy's intent. OnBar always
// runs, even when something else claims the bar, so stateful
// strategies stay in step.
func (s *Simulator) decide(g, bar, col int, led *Ledger, book *restingBook) barPlan {
	data := s.in.Data
	p := barPlan{col: col, resting: -1, tslLevel: math.NaN()}
	p.tradable = data.Tradable(bar, col)
	pos := led.Position(col)
	b := data.BarAt(bar, col)

	if p.tradable {
		for idx := range book.orders {
			r := &book.orders[idx]
			if r.done || r.Asset != col {
				continue
			}
			if LimitCrossed(r.Side, r.Price, b) {
				p.resting = idx
				break
			}
		}
	}

	if p.tradable && pos.Dir != DirNone && pos.Stops.armed() {
		st := pos.Stops
		if level, moved := Ratchet(st, pos.Dir, b); moved {
			st.TSL = level
			p.tslLevel = level
			p.tslMoved = true
		}
		if hit, ok := EvaluateStops(st, pos.Dir, b, bar, s.cfg.FirstTouch); ok {
			p.stop = hit
			p.stopHit = true
		}
	}

	ctx := SimulationContext{
		Bar: bar, Asset: col, Group: g,
		Price: b, Tradable: p.tradable,
		Position: pos.view(),
		FreeCash: led.FreeCash(),
		Strict:   s.cfg.Strict,
		halt:     &p.haltReq,
	}
	p.intent = s.in.Strategy.OnBar(&ctx)

	switch {
	case p.resting >= 0:
		p.claimed = phaseResting
		p.side = book.orders[p.resting].Side
		p.hasOrder = true
	case !p.tradable:
		p.claimed = phaseNone
	case s.cfg.Precedence == PrecedenceSignal && p.intent.Kind != KindNone:
		p.claimed = phaseSignal
		p.side = p.intent.Side
		p.hasOrder = true
	case p.stopHit:
		p.claimed = phaseStop
		p.side = Sell
		if pos.Dir == DirShort {
			p.side = Buy
		}
		p.hasOrder = true
	case p.intent.Kind != KindNone:
		p.claimed = phaseSignal
		p.side = p.intent.Side
		p.hasOrder = true
	}
	return p
}

// execute applies one asset's plan in call-sequence order: persist the
// trailing ratchet, then run whichever phase claimed the bar.
func (s *Simulator) execute(g, bar int, p *barPlan, led *Ledger, book *restingBook, ex *Executor, rec *Recorder) error {
	col := p.col
	pos := led.Position(col)
	if p.tslMoved && pos.Dir != DirNone {
		pos.Stops.TSL = p.tslLevel
	}

	switch p.claimed {
	case phaseResting:
		r := &book.orders[p.resting]
		it := OrderIntent{Kind: KindLimit, Side: r.Side, Size: r.Size, Notional: r.Notional, Limit: r.Price}
		maker := bar > r.PlacedBar
		fill, err := ex.FillLimit(it, led, g, col, bar, maker, false)
		if err != nil {
			// an unaffordable resting order stays on the book and
			// retries on later bars
			return s.reject(err, rec, col, bar, KindLimit)
		}
		prevDir := pos.Dir
		if _, err := led.Apply(fill); err != nil {
			return s.reject(err, rec, col, bar, KindLimit)
		}
		r.done = true
		rec.Record(fill)
		rec.Log(col, bar, KindLimit, LogFilled, "")
		return s.armAfterFill(g, bar, col, led, prevDir, fill)

	case phaseStop:
		fill, err := ex.ExecuteStopExit(p.stop, pos, g, bar)
		if err != nil {
			return s.reject(err, rec, col, bar, KindStop)
		}
		if _, err := led.Apply(fill); err != nil {
			return s.reject(err, rec, col, bar, KindStop)
		}
		rec.Record(fill)
		rec.Log(col, bar, KindStop, LogFilled, p.stop.Kind.String())
		return nil

	case phaseSignal:
		return s.executeIntent(g, bar, col, p.intent, led, book, ex, rec)

	default:
		if p.intent.Kind != KindNone && !p.tradable {
			rec.Log(col, bar, p.intent.Kind, LogNoOrder, "untradable bar")
		}
	}
	return nil
}

func (s *Simulator) executeIntent(g, bar, col int, it OrderIntent, led *Ledger, book *restingBook, ex *Executor, rec *Recorder) error {
	if math.IsNaN(it.Size) {
		if s.cfg.Strict {
			return sizeError(g, col, bar, "NaN order size in strict mode")
		}
		rec.Log(col, bar, it.Kind, LogNoOrder, "NaN size")
		return nil
	}
	pos := led.Position(col)

	switch it.Kind {
	case KindMarket:
		fill, err := ex.ExecuteMarket(it, led, g, col, bar)
		if err != nil {
			return s.reject(err, rec, col, bar, KindMarket)
		}
		prevDir := pos.Dir
		if _, err := led.Apply(fill); err != nil {
			return s.reject(err, rec, col, bar, KindMarket)
		}
		rec.Record(fill)
		rec.Log(col, bar, KindMarket, LogFilled, "")
		return s.armAfterFill(g, bar, col, led, prevDir, fill)

	case KindLimit:
		if math.IsNaN(it.Limit) {
			if s.cfg.Strict {
				return sizeError(g, col, bar, "NaN limit price in strict mode")
			}
			rec.Log(col, bar, KindLimit, LogNoOrder, "NaN limit price")
			return nil
		}
		if it.Limit <= 0 {
			return s.reject(sizeError(g, col, bar, "limit price %v", it.Limit), rec, col, bar, KindLimit)
		}
		b := s.in.Data.BarAt(bar, col)
		fok := it.TIF == TIFFOK
		if LimitCrossed(it.Side, it.Limit, b) {
			fill, err := ex.FillLimit(it, led, g, col, bar, false, fok)
			if err != nil {
				if errors.Is(err, errFOKCancel) {
					rec.Log(col, bar, KindLimit, LogCancelled, "FOK not fillable whole")
					return nil
				}
				return s.reject(err, rec, col, bar, KindLimit)
			}
			prevDir := pos.Dir
			if _, err := led.Apply(fill); err != nil {
				return s.reject(err, rec, col, bar, KindLimit)
			}
			rec.Record(fill)
			rec.Log(col, bar, KindLimit, LogFilled, "")
			return s.armAfterFill(g, bar, col, led, prevDir, fill)
		}
		if fok {
			rec.Log(col, bar, KindLimit, LogCancelled, "FOK not fillable whole")
			return nil
		}
		book.add(restingLimit{
			Asset: col, Side: it.Side, Size: it.Size, Notional: it.Notional,
			Price: it.Limit, TIF: it.TIF, PlacedBar: bar, ExpiryBar: it.ExpiryBar,
		})
		rec.Log(col, bar, KindLimit, LogResting, "")
	}
	return nil
}

// reject downgrades executor and ledger rejections to log records
// unless the run asks them to propagate. Pricing misses are never
// fatal.
func (s *Simulator) reject(err error, rec *Recorder, col, bar int, kind OrderKind) error {
	if errors.Is(err, errNoRefPrice) {
		rec.Log(col, bar, kind, LogNoOrder, err.Error())
		return nil
	}
	if s.cfg.RaiseOnReject {
		return err
	}
	rec.Log(col, bar, kind, LogRejected, err.Error())
	return nil
}

// armAfterFill latches stop state for positions opened or flipped by
// the fill, reading the stop arrays at the entry bar. Adds to an
// existing position keep the stops armed at first entry.
func (s *Simulator) armAfterFill(g, bar, col int, led *Ledger, prevDir Direction, fill FillResult) error {
	pos := led.Position(col)
	if pos.Dir == DirNone || pos.Dir == prevDir {
		return nil
	}
	nan := math.NaN()
	params := StopParams{SL: nan, TSL: nan, TP: nan, Time: nan}
	if s.in.SL != nil {
		params.SL = s.in.SL[bar][col]
	}
	if s.in.TSL != nil {
		params.TSL = s.in.TSL[bar][col]
	}
	if s.in.TP != nil {
		params.TP = s.in.TP[bar][col]
	}
	if s.in.TimeStop != nil {
		params.Time = s.in.TimeStop[bar][col]
	}
	st, err := ArmStops(params, pos.Dir, fill.Price, bar, s.cfg.StopUnit)
	if err != nil {
		var se *SimError
		if errors.As(err, &se) {
			se.Group, se.Asset, se.Bar = g, col, bar
		}
		return err
	}
	pos.Stops = st
	return nil
}
