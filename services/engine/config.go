package engine

// Per-run configuration. One struct is constructed per call and threaded
// through every component; the engine keeps no process-wide state.

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// Version is stamped into run manifests.
const Version = "0.9.2"

type CallSeqMode int

const (
	CallSeqDefault CallSeqMode = iota // declared column order
	CallSeqAuto                       // sells before buys, stable among ties
)

type RefPrice int

const (
	RefClose RefPrice = iota
	RefOpen
	RefNextOpen
)

type StopExitPrice int

const (
	StopPriceLevel StopExitPrice = iota // fill at the stop level itself
	StopPriceClose                      // fill at the bar close
)

type StopPrecedence int

const (
	// PrecedenceConservative evaluates stops before user signals, and a
	// loss-inducing stop before a gain-inducing one when both fit in the
	// bar's range.
	PrecedenceConservative StopPrecedence = iota
	// PrecedenceSignal lets a user order suppress stop checks that bar.
	PrecedenceSignal
)

type LeverageMode int

const (
	LeverageNone  LeverageMode = iota
	LeverageLazy               // borrow only the shortfall
	LeverageEager              // borrow 1-1/L of every buy
)

type StopUnit int

const (
	StopUnitPercent  StopUnit = iota // fraction of entry price
	StopUnitAbsolute                 // price distance from entry
	StopUnitPrice                    // target level
)

type SizeMode int

const (
	SizeModeUnits SizeMode = iota
	SizeModeNotional
	SizeModeTargetUnits
)

type SimConfig struct {
	InitCash    []float64 // one entry per group
	Groups      [][]int   // asset columns per group; must partition all assets
	CashSharing bool

	CallSeq    CallSeqMode
	Ref        RefPrice
	StopExit   StopExitPrice
	Precedence StopPrecedence
	FirstTouch bool // open-distance heuristic on gain/loss stop collisions

	StopUnit StopUnit

	Leverage     float64
	LeverageMode LeverageMode

	Fees     FeeModel
	Slippage SlippageModel

	SizeGranularity float64
	MaxSize         []float64 // per asset, NaN = unlimited

	Strict        bool // NaN sizes abort instead of degrading to no order
	RaiseOnReject bool // a rejected order aborts the run
	EnableLogs    bool
}

// DefaultConfig returns a single cash-sharing group over all assets.
func DefaultConfig(initCash float64, assets int) SimConfig {
	cols := make([]int, assets)
	for i := range cols {
		cols[i] = i
	}
	return SimConfig{
		InitCash:    []float64{initCash},
		Groups:      [][]int{cols},
		CashSharing: true,
		Leverage:    1,
	}
}

// leverageCap is the borrowing multiplier the executor budgets with.
func (c SimConfig) leverageCap() float64 {
	if c.LeverageMode == LeverageNone || c.Leverage < 1 {
		return 1
	}
	return c.Leverage
}

// Hash covers every field that changes simulation output. Fee and
// slippage models are folded in via their Go representation.
func (c SimConfig) Hash() string {
	view := map[string]string{
		"init_cash":    fmt.Sprint(c.InitCash),
		"groups":       fmt.Sprint(c.Groups),
		"cash_sharing": fmt.Sprint(c.CashSharing),
		"call_seq":     fmt.Sprint(int(c.CallSeq)),
		"ref":          fmt.Sprint(int(c.Ref)),
		"stop_exit":    fmt.Sprint(int(c.StopExit)),
		"precedence":   fmt.Sprint(int(c.Precedence)),
		"first_touch":  fmt.Sprint(c.FirstTouch),
		"stop_unit":    fmt.Sprint(int(c.StopUnit)),
		"leverage":     fmt.Sprint(c.Leverage, int(c.LeverageMode)),
		"fees":         fmt.Sprintf("%T%+v", c.Fees, c.Fees),
		"slippage":     fmt.Sprintf("%T%+v", c.Slippage, c.Slippage),
		"granularity":  fmt.Sprint(c.SizeGranularity),
		"max_size":     fmt.Sprint(c.MaxSize),
		"strict":       fmt.Sprint(c.Strict, c.RaiseOnReject),
	}
	b, _ := json.Marshal(view)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// RunManifest ties a run's outputs back to the exact configuration and
// data shape that produced them.
type RunManifest struct {
	RunID      string `json:"run_id"`
	ConfigHash string `json:"config_hash"`
	Bars       int    `json:"bars"`
	Assets     int    `json:"assets"`
	Version    string `json:"version"`
	CreatedAt  uint64 `json:"created_at"`
}

func NewManifest(runID string, cfg SimConfig, bars, assets int) RunManifest {
	return RunManifest{
		RunID:      runID,
		ConfigHash: cfg.Hash(),
		Bars:       bars,
		Assets:     assets,
		Version:    Version,
		CreatedAt:  uint64(time.Now().UnixMilli()),
	}
}
