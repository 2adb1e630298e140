package proto

import "context"

type SimulationRequest struct {
	Symbols     []string `json:"symbols"`
	Timeframe   string   `json:"timeframe"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	DatasetId   string   `json:"dataset_id"`
	InitCash    string   `json:"init_cash"`
	CashSharing bool     `json:"cash_sharing"`
	CallPolicy  CallPolicy
	RefPrice    RefPricePolicy
	StopFill    StopFillPolicy
	Leverage    *LeverageSpec
	Fees        *FeeSpec
	SlippagePct string `json:"slippage_pct"`
	Strategy    *StrategySpec
	Stops       *StopSpec
	WithLogs    bool `json:"with_logs"`
}

type CallPolicy int32

const (
	CallPolicy_DECLARED CallPolicy = 0
	CallPolicy_AUTO     CallPolicy = 1
)

type RefPricePolicy int32

const (
	RefPricePolicy_CLOSE     RefPricePolicy = 0
	RefPricePolicy_OPEN      RefPricePolicy = 1
	RefPricePolicy_NEXT_OPEN RefPricePolicy = 2
)

type StopFillPolicy int32

const (
	StopFillPolicy_STOP_LEVEL StopFillPolicy = 0
	StopFillPolicy_BAR_CLOSE  StopFillPolicy = 1
)

type LeverageMode int32

const (
	LeverageMode_NONE  LeverageMode = 0
	LeverageMode_LAZY  LeverageMode = 1
	LeverageMode_EAGER LeverageMode = 2
)

type LeverageSpec struct {
	Mode   LeverageMode
	Factor string
}

type FeeSpec struct {
	MakerPct string
	TakerPct string
	Fixed    string
}

type StrategySpec struct {
	Kind       string `json:"kind"`
	Fast       int32  `json:"fast"`
	Slow       int32  `json:"slow"`
	Lookback   int32  `json:"lookback"`
	AllowShort bool   `json:"allow_short"`
	Size       string `json:"size"`
}

type StopSpec struct {
	SlPct    string `json:"sl_pct"`
	TslPct   string `json:"tsl_pct"`
	TpPct    string `json:"tp_pct"`
	TimeBars int32  `json:"time_bars"`
}

type TradeSide int32

const (
	TradeSide_BUY  TradeSide = 0
	TradeSide_SELL TradeSide = 1
)

type OrderRecord struct {
	Seq       int64
	Group     int32
	Asset     int32
	Symbol    string
	Bar       int32
	Timestamp int64
	Side      TradeSide
	Size      string
	Price     string
	Fees      string
	Kind      string
	StopKind  string
}

type LogRecord struct {
	Group  int32
	Asset  int32
	Bar    int32
	Kind   string
	Status string
	Reason string
}

type GroupState struct {
	Group    int32
	Cash     string
	Debt     string
	Realized string
	EndBar   int32
}

type RunManifest struct {
	JobId         string
	ConfigHash    string
	Bars          int32
	Assets        int32
	EngineVersion string
	CreatedAt     int64
}

type SimulationResponse struct {
	JobId         string
	Status        string
	ExecutionTime int64
	Records       []*OrderRecord
	Logs          []*LogRecord
	Groups        []*GroupState
	Manifest      *RunManifest
}

type GetSimulationRequest struct {
	JobId string `json:"job_id"`
}

// gRPC server interface stub

type UnimplementedSimulationServiceServer struct{}

func RegisterSimulationServiceServer(_ any, _ SimulationServiceServer) {}

type SimulationServiceServer interface {
	RunSimulation(context.Context, *SimulationRequest) (*SimulationResponse, error)
	GetSimulation(context.Context, *GetSimulationRequest) (*SimulationResponse, error)
}
