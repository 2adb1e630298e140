package engine

// Output Recorder: append-only records, diagnostics and caller buffers

import "math"

// Buffer names the recorder mirrors values into when the caller
// declares them.
const (
	BufStopLevel = "stop_level"
	BufCash      = "cash"
	BufDebt      = "debt"
	BufPosition  = "position"
)

// NewBuffer allocates a [bars][assets] output buffer prefilled with
// NaN, the value for bars the loop never reached.
func NewBuffer(bars, assets int) [][]float64 {
	buf := make([][]float64, bars)
	for i := range buf {
		row := make([]float64, assets)
		for j := range row {
			row[j] = math.NaN()
		}
		buf[i] = row
	}
	return buf
}

// OrderRecord is one executed fill, immutable once appended. Seq is
// monotonic within the record's group.
type OrderRecord struct {
	Seq   int64     `json:"seq"`
	Group int       `json:"group"`
	Asset int       `json:"asset"`
	Bar   int       `json:"bar"`
	Side  Side      `json:"side"`
	Size  float64   `json:"size"`
	Price float64   `json:"price"`
	Fees  float64   `json:"fees"`
	Kind  OrderKind `json:"kind"`
	Stop  StopKind  `json:"stop"`
}

type LogStatus int

const (
	LogFilled LogStatus = iota
	LogNoOrder
	LogRejected
	LogCancelled
	LogResting
)

func (s LogStatus) String() string {
	switch s {
	case LogFilled:
		return "filled"
	case LogRejected:
		return "rejected"
	case LogCancelled:
		return "cancelled"
	case LogResting:
		return "resting"
	}
	return "no_order"
}

// LogRecord is one per-decision diagnostic row, emitted only when the
// run enables logging.
type LogRecord struct {
	Group  int       `json:"group"`
	Asset  int       `json:"asset"`
	Bar    int       `json:"bar"`
	Kind   OrderKind `json:"kind"`
	Status LogStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// Recorder accumulates one group's output. Records are append-only and
// never mutated; Seq increases by one per record.
type Recorder struct {
	group   int
	records []OrderRecord
	logs    []LogRecord
	seq     int64
	endBar  int
	buffers map[string][][]float64
	logOn   bool
}

func NewRecorder(group, bars int, buffers map[string][][]float64, logOn bool) *Recorder {
	return &Recorder{group: group, endBar: bars, buffers: buffers, logOn: logOn}
}

// Record appends the fill as an immutable order record and returns it.
func (r *Recorder) Record(f FillResult) OrderRecord {
	rec := OrderRecord{
		Seq: r.seq, Group: r.group, Asset: f.Asset, Bar: f.Bar,
		Side: f.Side, Size: f.Size, Price: f.Price, Fees: f.Fees,
		Kind: f.Kind, Stop: f.Stop,
	}
	r.seq++
	r.records = append(r.records, rec)
	return rec
}

func (r *Recorder) Log(asset, bar int, kind OrderKind, status LogStatus, reason string) {
	if !r.logOn {
		return
	}
	r.logs = append(r.logs, LogRecord{
		Group: r.group, Asset: asset, Bar: bar,
		Kind: kind, Status: status, Reason: reason,
	})
}

// MarkEnd declares the effective end of the group's simulation: bars at
// or past endBar are out of range for downstream consumers. The
// earliest mark wins.
func (r *Recorder) MarkEnd(endBar int) {
	if endBar < r.endBar {
		r.endBar = endBar
	}
}

// EndBar is the first out-of-range bar; it equals the bar count when
// the group ran to completion.
func (r *Recorder) EndBar() int { return r.endBar }

// WriteBuffer mirrors a value into a caller-declared buffer, if one was
// registered under the name.
func (r *Recorder) WriteBuffer(name string, bar, asset int, v float64) {
	buf, ok := r.buffers[name]
	if !ok {
		return
	}
	buf[bar][asset] = v
}

func (r *Recorder) Records() []OrderRecord { return r.records }

func (r *Recorder) Logs() []LogRecord { return r.logs }
