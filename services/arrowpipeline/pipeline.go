// Package arrowpipeline serializes simulation output as Apache Arrow
// IPC streams for columnar consumers.
package arrowpipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"simkernel/services/engine"
)

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size"`
}

// Pipeline converts simulation output into Arrow record batches.
type Pipeline struct {
	config     *Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(config *Config, logger *zap.Logger) (*Pipeline, error) {
	if config == nil {
		config = &Config{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 65536
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}, nil
}

func recordsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "run_id", Type: arrow.BinaryTypes.String},
		{Name: "seq", Type: arrow.PrimitiveTypes.Int64},
		{Name: "group", Type: arrow.PrimitiveTypes.Int32},
		{Name: "asset", Type: arrow.PrimitiveTypes.Int32},
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "bar", Type: arrow.PrimitiveTypes.Int32},
		{Name: "ts_ms", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "side", Type: arrow.BinaryTypes.String},
		{Name: "size", Type: arrow.PrimitiveTypes.Float64},
		{Name: "price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "fees", Type: arrow.PrimitiveTypes.Float64},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "stop", Type: arrow.BinaryTypes.String},
	}, nil)
}

// ConvertRecords serializes order records into one Arrow IPC stream.
// symbols names the asset columns and times maps bars to epoch ms;
// either may be short or nil.
func (p *Pipeline) ConvertRecords(runID string, recs []engine.OrderRecord, symbols []string, times []int64) ([]byte, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("no records to convert")
	}

	n := len(recs)
	runIDs := make([]string, n)
	seqs := make([]int64, n)
	groups := make([]int32, n)
	assets := make([]int32, n)
	syms := make([]string, n)
	bars := make([]int32, n)
	tss := make([]uint64, n)
	sides := make([]string, n)
	sizes := make([]float64, n)
	prices := make([]float64, n)
	fees := make([]float64, n)
	kinds := make([]string, n)
	stops := make([]string, n)

	for i, rec := range recs {
		runIDs[i] = runID
		seqs[i] = rec.Seq
		groups[i] = int32(rec.Group)
		assets[i] = int32(rec.Asset)
		syms[i] = symbolFor(symbols, rec.Asset)
		bars[i] = int32(rec.Bar)
		tss[i] = tsFor(times, rec.Bar)
		sides[i] = rec.Side.String()
		sizes[i] = rec.Size
		prices[i] = rec.Price
		fees[i] = rec.Fees
		kinds[i] = rec.Kind.String()
		stops[i] = rec.Stop.String()
	}

	schema := recordsSchema()

	runIDBuilder := array.NewStringBuilder(p.memoryPool)
	runIDBuilder.AppendValues(runIDs, nil)
	seqBuilder := array.NewInt64Builder(p.memoryPool)
	seqBuilder.AppendValues(seqs, nil)
	groupBuilder := array.NewInt32Builder(p.memoryPool)
	groupBuilder.AppendValues(groups, nil)
	assetBuilder := array.NewInt32Builder(p.memoryPool)
	assetBuilder.AppendValues(assets, nil)
	symbolBuilder := array.NewStringBuilder(p.memoryPool)
	symbolBuilder.AppendValues(syms, nil)
	barBuilder := array.NewInt32Builder(p.memoryPool)
	barBuilder.AppendValues(bars, nil)
	tsBuilder := array.NewUint64Builder(p.memoryPool)
	tsBuilder.AppendValues(tss, nil)
	sideBuilder := array.NewStringBuilder(p.memoryPool)
	sideBuilder.AppendValues(sides, nil)
	sizeBuilder := array.NewFloat64Builder(p.memoryPool)
	sizeBuilder.AppendValues(sizes, nil)
	priceBuilder := array.NewFloat64Builder(p.memoryPool)
	priceBuilder.AppendValues(prices, nil)
	feeBuilder := array.NewFloat64Builder(p.memoryPool)
	feeBuilder.AppendValues(fees, nil)
	kindBuilder := array.NewStringBuilder(p.memoryPool)
	kindBuilder.AppendValues(kinds, nil)
	stopBuilder := array.NewStringBuilder(p.memoryPool)
	stopBuilder.AppendValues(stops, nil)

	record := array.NewRecord(schema, []arrow.Array{
		runIDBuilder.NewStringArray(),
		seqBuilder.NewInt64Array(),
		groupBuilder.NewInt32Array(),
		assetBuilder.NewInt32Array(),
		symbolBuilder.NewStringArray(),
		barBuilder.NewInt32Array(),
		tsBuilder.NewUint64Array(),
		sideBuilder.NewStringArray(),
		sizeBuilder.NewFloat64Array(),
		priceBuilder.NewFloat64Array(),
		feeBuilder.NewFloat64Array(),
		kindBuilder.NewStringArray(),
		stopBuilder.NewStringArray(),
	}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ConvertCurves serializes one asset's per-bar output buffers as an
// Arrow IPC stream: a ts_ms column plus one float column per buffer
// name, in sorted name order. NaN cells pass through untouched.
func (p *Pipeline) ConvertCurves(asset int, times []int64, buffers map[string][][]float64) ([]byte, error) {
	if len(buffers) == 0 {
		return nil, fmt.Errorf("no buffers to convert")
	}
	names := make([]string, 0, len(buffers))
	bars := -1
	for name, buf := range buffers {
		names = append(names, name)
		if bars == -1 {
			bars = len(buf)
		} else if len(buf) != bars {
			return nil, fmt.Errorf("buffer %q has %d bars, want %d", name, len(buf), bars)
		}
	}
	sort.Strings(names)
	if bars <= 0 {
		return nil, fmt.Errorf("buffers are empty")
	}

	fields := []arrow.Field{{Name: "ts_ms", Type: arrow.PrimitiveTypes.Uint64}}
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64})
	}
	schema := arrow.NewSchema(fields, nil)

	tss := make([]uint64, bars)
	for bar := 0; bar < bars; bar++ {
		tss[bar] = tsFor(times, bar)
	}
	tsBuilder := array.NewUint64Builder(p.memoryPool)
	tsBuilder.AppendValues(tss, nil)
	cols := []arrow.Array{tsBuilder.NewUint64Array()}

	vals := make([]float64, bars)
	for _, name := range names {
		buf := buffers[name]
		for bar := 0; bar < bars; bar++ {
			vals[bar] = buf[bar][asset]
		}
		b := array.NewFloat64Builder(p.memoryPool)
		b.AppendValues(vals, nil)
		cols = append(cols, b.NewFloat64Array())
	}

	record := array.NewRecord(schema, cols, int64(bars))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// StreamRecords drains the channel in batches of BatchSize and writes
// each batch as its own IPC stream.
func (p *Pipeline) StreamRecords(ctx context.Context, runID string, in <-chan engine.OrderRecord, w io.Writer, symbols []string, times []int64) error {
	batch := make([]engine.OrderRecord, 0, p.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		p.logger.Debug("flushing arrow batch", zap.Int("records", len(batch)))
		data, err := p.ConvertRecords(runID, batch, symbols, times)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write Arrow data: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-in:
			if !ok {
				return flush()
			}
			batch = append(batch, rec)
			if len(batch) >= p.config.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

func (p *Pipeline) Close() error {
	p.logger.Info("closing arrow pipeline")
	return nil
}

func symbolFor(symbols []string, asset int) string {
	if asset >= 0 && asset < len(symbols) {
		return symbols[asset]
	}
	return strconv.Itoa(asset)
}

func tsFor(times []int64, bar int) uint64 {
	if bar >= 0 && bar < len(times) && times[bar] > 0 {
		return uint64(times[bar])
	}
	return 0
}
