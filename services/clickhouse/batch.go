package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"simkernel/services/engine"
)

// RecordRow is one order record in JSONEachRow form.
type RecordRow struct {
	RunID      string  `json:"run_id"`
	GroupID    int32   `json:"group_id"`
	Asset      int32   `json:"asset"`
	Symbol     string  `json:"symbol"`
	Bar        int32   `json:"bar"`
	TsMs       uint64  `json:"ts_ms"`
	Seq        int64   `json:"seq"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	Fees       float64 `json:"fees"`
	Kind       string  `json:"kind"`
	StopKind   string  `json:"stop_kind"`
	InsertedAt string  `json:"inserted_at"`
	Version    uint64  `json:"version"`
}

// BatchWriter buffers record rows and flushes them over the HTTP
// interface as gzipped JSONEachRow inserts.
type BatchWriter struct {
	cfg        Config
	httpClient *http.Client
	buffer     []RecordRow
	batchSize  int
}

func NewBatchWriter(cfg Config) *BatchWriter {
	size := cfg.BatchSize
	if size <= 0 {
		size = 10000
	}
	return &BatchWriter{
		cfg:        cfg,
		batchSize:  size,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		buffer:     make([]RecordRow, 0, size),
	}
}

// Add buffers one record and flushes when the batch fills.
func (w *BatchWriter) Add(ctx context.Context, runID string, rec engine.OrderRecord, symbols []string, times []int64) error {
	now := time.Now().UTC()
	w.buffer = append(w.buffer, RecordRow{
		RunID:      runID,
		GroupID:    int32(rec.Group),
		Asset:      int32(rec.Asset),
		Symbol:     symbolFor(symbols, rec.Asset),
		Bar:        int32(rec.Bar),
		TsMs:       tsFor(times, rec.Bar),
		Seq:        rec.Seq,
		Side:       rec.Side.String(),
		Size:       rec.Size,
		Price:      rec.Price,
		Fees:       rec.Fees,
		Kind:       rec.Kind.String(),
		StopKind:   rec.Stop.String(),
		InsertedAt: now.Format("2006-01-02 15:04:05.000"),
		Version:    uint64(now.UnixNano()),
	})
	if len(w.buffer) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush posts the buffered rows as one gzipped JSONEachRow insert.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, row := range w.buffer {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", w.cfg.Database, w.cfg.Table)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	endpoint := fmt.Sprintf("%s/?query=%s&%s", w.cfg.HTTPURL, url.QueryEscape(query), settings)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, &buf)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	req.SetBasicAuth(w.cfg.Username, w.cfg.Password)
	req.Header.Set("X-ClickHouse-Settings", "max_insert_block_size=1000000,input_format_allow_errors_num=0,insert_deduplicate=1")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, string(body))
	}

	w.buffer = w.buffer[:0]
	return nil
}

func (w *BatchWriter) Close(ctx context.Context) error {
	return w.Flush(ctx)
}
