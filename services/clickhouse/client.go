// Package clickhouse persists simulation output over the native
// protocol, with an HTTP JSONEachRow fallback for environments where
// only port 8123 is reachable.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"

	"simkernel/services/engine"
)

type Config struct {
	Addr      string
	Database  string
	Table     string // order records
	LogTable  string
	Username  string
	Password  string
	HTTPURL   string // for the HTTP batch path
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:9000",
		Database:  "simkernel",
		Table:     "order_records",
		LogTable:  "decision_logs",
		Username:  "default",
		HTTPURL:   "http://localhost:8123",
		BatchSize: 10000,
	}
}

// Client wraps a native-protocol connection.
type Client struct {
	conn driver.Conn
	cfg  Config
}

func NewClient(cfg Config) (*Client, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: ch.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %s", explainError(err))
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// EnsureSchema creates the database and output tables when absent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.cfg.Database)); err != nil {
		return fmt.Errorf("create database: %s", explainError(err))
	}
	if err := c.conn.Exec(ctx, fmt.Sprintf(recordsDDL, c.cfg.Database, c.cfg.Table)); err != nil {
		return fmt.Errorf("create records table: %s", explainError(err))
	}
	if err := c.conn.Exec(ctx, fmt.Sprintf(logsDDL, c.cfg.Database, c.cfg.LogTable)); err != nil {
		return fmt.Errorf("create logs table: %s", explainError(err))
	}
	return nil
}

// InsertRecords streams a run's order records in one batch. symbols
// names the asset columns and times maps bars to epoch ms; either may
// be short or nil.
func (c *Client) InsertRecords(ctx context.Context, runID string, recs []engine.OrderRecord, symbols []string, times []int64) error {
	if len(recs) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s.%s SETTINGS insert_deduplicate=1", c.cfg.Database, c.cfg.Table)
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %s", explainError(err))
	}
	now := time.Now().UTC()
	ver := uint64(now.UnixNano()) // same for the whole run; ReplacingMergeTree keeps last
	for _, rec := range recs {
		if err := batch.Append(
			runID,
			int32(rec.Group),
			int32(rec.Asset),
			symbolFor(symbols, rec.Asset),
			int32(rec.Bar),
			tsFor(times, rec.Bar),
			rec.Seq,
			rec.Side.String(),
			rec.Size,
			rec.Price,
			rec.Fees,
			rec.Kind.String(),
			rec.Stop.String(),
			now,
			ver,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %s", explainError(err))
	}
	return nil
}

// InsertLogs streams a run's decision log.
func (c *Client) InsertLogs(ctx context.Context, runID string, logs []engine.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s.%s", c.cfg.Database, c.cfg.LogTable)
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %s", explainError(err))
	}
	now := time.Now().UTC()
	for _, l := range logs {
		if err := batch.Append(
			runID,
			int32(l.Group),
			int32(l.Asset),
			int32(l.Bar),
			l.Kind.String(),
			l.Status.String(),
			l.Reason,
			now,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %s", explainError(err))
	}
	return nil
}

// CountRecords reports the stored row count for one run.
func (c *Client) CountRecords(ctx context.Context, runID string) (uint64, error) {
	var count uint64
	q := fmt.Sprintf("SELECT count() FROM %s.%s WHERE run_id = ?", c.cfg.Database, c.cfg.Table)
	if err := c.conn.QueryRow(ctx, q, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %s", explainError(err))
	}
	return count, nil
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

func explainError(err error) string {
	var ex *chproto.Exception
	if errors.As(err, &ex) {
		return fmt.Sprintf("ClickHouse [%d] %s (%s)", ex.Code, ex.Message, ex.Name)
	}
	return err.Error()
}
