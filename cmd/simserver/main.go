// Package main implements the simulation service with gRPC and HTTP
// APIs over a shared job queue.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "simkernel/proto"
	"simkernel/services/arrowpipeline"
	"simkernel/services/clickhouse"
	"simkernel/services/config"
	"simkernel/services/engine"
	"simkernel/services/marketdata"
	"simkernel/strategies"
)

const (
	jobQueued    = "queued"
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
)

type dataset struct {
	id      string
	symbols []string
	data    *engine.MarketData
}

type job struct {
	id      string
	req     *pb.SimulationRequest
	created time.Time
	done    chan struct{}

	mu       sync.Mutex
	status   string
	response *pb.SimulationResponse
	result   *engine.RunResult
	symbols  []string
	times    []int64
	err      error
}

// attachResult keeps the raw engine output for the Arrow export route.
func (j *job) attachResult(res *engine.RunResult, symbols []string, times []int64) {
	j.mu.Lock()
	j.result, j.symbols, j.times = res, symbols, times
	j.mu.Unlock()
}

func (j *job) setStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *job) finish(resp *pb.SimulationResponse, err error) {
	j.mu.Lock()
	if err != nil {
		j.status = jobFailed
		j.err = err
	} else {
		j.status = jobCompleted
		j.response = resp
	}
	j.mu.Unlock()
	close(j.done)
}

func (j *job) state() (string, *pb.SimulationResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.response, j.err
}

// SimulationService implements the gRPC simulation service and the
// HTTP API on top of one worker pool.
type SimulationService struct {
	pb.UnimplementedSimulationServiceServer
	clickhouse *clickhouse.Client // nil when disabled
	arrow      *arrowpipeline.Pipeline
	logger     *zap.Logger
	config     *config.Config

	mu       sync.RWMutex
	datasets map[string]*dataset
	jobs     map[string]*job

	jobChan chan *job
	wg      sync.WaitGroup
}

func NewSimulationService(cfg *config.Config, logger *zap.Logger) (*SimulationService, error) {
	s := &SimulationService{
		logger:   logger,
		config:   cfg,
		datasets: make(map[string]*dataset),
		jobs:     make(map[string]*job),
		jobChan:  make(chan *job, 64),
	}

	if err := s.loadDatasets(cfg.Engine.DataDir); err != nil {
		return nil, err
	}

	pipe, err := arrowpipeline.NewPipeline(&arrowpipeline.Config{BatchSize: cfg.Arrow.BatchSize}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow pipeline: %w", err)
	}
	s.arrow = pipe

	if cfg.ClickHouseEnabled {
		client, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ensure ClickHouse schema: %w", err)
		}
		s.clickhouse = client
	}

	numWorkers := runtime.NumCPU()
	if cfg.Engine.MaxWorkers > 0 {
		numWorkers = cfg.Engine.MaxWorkers
	}
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Info("simulation workers started", zap.Int("workers", numWorkers))
	return s, nil
}

// loadDatasets aligns every candle CSV under dir into one dataset
// named "default", one asset column per file.
func (s *SimulationService) loadDatasets(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		s.logger.Warn("no candle files found", zap.String("dir", dir))
		return nil
	}
	series := make([]*marketdata.Series, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		symbol := strings.TrimSuffix(base, filepath.Ext(base))
		sr, err := marketdata.LoadCSV(p, symbol)
		if err != nil {
			s.logger.Warn("skipping unreadable candle file", zap.String("path", p), zap.Error(err))
			continue
		}
		series = append(series, sr)
	}
	if len(series) == 0 {
		s.logger.Warn("no readable candle files", zap.String("dir", dir))
		return nil
	}
	data, symbols, err := marketdata.Align(series...)
	if err != nil {
		return err
	}
	s.datasets["default"] = &dataset{id: "default", symbols: symbols, data: data}
	s.logger.Info("dataset loaded",
		zap.String("dataset", "default"),
		zap.Strings("symbols", symbols),
		zap.Int("bars", data.Bars()),
	)
	return nil
}

func (s *SimulationService) dataset(id string) *dataset {
	if id == "" {
		id = "default"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datasets[id]
}

// submit queues a job; it fails fast when the queue is full.
func (s *SimulationService) submit(req *pb.SimulationRequest) (*job, error) {
	j := &job{
		id:      uuid.New().String(),
		req:     req,
		created: time.Now(),
		status:  jobQueued,
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	select {
	case s.jobChan <- j:
		return j, nil
	default:
		s.mu.Lock()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		return nil, fmt.Errorf("job queue is full")
	}
}

func (s *SimulationService) jobByID(id string) *job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// worker drains the job queue.
func (s *SimulationService) worker(workerID int) {
	defer s.wg.Done()
	for j := range s.jobChan {
		s.logger.Debug("worker picked job",
			zap.Int("worker_id", workerID),
			zap.String("job_id", j.id),
		)
		j.setStatus(jobRunning)
		resp, err := s.executeJob(j)
		if err != nil {
			s.logger.Error("simulation job failed",
				zap.String("job_id", j.id),
				zap.Error(err),
			)
		}
		j.finish(resp, err)
	}
}

func (s *SimulationService) executeJob(j *job) (*pb.SimulationResponse, error) {
	start := time.Now()
	ds := s.dataset(j.req.DatasetId)
	if ds == nil {
		return nil, fmt.Errorf("unknown dataset %q", j.req.DatasetId)
	}
	data, symbols, err := subsetColumns(ds.data, ds.symbols, j.req.Symbols)
	if err != nil {
		return nil, err
	}

	cfg, in, err := buildRun(j.req, data)
	if err != nil {
		return nil, err
	}
	sim, err := engine.New(cfg, in)
	if err != nil {
		return nil, err
	}
	res, err := sim.RunParallel(s.config.Engine.MaxWorkers)
	if err != nil {
		return nil, err
	}
	res.Manifest.RunID = j.id
	j.attachResult(res, symbols, data.Times)

	if s.clickhouse != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.clickhouse.InsertRecords(ctx, j.id, res.Records, symbols, data.Times); err != nil {
			s.logger.Error("failed to store records", zap.String("job_id", j.id), zap.Error(err))
		} else if err := s.clickhouse.InsertLogs(ctx, j.id, res.Logs); err != nil {
			s.logger.Error("failed to store logs", zap.String("job_id", j.id), zap.Error(err))
		}
		cancel()
	}

	elapsed := time.Since(start)
	s.logger.Info("simulation completed",
		zap.String("job_id", j.id),
		zap.Int("records", len(res.Records)),
		zap.Duration("elapsed", elapsed),
	)
	return convertResponse(j.id, res, symbols, data.Times, elapsed), nil
}

// RunSimulation queues the request and blocks until the job finishes.
func (s *SimulationService) RunSimulation(ctx context.Context, req *pb.SimulationRequest) (*pb.SimulationResponse, error) {
	s.logger.Info("simulation requested",
		zap.Strings("symbols", req.Symbols),
		zap.String("dataset", req.DatasetId),
	)
	j, err := s.submit(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-j.done:
	}
	_, resp, jerr := j.state()
	if jerr != nil {
		return nil, jerr
	}
	return resp, nil
}

// GetSimulation reports a queued, running or finished job.
func (s *SimulationService) GetSimulation(_ context.Context, req *pb.GetSimulationRequest) (*pb.SimulationResponse, error) {
	j := s.jobByID(req.JobId)
	if j == nil {
		return nil, fmt.Errorf("unknown job %q", req.JobId)
	}
	status, resp, err := j.state()
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &pb.SimulationResponse{JobId: j.id, Status: status}, nil
}

// Close drains the worker pool and releases the sink.
func (s *SimulationService) Close() {
	close(s.jobChan)
	s.wg.Wait()
	if s.clickhouse != nil {
		s.clickhouse.Close()
	}
	s.arrow.Close()
}

// HTTP handlers for the REST API
func (s *SimulationService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/simulations", s.handleSubmit)
		api.GET("/simulations/:job_id", s.handleGetSimulation)
		api.GET("/simulations/:job_id/arrow", s.handleArrowExport)
		api.GET("/datasets", s.handleDatasets)
		api.GET("/health", s.handleHealthCheck)
	}
}

func (s *SimulationService) handleSubmit(c *gin.Context) {
	var req pb.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := s.submit(&req)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": j.id, "status": jobQueued})
}

func (s *SimulationService) handleGetSimulation(c *gin.Context) {
	j := s.jobByID(c.Param("job_id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	status, resp, err := j.state()
	switch {
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"job_id": j.id, "status": status, "error": err.Error()})
	case resp != nil:
		c.JSON(http.StatusOK, resp)
	default:
		c.JSON(http.StatusOK, gin.H{"job_id": j.id, "status": status})
	}
}

// handleArrowExport streams a finished job's order records as one
// Arrow IPC stream.
func (s *SimulationService) handleArrowExport(c *gin.Context) {
	j := s.jobByID(c.Param("job_id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	j.mu.Lock()
	status, res, symbols, times := j.status, j.result, j.symbols, j.times
	j.mu.Unlock()
	if res == nil {
		c.JSON(http.StatusConflict, gin.H{"job_id": j.id, "status": status})
		return
	}
	if len(res.Records) == 0 {
		c.JSON(http.StatusOK, gin.H{"job_id": j.id, "records": 0})
		return
	}
	data, err := s.arrow.ConvertRecords(j.id, res.Records, symbols, times)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", data)
}

func (s *SimulationService) handleDatasets(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gin.H, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, gin.H{
			"id":      ds.id,
			"symbols": ds.symbols,
			"bars":    ds.data.Bars(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"datasets": out})
}

func (s *SimulationService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   engine.Version,
	})
}

// subsetColumns narrows aligned data to the requested symbols, in
// request order. An empty request keeps every column.
func subsetColumns(data *engine.MarketData, symbols, want []string) (*engine.MarketData, []string, error) {
	if len(want) == 0 {
		return data, symbols, nil
	}
	colOf := make(map[string]int, len(symbols))
	for i, sym := range symbols {
		colOf[sym] = i
	}
	cols := make([]int, len(want))
	for i, sym := range want {
		col, ok := colOf[sym]
		if !ok {
			return nil, nil, fmt.Errorf("unknown symbol %q", sym)
		}
		cols[i] = col
	}
	bars := data.Bars()
	out := &engine.MarketData{
		Open:  make([][]float64, bars),
		High:  make([][]float64, bars),
		Low:   make([][]float64, bars),
		Close: make([][]float64, bars),
		Times: data.Times,
	}
	for bar := 0; bar < bars; bar++ {
		o := make([]float64, len(cols))
		h := make([]float64, len(cols))
		l := make([]float64, len(cols))
		cl := make([]float64, len(cols))
		for i, col := range cols {
			o[i] = data.Open[bar][col]
			h[i] = data.High[bar][col]
			l[i] = data.Low[bar][col]
			cl[i] = data.Close[bar][col]
		}
		out.Open[bar] = o
		out.High[bar] = h
		out.Low[bar] = l
		out.Close[bar] = cl
	}
	return out, append([]string(nil), want...), nil
}

// buildRun translates the wire request into engine inputs.
func buildRun(req *pb.SimulationRequest, data *engine.MarketData) (engine.SimConfig, engine.RunInputs, error) {
	var zero engine.SimConfig
	assets := data.Assets()

	initCash, err := parseDec(req.InitCash, 10000)
	if err != nil {
		return zero, engine.RunInputs{}, fmt.Errorf("init_cash: %w", err)
	}
	cfg := engine.DefaultConfig(initCash, assets)
	if !req.CashSharing && assets > 1 {
		groups := make([][]int, assets)
		cash := make([]float64, assets)
		for i := 0; i < assets; i++ {
			groups[i] = []int{i}
			cash[i] = initCash / float64(assets)
		}
		cfg.Groups = groups
		cfg.InitCash = cash
		cfg.CashSharing = false
	}

	switch req.CallPolicy {
	case pb.CallPolicy_AUTO:
		cfg.CallSeq = engine.CallSeqAuto
	default:
		cfg.CallSeq = engine.CallSeqDefault
	}
	switch req.RefPrice {
	case pb.RefPricePolicy_OPEN:
		cfg.Ref = engine.RefOpen
	case pb.RefPricePolicy_NEXT_OPEN:
		cfg.Ref = engine.RefNextOpen
	default:
		cfg.Ref = engine.RefClose
	}
	switch req.StopFill {
	case pb.StopFillPolicy_BAR_CLOSE:
		cfg.StopExit = engine.StopPriceClose
	default:
		cfg.StopExit = engine.StopPriceLevel
	}
	if req.Leverage != nil {
		factor, err := parseDec(req.Leverage.Factor, 1)
		if err != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("leverage: %w", err)
		}
		cfg.Leverage = factor
		switch req.Leverage.Mode {
		case pb.LeverageMode_LAZY:
			cfg.LeverageMode = engine.LeverageLazy
		case pb.LeverageMode_EAGER:
			cfg.LeverageMode = engine.LeverageEager
		default:
			cfg.LeverageMode = engine.LeverageNone
		}
	}
	if req.Fees != nil {
		maker, err1 := parseDec(req.Fees.MakerPct, 0)
		taker, err2 := parseDec(req.Fees.TakerPct, 0)
		fixed, err3 := parseDec(req.Fees.Fixed, 0)
		if err1 != nil || err2 != nil || err3 != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("bad fee spec")
		}
		cfg.Fees = engine.PercentFee{Maker: maker, Taker: taker, Fixed: fixed}
	}
	if strings.TrimSpace(req.SlippagePct) != "" {
		rate, err := parseDec(req.SlippagePct, 0)
		if err != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("slippage_pct: %w", err)
		}
		cfg.Slippage = engine.PercentSlippage{Rate: rate}
	}
	cfg.EnableLogs = req.WithLogs

	strat, err := buildStrategy(req.Strategy, data)
	if err != nil {
		return zero, engine.RunInputs{}, err
	}

	in := engine.RunInputs{Data: data, Strategy: strat}
	if req.Stops != nil {
		bars := data.Bars()
		if in.SL, err = stopGrid(req.Stops.SlPct, bars, assets); err != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("sl_pct: %w", err)
		}
		if in.TSL, err = stopGrid(req.Stops.TslPct, bars, assets); err != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("tsl_pct: %w", err)
		}
		if in.TP, err = stopGrid(req.Stops.TpPct, bars, assets); err != nil {
			return zero, engine.RunInputs{}, fmt.Errorf("tp_pct: %w", err)
		}
		if req.Stops.TimeBars > 0 {
			in.TimeStop = fillGrid(bars, assets, float64(req.Stops.TimeBars))
		}
	}
	return cfg, in, nil
}

func buildStrategy(spec *pb.StrategySpec, data *engine.MarketData) (engine.Strategy, error) {
	kind := "macross"
	if spec != nil && spec.Kind != "" {
		kind = spec.Kind
	}
	size := math.NaN()
	if spec != nil && strings.TrimSpace(spec.Size) != "" {
		v, err := parseDec(spec.Size, 0)
		if err != nil {
			return nil, fmt.Errorf("strategy size: %w", err)
		}
		size = v
	}
	switch kind {
	case "macross":
		s := strategies.NewMACrossStrategy()
		if spec != nil {
			if spec.Fast > 0 {
				s.Fast = int(spec.Fast)
			}
			if spec.Slow > 0 {
				s.Slow = int(spec.Slow)
			}
			s.AllowShort = spec.AllowShort
		}
		s.Size = size
		return s.Build(data)
	case "breakout":
		b := strategies.NewBreakoutStrategy()
		if spec != nil {
			if spec.Lookback > 0 {
				b.Lookback = int(spec.Lookback)
			}
			b.AllowShort = spec.AllowShort
		}
		b.Size = size
		if err := b.Prepare(data); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", kind)
}

func stopGrid(raw string, bars, assets int) ([][]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := parseDec(raw, 0)
	if err != nil {
		return nil, err
	}
	return fillGrid(bars, assets, v), nil
}

func fillGrid(bars, assets int, v float64) [][]float64 {
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

func parseDec(raw string, def float64) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	v, _ := d.Float64()
	return v, nil
}

func decStr(v float64) string { return decimal.NewFromFloat(v).String() }

func convertResponse(jobID string, res *engine.RunResult, symbols []string, times []int64, elapsed time.Duration) *pb.SimulationResponse {
	resp := &pb.SimulationResponse{
		JobId:         jobID,
		Status:        jobCompleted,
		ExecutionTime: elapsed.Milliseconds(),
		Manifest: &pb.RunManifest{
			JobId:         jobID,
			ConfigHash:    res.Manifest.ConfigHash,
			Bars:          int32(res.Manifest.Bars),
			Assets:        int32(res.Manifest.Assets),
			EngineVersion: res.Manifest.Version,
			CreatedAt:     int64(res.Manifest.CreatedAt),
		},
	}
	for _, rec := range res.Records {
		side := pb.TradeSide_BUY
		if rec.Side == engine.Sell {
			side = pb.TradeSide_SELL
		}
		sym := strconv.Itoa(rec.Asset)
		if rec.Asset < len(symbols) {
			sym = symbols[rec.Asset]
		}
		ts := int64(0)
		if rec.Bar < len(times) {
			ts = times[rec.Bar]
		}
		resp.Records = append(resp.Records, &pb.OrderRecord{
			Seq:       rec.Seq,
			Group:     int32(rec.Group),
			Asset:     int32(rec.Asset),
			Symbol:    sym,
			Bar:       int32(rec.Bar),
			Timestamp: ts,
			Side:      side,
			Size:      decStr(rec.Size),
			Price:     decStr(rec.Price),
			Fees:      decStr(rec.Fees),
			Kind:      rec.Kind.String(),
			StopKind:  rec.Stop.String(),
		})
	}
	for _, l := range res.Logs {
		resp.Logs = append(resp.Logs, &pb.LogRecord{
			Group:  int32(l.Group),
			Asset:  int32(l.Asset),
			Bar:    int32(l.Bar),
			Kind:   l.Kind.String(),
			Status: l.Status.String(),
			Reason: l.Reason,
		})
	}
	for _, snap := range res.Snapshots {
		resp.Groups = append(resp.Groups, &pb.GroupState{
			Group:    int32(snap.Group),
			Cash:     decStr(snap.Cash),
			Debt:     decStr(snap.Debt),
			Realized: decStr(snap.Realized),
			EndBar:   int32(snap.EndBar),
		})
	}
	return resp
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting simulation service",
		zap.String("version", engine.Version),
		zap.String("environment", cfg.Environment),
	)

	service, err := NewSimulationService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create simulation service", zap.Error(err))
	}

	grpcServer := grpc.NewServer()
	pb.RegisterSimulationServiceServer(grpcServer, service)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.setupHTTPRoutes(httpRouter)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpRouter.Run(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	grpcServer.GracefulStop()
	service.Close()
	logger.Info("Servers stopped")
}
