package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Fatalf("ports = %d/%d", cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	}
	if cfg.ClickHouse.Database != "simkernel" || cfg.ClickHouse.Addr != "localhost:9000" {
		t.Fatalf("clickhouse = %+v", cfg.ClickHouse)
	}
	if cfg.ClickHouseEnabled {
		t.Fatal("clickhouse should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "18080")
	t.Setenv("CH_ENABLED", "true")
	t.Setenv("CH_USER", "writer")
	t.Setenv("MAX_WORKERS", "4")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 18080 {
		t.Fatalf("http port = %d", cfg.Server.HTTPPort)
	}
	if !cfg.ClickHouseEnabled || cfg.ClickHouse.Username != "writer" {
		t.Fatalf("clickhouse = %v %+v", cfg.ClickHouseEnabled, cfg.ClickHouse)
	}
	if cfg.Engine.MaxWorkers != 4 {
		t.Fatalf("workers = %d", cfg.Engine.MaxWorkers)
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("GRPC_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed port")
	}
}
