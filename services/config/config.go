// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"simkernel/services/clickhouse"
)

type ServerConfig struct {
	HTTPPort int
	GRPCPort int
}

type EngineConfig struct {
	MaxWorkers int // 0 = one per CPU
	DataDir    string
}

type ArrowConfig struct {
	BatchSize int
}

type Config struct {
	Environment string
	Server      ServerConfig
	Engine      EngineConfig
	Arrow       ArrowConfig

	ClickHouse        clickhouse.Config
	ClickHouseEnabled bool
}

// Load reads configuration from environment variables, falling back to
// local-development defaults.
func Load() (*Config, error) {
	httpPort, err := intEnv("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	grpcPort, err := intEnv("GRPC_PORT", 9090)
	if err != nil {
		return nil, err
	}
	workers, err := intEnv("MAX_WORKERS", 0)
	if err != nil {
		return nil, err
	}
	arrowBatch, err := intEnv("ARROW_BATCH_SIZE", 65536)
	if err != nil {
		return nil, err
	}
	chBatch, err := intEnv("CH_BATCH_SIZE", 10000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: env("ENVIRONMENT", "development"),
		Server: ServerConfig{
			HTTPPort: httpPort,
			GRPCPort: grpcPort,
		},
		Engine: EngineConfig{
			MaxWorkers: workers,
			DataDir:    env("DATA_DIR", "./data"),
		},
		Arrow: ArrowConfig{
			BatchSize: arrowBatch,
		},
		ClickHouse: clickhouse.Config{
			Addr:      env("CH_ADDR", "localhost:9000"),
			Database:  env("CH_DATABASE", "simkernel"),
			Table:     env("CH_TABLE", "order_records"),
			LogTable:  env("CH_LOG_TABLE", "decision_logs"),
			Username:  env("CH_USER", "default"),
			Password:  env("CH_PASSWORD", ""),
			HTTPURL:   env("CH_HTTP_URL", "http://localhost:8123"),
			BatchSize: chBatch,
		},
		ClickHouseEnabled: boolEnv("CH_ENABLED", false),
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	return strings.EqualFold(raw, "true") || raw == "1"
}
