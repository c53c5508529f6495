// Package main provides the starlink-api server for satellite position queries.
//
// Usage:
//
//	starlink-api [options]
//
// Options:
//
//	-backend NAME       postgres, clickhouse or sqlite (default: postgres, env: STORE_BACKEND)
//	-pg-host HOST       PostgreSQL host (default: localhost, env: POSTGRES_HOST)
//	-pg-port PORT       PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB     PostgreSQL database (default: postgres, env: POSTGRES_DATABASE)
//	-pg-user USER       PostgreSQL user (default: postgres, env: POSTGRES_USER)
//	-pg-password PASS   PostgreSQL password (default: postgres, env: POSTGRES_PASSWORD)
//	-ch-*               ClickHouse equivalents (env: CLICKHOUSE_*)
//	-sqlite-path PATH   SQLite file (env: SQLITE_PATH)
//	-port N             HTTP port (default: 8081)
//	-auth               Enable API key authentication
//	-api-keys KEYS      Comma-separated list of valid API keys
//	-nats-url URL       Also answer queries over NATS (env: NATS_URL)
//
// API Endpoints:
//
//	GET /api/v1/health
//	GET /api/v1/satellites/{satellite_id}/position?date_lower_bound=&date_upper_bound=
//	GET /api/v1/closest?latitude=&longitude=&date_lower_bound=&date_upper_bound=
//	GET /metrics
//
// NATS subjects (request/reply, JSON):
//
//	starlink.query.last_position
//	starlink.query.closest
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"starlink_history/internal/api"
	"starlink_history/internal/natsapi"
	"starlink_history/internal/query"
	"starlink_history/internal/storage"
)

func main() {
	cfg := storage.DefaultConfig()

	flag.StringVar(&cfg.Backend, "backend", envOrDefault("STORE_BACKEND", cfg.Backend), "Storage backend: postgres, clickhouse or sqlite")

	// PostgreSQL connection flags.
	flag.StringVar(&cfg.Postgres.Host, "pg-host", envOrDefault("POSTGRES_HOST", cfg.Postgres.Host), "PostgreSQL host")
	flag.IntVar(&cfg.Postgres.Port, "pg-port", envOrDefaultInt("POSTGRES_PORT", cfg.Postgres.Port), "PostgreSQL port")
	flag.StringVar(&cfg.Postgres.User, "pg-user", envOrDefault("POSTGRES_USER", cfg.Postgres.User), "PostgreSQL user")
	flag.StringVar(&cfg.Postgres.Password, "pg-password", envOrDefault("POSTGRES_PASSWORD", cfg.Postgres.Password), "PostgreSQL password")
	flag.StringVar(&cfg.Postgres.Database, "pg-database", envOrDefault("POSTGRES_DATABASE", cfg.Postgres.Database), "PostgreSQL database")

	// ClickHouse connection flags.
	flag.StringVar(&cfg.ClickHouse.Host, "ch-host", envOrDefault("CLICKHOUSE_HOST", cfg.ClickHouse.Host), "ClickHouse host")
	flag.IntVar(&cfg.ClickHouse.Port, "ch-port", envOrDefaultInt("CLICKHOUSE_PORT", cfg.ClickHouse.Port), "ClickHouse native port")
	flag.StringVar(&cfg.ClickHouse.User, "ch-user", envOrDefault("CLICKHOUSE_USER", cfg.ClickHouse.User), "ClickHouse user")
	flag.StringVar(&cfg.ClickHouse.Password, "ch-password", envOrDefault("CLICKHOUSE_PASSWORD", cfg.ClickHouse.Password), "ClickHouse password")
	flag.StringVar(&cfg.ClickHouse.Database, "ch-database", envOrDefault("CLICKHOUSE_DATABASE", cfg.ClickHouse.Database), "ClickHouse database")

	flag.StringVar(&cfg.SQLite.Path, "sqlite-path", envOrDefault("SQLITE_PATH", cfg.SQLite.Path), "SQLite database file")

	// API server flags.
	port := flag.Int("port", envOrDefaultInt("API_PORT", 8081), "HTTP port for API server")
	authEnabled := flag.Bool("auth", false, "Enable API key authentication")
	apiKeys := flag.String("api-keys", envOrDefault("API_KEYS", ""), "Comma-separated list of valid API keys (when auth enabled)")
	natsURL := flag.String("nats-url", envOrDefault("NATS_URL", ""), "NATS server URL; empty disables the NATS responder")
	logLevel := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	keys := parseAPIKeys(*apiKeys)

	if err := run(cfg, api.Config{Port: *port, AuthEnabled: *authEnabled, APIKeys: keys}, *natsURL, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves queries until SIGINT or SIGTERM. Every resource it opens is
// released before it returns.
func run(cfg storage.Config, apiCfg api.Config, natsURL string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	defer store.Close()

	engine := query.NewEngine(store, logger)

	if natsURL != "" {
		nc, err := nats.Connect(natsURL,
			nats.Name("starlink-api"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Drain()

		svc := natsapi.NewService(engine, 10*time.Second, logger)
		if err := svc.Start(nc); err != nil {
			return fmt.Errorf("start NATS responder: %w", err)
		}
		defer svc.Stop()
	}

	return api.NewServer(engine, apiCfg, logger).Run(ctx)
}

// parseAPIKeys splits a comma-separated key list.
func parseAPIKeys(s string) []string {
	if s == "" {
		return nil
	}
	keys := strings.Split(s, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	return keys
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
