// Command starlink manages the Starlink position history store and runs
// one-off queries against it.
//
// Usage:
//
//	starlink <command> [options]
//
// Commands:
//
//	schema          create the table (hypertable on TimescaleDB)
//	load            fetch the telemetry feed and bulk insert it
//	last-position   print a satellite's last known position
//	closest         print the satellite closest to a point
//	drop            drop the table
//
// Storage options are shared by every command; see -h on any command.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"starlink_history/internal/geo"
	"starlink_history/internal/ingest"
	"starlink_history/internal/query"
	"starlink_history/internal/storage"
	"starlink_history/internal/timewindow"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "starlink - commands:")
	fmt.Fprintln(w, "  schema         - create the starlink_historical_data table")
	fmt.Fprintln(w, "  load           - fetch the telemetry feed and insert it")
	fmt.Fprintln(w, "  last-position  - last known position of a satellite")
	fmt.Fprintln(w, "  closest        - satellite closest to a point")
	fmt.Fprintln(w, "  drop           - drop the starlink_historical_data table")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  starlink schema [-backend postgres|clickhouse|sqlite]")
	fmt.Fprintln(w, "  starlink load [-source URL] [-batch N]")
	fmt.Fprintln(w, "  starlink last-position -id SATELLITE_ID [-from DATE] [-to DATE]")
	fmt.Fprintln(w, "  starlink closest -lat LAT -lon LON [-from DATE] [-to DATE]")
	fmt.Fprintln(w, "  starlink drop")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Dates are YYYY-MM-DD or YYYY-MM-DD HH:MM:SS (UTC). Bounds are exclusive.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "schema":
		err = runSchema(ctx, os.Args[2:])
	case "load":
		err = runLoad(ctx, os.Args[2:])
	case "last-position":
		err = runLastPosition(ctx, os.Args[2:])
	case "closest":
		err = runClosest(ctx, os.Args[2:])
	case "drop":
		err = runDrop(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags holds the storage and logging flags shared by every command.
type commonFlags struct {
	cfg      storage.Config
	logLevel string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{cfg: storage.DefaultConfig()}

	fs.StringVar(&c.cfg.Backend, "backend", envOrDefault("STORE_BACKEND", c.cfg.Backend), "Storage backend: postgres, clickhouse or sqlite")

	fs.StringVar(&c.cfg.Postgres.Host, "pg-host", envOrDefault("POSTGRES_HOST", c.cfg.Postgres.Host), "PostgreSQL host")
	fs.IntVar(&c.cfg.Postgres.Port, "pg-port", envOrDefaultInt("POSTGRES_PORT", c.cfg.Postgres.Port), "PostgreSQL port")
	fs.StringVar(&c.cfg.Postgres.User, "pg-user", envOrDefault("POSTGRES_USER", c.cfg.Postgres.User), "PostgreSQL user")
	fs.StringVar(&c.cfg.Postgres.Password, "pg-password", envOrDefault("POSTGRES_PASSWORD", c.cfg.Postgres.Password), "PostgreSQL password")
	fs.StringVar(&c.cfg.Postgres.Database, "pg-database", envOrDefault("POSTGRES_DATABASE", c.cfg.Postgres.Database), "PostgreSQL database")

	fs.StringVar(&c.cfg.ClickHouse.Host, "ch-host", envOrDefault("CLICKHOUSE_HOST", c.cfg.ClickHouse.Host), "ClickHouse host")
	fs.IntVar(&c.cfg.ClickHouse.Port, "ch-port", envOrDefaultInt("CLICKHOUSE_PORT", c.cfg.ClickHouse.Port), "ClickHouse native port")
	fs.StringVar(&c.cfg.ClickHouse.User, "ch-user", envOrDefault("CLICKHOUSE_USER", c.cfg.ClickHouse.User), "ClickHouse user")
	fs.StringVar(&c.cfg.ClickHouse.Password, "ch-password", envOrDefault("CLICKHOUSE_PASSWORD", c.cfg.ClickHouse.Password), "ClickHouse password")
	fs.StringVar(&c.cfg.ClickHouse.Database, "ch-database", envOrDefault("CLICKHOUSE_DATABASE", c.cfg.ClickHouse.Database), "ClickHouse database")

	fs.StringVar(&c.cfg.SQLite.Path, "sqlite-path", envOrDefault("SQLITE_PATH", c.cfg.SQLite.Path), "SQLite database file")

	fs.StringVar(&c.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	return c
}

func (c *commonFlags) open(ctx context.Context) (storage.Store, *slog.Logger, error) {
	logger := newLogger(c.logLevel)
	store, err := storage.Open(ctx, c.cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("store opened", "backend", c.cfg.Backend)
	return store, logger, nil
}

func runSchema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	common := registerCommon(fs)
	_ = fs.Parse(args)

	store, logger, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		return err
	}
	logger.Info("schema ready", "backend", common.cfg.Backend, "table", storage.TableName)
	return nil
}

func runLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	common := registerCommon(fs)
	source := fs.String("source", envOrDefault("STARLINK_SOURCE_URL", ingest.DefaultSourceURL), "URL of the telemetry JSON document")
	batch := fs.Int("batch", ingest.DefaultBatchSize, "Records per insert batch")
	noSchema := fs.Bool("no-schema", false, "Skip table creation before loading")
	_ = fs.Parse(args)

	store, logger, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if !*noSchema {
		if err := store.CreateSchema(ctx); err != nil {
			return err
		}
	}

	n, err := ingest.NewLoader(ingest.NewFetcher(*source), store, *batch, logger).Load(ctx)
	if err != nil {
		return err
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("load complete", "inserted", n, "total", total)
	return nil
}

func runLastPosition(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("last-position", flag.ExitOnError)
	common := registerCommon(fs)
	id := fs.String("id", "", "Satellite identifier (required)")
	from := fs.String("from", "", "Exclusive lower bound")
	to := fs.String("to", "", "Exclusive upper bound")
	_ = fs.Parse(args)

	if *id == "" {
		fs.Usage()
		return fmt.Errorf("-id is required")
	}

	store, logger, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pos, err := query.NewEngine(store, logger).LastPosition(ctx, *id, timewindow.NewBounds(*from, *to))
	if err != nil {
		return err
	}
	if pos == nil {
		return printJSON(map[string]any{"satellite_id": *id, "found": false})
	}
	return printJSON(map[string]any{
		"satellite_id": *id,
		"found":        true,
		"latitude":     pos.Latitude,
		"longitude":    pos.Longitude,
	})
}

func runClosest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("closest", flag.ExitOnError)
	common := registerCommon(fs)
	lat := fs.String("lat", "", "Latitude in degrees (required)")
	lon := fs.String("lon", "", "Longitude in degrees (required)")
	from := fs.String("from", "", "Exclusive lower bound")
	to := fs.String("to", "", "Exclusive upper bound")
	_ = fs.Parse(args)

	latitude, err := geo.ParseDegrees(*lat)
	if err != nil {
		return fmt.Errorf("invalid -lat: %w", err)
	}
	longitude, err := geo.ParseDegrees(*lon)
	if err != nil {
		return fmt.Errorf("invalid -lon: %w", err)
	}

	store, logger, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	match, err := query.NewEngine(store, logger).ClosestSatellite(ctx, geo.NewPoint(latitude, longitude), timewindow.NewBounds(*from, *to))
	if err != nil {
		return err
	}
	if match == nil {
		return printJSON(map[string]any{"found": false})
	}
	return printJSON(map[string]any{
		"found":        true,
		"satellite_id": match.SatelliteID,
		"distance_km":  match.DistanceKm,
	})
}

func runDrop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drop", flag.ExitOnError)
	common := registerCommon(fs)
	_ = fs.Parse(args)

	store, logger, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Drop(ctx); err != nil {
		return err
	}
	logger.Info("table dropped", "table", storage.TableName)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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
