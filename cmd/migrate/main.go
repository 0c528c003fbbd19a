package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tisp.org/internal/config"
	"tisp.org/internal/migrate"
	"tisp.org/internal/obs"
	"tisp.org/ops/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	dsn := flag.String("dsn", cfg.PostgresDSN, "PostgreSQL DSN")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	migrationsTable := flag.String("migrations-table", "schema_migrations", "Bookkeeping table for schema migrations")
	seedsTable := flag.String("seeds-table", "schema_seeds", "Bookkeeping table for seeds")
	flag.Parse()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or TRUST_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db,
		migrate.Source{FS: migrations.SQL, Dir: "sql"},
		migrate.Source{FS: migrations.Seeds, Dir: "seeds"},
		migrate.WithMigrationsTable(*migrationsTable),
		migrate.WithSeedsTable(*seedsTable),
	)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", cmd))
}
