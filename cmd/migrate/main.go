package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fhayvy/Nexcredis/internal/config"
	"github.com/fhayvy/Nexcredis/internal/migrate"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/store/pg"
)

func main() {
	log := obs.Logger()
	var (
		dbURL   = flag.String("database", os.Getenv("NEXC_DATABASE_URL"), "journal database (postgres://... or sqlite:<path>)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("missing database: provide via -database or NEXC_DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}
	driver, dsn, err := config.Env{DatabaseURL: *dbURL}.Journal()
	if err != nil {
		log.WithError(err).Fatal("parse database url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, pg.Migrations(), migrate.WithLogger(log))

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			log.WithField("applied", applied).Info("migrations applied")
		}
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if err == nil {
			log.WithField("reverted", reverted).Info("migration reverted")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}
