package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"ms-orders/internal/config"
	"ms-orders/internal/database/migrations"
	"ms-orders/internal/logger"
)

func main() {
	action := flag.String("action", "run", "run | up | down | to | version")
	version := flag.Uint("version", 0, "target version for -action=to")
	seed := flag.Bool("seed", false, "include seed data migrations")
	flag.Parse()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to open database: %v", err))
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	runner := migrations.NewRunner(sqlDB, migrations.Options{
		MigrationsDir: cfg.Database.MigrationsDir,
		SeedData:      *seed,
	}, log)
	defer runner.Close()

	switch *action {
	case "run":
		err = runner.Run()
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "to":
		err = runner.To(*version)
	case "version":
		v, dirty, verr := runner.Version()
		if verr == nil {
			log.Info("MIGRATE", fmt.Sprintf("version=%d dirty=%t", v, dirty))
		}
		err = verr
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", *action)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("%s done", *action))
}
