// Command migrate applies the SQL schema to the Postgres store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/allabud/auction-backend/internal/infrastructure/config"
)

func main() {
	var (
		source = flag.String("source", "file://migrations", "migration source")
		down   = flag.Bool("down", false, "roll back all migrations")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if cfg.Database.URL == "" {
		fatal(fmt.Errorf("database.url is not configured (set AUC_DATABASE_URL)"))
	}

	m, err := migrate.New(*source, cfg.Database.URL)
	if err != nil {
		fatal(err)
	}
	defer m.Close()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(err)
	}
	fmt.Println("migrations applied")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "migrate:", err)
	os.Exit(1)
}
