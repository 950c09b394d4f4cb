package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"gradify.org/internal/migrate"
	"gradify.org/internal/obs"
	"gradify.org/internal/store/pg"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("VESTING_PG_DSN"), "PostgreSQL DSN (or set VESTING_PG_DSN)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall deadline")
		verbose = flag.Bool("verbose", false, "enable verbose (debug) logging")
		list    = flag.Bool("list", false, "print the embedded migration files and exit")
	)
	flag.Parse()

	log := obs.Setup("gradify-migrate", "", "text", *verbose)

	if *list {
		files, err := migrate.Files()
		if err != nil {
			fail(log, "list migrations", err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return
	}
	if *dsn == "" {
		fail(log, "missing DSN", fmt.Errorf("provide --dsn or VESTING_PG_DSN"))
	}
	if flag.NArg() == 0 {
		fail(log, "usage", fmt.Errorf("migrate [up|down|status|version]"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		fail(log, "open db", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), log)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		err = mgr.Status(ctx)
	case "version":
		var v int64
		if v, err = mgr.Version(ctx); err == nil {
			fmt.Println(v)
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		cancel()
		fail(log, "migrate "+flag.Arg(0), err)
	}
}

func fail(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
