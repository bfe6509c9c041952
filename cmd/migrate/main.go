package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	dir     string
	name    string
	version string
}

type command struct {
	needsDB bool
	run     func(ctx context.Context, opts options, runner *migrate.Runner) error
}

var commands = map[string]command{
	"create": {run: func(_ context.Context, opts options, _ *migrate.Runner) error {
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	}},
	"validate": {run: func(_ context.Context, opts options, _ *migrate.Runner) error {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}},
	"up": {needsDB: true, run: func(ctx context.Context, _ options, r *migrate.Runner) error {
		return r.Up(ctx)
	}},
	"down": {needsDB: true, run: func(ctx context.Context, _ options, r *migrate.Runner) error {
		return r.Down(ctx)
	}},
	"status": {needsDB: true, run: func(ctx context.Context, _ options, r *migrate.Runner) error {
		statuses, err := r.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
		}
		return tw.Flush()
	}},
	"version": {needsDB: true, run: func(ctx context.Context, opts options, r *migrate.Runner) error {
		if opts.version == "" {
			current, err := r.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println("current version:", current)
			return nil
		}
		return r.ToVersion(ctx, opts.version)
	}},
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmdName := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (for version; empty prints the current one)")
	flag.Parse()

	cmd, ok := commands[*cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want %s)\n", *cmdName, commandNames())
		os.Exit(2)
	}

	cfg, err := config.Load()
	exitOn(context.Background(), logg, "load config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmdName,
		"dir": opts.dir,
	})

	var runner *migrate.Runner
	if cmd.needsDB {
		if cfg.FeatureFlags.UseSQLite {
			exitOn(ctx, logg, "goose migrations", errors.New("sqlite schemas are auto-migrated; unset PACKFINDERZ_USE_SQLITE"))
		}
		dbClient, err := db.New(ctx, cfg.DB, false, logg)
		exitOn(ctx, logg, "connect database", err)
		defer dbClient.Close()

		sqlDB, err := dbClient.DB().DB()
		exitOn(ctx, logg, "extract sql.DB", err)
		runner, err = migrate.NewRunner(sqlDB, opts.dir, logg)
		exitOn(ctx, logg, "prepare migrations", err)
	}

	logg.Info(ctx, "migrate ready")
	exitOn(ctx, logg, *cmdName, cmd.run(ctx, opts, runner))
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}
