package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type runner struct {
	out  io.Writer
	dir  string
	logg *logger.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	r := &runner{out: out, logg: logger.New(logger.Options{ServiceName: "migrate", Output: os.Stderr})}
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply and author the Postgres schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&r.dir, "dir", "", "read migrations from this directory instead of the embedded set")

	root.AddCommand(
		r.dbCommand("up", "Apply every pending migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) (any, error) {
				return m.Up(ctx)
			}),
		r.dbCommand("down", "Roll back the newest migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) (any, error) {
				return m.Down(ctx)
			}),
		r.dbCommand("status", "List migrations and whether they are applied", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) (any, error) {
				return m.Status(ctx)
			}),
		r.dbCommand("to <version>", "Migrate up or down to a version", cobra.ExactArgs(1),
			func(ctx context.Context, m *migrate.Migrator, args []string) (any, error) {
				version, err := migrate.ParseVersion(args[0])
				if err != nil {
					return nil, err
				}
				return m.To(ctx, version)
			}),
		r.createCommand(),
		r.validateCommand(),
	)
	return root
}

type dbAction func(ctx context.Context, m *migrate.Migrator, args []string) (any, error)

// dbCommand opens the configured database, runs action and prints its result
// as JSON.
func (r *runner) dbCommand(use, short string, args cobra.PositionalArgs, action dbAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			r.logg = logger.New(logger.Options{
				ServiceName: "migrate",
				Level:       logger.ParseLevel(cfg.App.LogLevel),
				WarnStack:   cfg.App.LogWarnStack,
				Output:      os.Stderr,
			})
			ctx = r.logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd.Name(), "dir": r.dir})

			client, err := db.New(ctx, cfg.DB, r.logg)
			if err != nil {
				r.logg.Error(ctx, "migrate.db_unavailable", err)
				return err
			}
			defer client.Close()
			sqlDB, err := client.DB().DB()
			if err != nil {
				return err
			}

			m, err := migrate.New(sqlDB, migrate.Source(r.dir))
			if err != nil {
				return err
			}
			result, err := action(ctx, m, argv)
			if err != nil {
				r.logg.Error(ctx, "migrate.failed", err)
				return err
			}
			r.logg.Info(ctx, "migrate.done")
			return r.print(result)
		},
	}
}

func (r *runner) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty migration into --dir (default " + migrate.DefaultDir + ")",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := r.dir
			if dir == "" {
				dir = migrate.DefaultDir
			}
			name := args[0]
			for _, word := range args[1:] {
				name += " " + word
			}
			path, err := migrate.Create(dir, name, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(r.out, path)
			return err
		},
	}
}

func (r *runner) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check migration names and Up/Down sections without a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.Validate(migrate.Source(r.dir)); err != nil {
				return err
			}
			_, err := fmt.Fprintln(r.out, "migrations valid")
			return err
		},
	}
}

func (r *runner) print(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
