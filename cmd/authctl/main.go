package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eduportal.org/internal/config"
	"eduportal.org/internal/obs"
	"eduportal.org/internal/store/pg"
)

type globals struct {
	config  string
	dsn     string
	timeout time.Duration
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Administration tool for the eduportal auth service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if g.dsn == "" {
				g.dsn = os.Getenv("DATABASE_URL")
			}
			if g.verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				obs.SetLogger(l)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "optional config file, same keys as the api")
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN (default $DATABASE_URL)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "overall command timeout")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log progress")

	root.AddCommand(
		newMigrateCmd(g),
		newHashPasswordCmd(),
		newUserCmd(g),
		newPermissionsCmd(g),
	)
	return root
}

func (g *globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

func (g *globals) openDB() (*sql.DB, error) {
	if g.dsn == "" {
		return nil, errors.New("missing DSN: provide --dsn or DATABASE_URL")
	}
	db, err := sql.Open("pgx", g.dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func (g *globals) openStore() (*pg.Store, error) {
	db, err := g.openDB()
	if err != nil {
		return nil, err
	}
	return pg.New(db), nil
}

// loadConfig reads the service configuration. --dsn wins over DATABASE_URL.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.dsn != "" {
		if err := os.Setenv("DATABASE_URL", g.dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
