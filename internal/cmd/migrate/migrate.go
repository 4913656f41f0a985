package migrate

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their loaders.
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/mongo"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/postgres"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("KEYVALUE_SERVICE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("KEYVALUE_SERVICE_DB_KIND"),
				Usage:   "Store backend (mongo|postgres|sqlite)",
				Value:   "mongo",
			},
			&cli.StringFlag{
				Name:    "db-name",
				Sources: cli.EnvVars("KEYVALUE_SERVICE_DB_NAME"),
				Usage:   "Database name (mongo only)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "List the migrations that would run and exit",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			if name := cmd.String("db-name"); name != "" {
				cfg.DBName = name
			}
			// The command exists to migrate, whatever the at-start setting says.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			pending := registrymigrate.Pending(&cfg)
			if len(pending) == 0 {
				return fmt.Errorf("no migrations registered for db kind %q", cfg.DatastoreType)
			}
			if cmd.Bool("dry-run") {
				for _, name := range pending {
					fmt.Fprintln(cmd.Root().Writer, name)
				}
				return nil
			}
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("Migrations complete", "db", cfg.DatastoreType, "count", len(pending))
			return nil
		},
	}
}
