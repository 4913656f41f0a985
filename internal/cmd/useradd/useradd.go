package useradd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/keyvalue-service/internal/plugin/store/mongo"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/postgres"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
)

// Command returns the create-user sub-command, used to bootstrap the first
// administrator before any token can be issued.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "create-user",
		Usage: "Create a user account directly in the datastore",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Usage:    "Account username",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Sources:  cli.EnvVars("KEYVALUE_SERVICE_NEW_USER_PASSWORD"),
				Usage:    "Account password",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "admin",
				Usage: "Create the account as an administrator",
			},
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
			ctx = config.WithContext(ctx, &cfg)

			userType := model.UserTypeStandard
			if cmd.Bool("admin") {
				userType = model.UserTypeAdmin
			}
			user, err := Run(ctx, cmd.String("username"), cmd.String("password"), userType)
			if err != nil {
				return err
			}
			log.Info("User created", "username", user.Username, "type", user.Type)
			return nil
		},
	}
}

// Run migrates the configured datastore and inserts the account.
func Run(ctx context.Context, username, password string, userType model.UserType) (*model.User, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("no configuration in context")
	}
	if username == "" || password == "" {
		return nil, &registrystore.ValidationError{Field: "username", Message: "username and password are required"}
	}
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, err
	}
	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close(ctx)

	hashed, err := security.HashPassword(password, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return store.CreateUser(ctx, model.User{
		Username:       username,
		HashedPassword: hashed,
		Type:           userType,
	})
}
