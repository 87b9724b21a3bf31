package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/security/fieldcipher"
	"github.com/nerrad567/warden-core/migrations"
)

// passphraseEnvVar is read by encrypt and decrypt before falling back to
// the config file.
const passphraseEnvVar = "WARDEN_FIELD_CIPHER_PASSPHRASE"

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func newMigrateCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), false, func(_ *config.Config, db *database.DB, log *logging.Logger) error {
					if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
						return fmt.Errorf("running migrations: %w", err)
					}
					log.Info("database migrations complete")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), false, func(_ *config.Config, db *database.DB, log *logging.Logger) error {
					if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
						return fmt.Errorf("rolling back migration: %w", err)
					}
					log.Info("rolled back latest migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), false, func(_ *config.Config, db *database.DB, _ *logging.Logger) error {
					applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
					if err != nil {
						return fmt.Errorf("reading migration status: %w", err)
					}

					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
					for _, a := range applied {
						fmt.Fprintf(tw, "%s\tapplied\t%s\n", a.Version, a.AppliedAt.Format(time.RFC3339))
					}
					for _, p := range pending {
						fmt.Fprintf(tw, "%s\tpending\t%s\n", p.Version, p.Name)
					}
					return tw.Flush()
				})
			},
		},
	)
	return cmd
}

func newSeedAdminCmd(configPath func() string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the first administrator if no users exist",
		Long: "Creates an admin role, an administrator account and the admin menu tree.\n" +
			"Nothing is changed when any user already exists. Without --password a\n" +
			"random password is generated and printed once.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withDatabase(ctx, configPath(), true, func(cfg *config.Config, db *database.DB, log *logging.Logger) error {
				resolver := auth.NewResolver(auth.NewPermissionStore(db.DB))
				users := auth.NewUserRepository(db.DB)
				recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log)
				defer recorder.Close()

				svc, err := newAuthService(cfg, authWiring{
					db:       db,
					resolver: resolver,
					users:    users,
					recorder: recorder,
					logger:   log,
				})
				if err != nil {
					return err
				}

				generated, err := auth.SeedAdmin(ctx, auth.SeedDeps{
					Service: svc,
					Users:   users,
					Roles:   auth.NewRoleRepository(db.DB),
					Menus:   auth.NewMenuRepository(db.DB),
					Logger:  log.Logger,
				}, username, password)
				if err != nil {
					return fmt.Errorf("seeding admin: %w", err)
				}

				out := cmd.OutOrStdout()
				switch {
				case generated == "":
					fmt.Fprintln(out, "users already exist; nothing seeded")
				case password == "":
					fmt.Fprintf(out, "created %s with password %s\n", username, generated)
				default:
					fmt.Fprintf(out, "created %s\n", username)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "administrator user name")
	cmd.Flags().StringVar(&password, "password", "", "administrator password (generated when empty)")
	return cmd
}

func newEncryptCmd(configPath func() string) *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a config value with the field cipher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cipherFor(passphrase, configPath())
			if err != nil {
				return err
			}
			out, err := c.Encrypt(args[0])
			if err != nil {
				return fmt.Errorf("encrypting value: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "field cipher passphrase (default $"+passphraseEnvVar+" or config)")
	return cmd
}

func newDecryptCmd(configPath func() string) *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "decrypt <ciphertext>",
		Short: "Decrypt a field cipher value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cipherFor(passphrase, configPath())
			if err != nil {
				return err
			}
			out, err := c.Decrypt(args[0])
			if err != nil {
				return fmt.Errorf("decrypting value: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "field cipher passphrase (default $"+passphraseEnvVar+" or config)")
	return cmd
}

// cipherFor resolves the passphrase from the flag, the environment, then
// the config file, in that order.
func cipherFor(passphrase, configPath string) (*fieldcipher.Cipher, error) {
	if passphrase == "" {
		passphrase = os.Getenv(passphraseEnvVar)
	}
	if passphrase == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		passphrase = cfg.Security.FieldCipher.Passphrase
	}

	c, err := fieldcipher.New(passphrase)
	if err != nil {
		return nil, fmt.Errorf("preparing field cipher: %w", err)
	}
	return c, nil
}

// withDatabase loads config, opens the database and calls fn. When migrate
// is set the schema is brought up to date first.
func withDatabase(ctx context.Context, configPath string, migrate bool, fn func(*config.Config, *database.DB, *logging.Logger) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg, configPath)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrate {
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return fn(cfg, db, log)
}
