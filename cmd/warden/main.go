// Warden Core - identity and access service
//
// This is the main entry point for the Warden binary. The serve command
// runs the HTTP API. The other commands are operator tools that work on
// the same configuration:
//
//	warden serve                 run the API until SIGINT/SIGTERM
//	warden migrate up|down|status
//	warden seed-admin            create the first administrator
//	warden encrypt <value>       produce a v1: ciphertext for config files
//	warden decrypt <value>
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/security/fieldcipher"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar overrides the default path when --config is not given.
	configEnvVar = "WARDEN_CONFIG"
)

func main() {
	// Cancel on interrupt signals so serve can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Tests call it directly with SetArgs.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Warden identity and access service",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// A missing .env is normal outside development.
			if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	path := func() string { return getConfigPath(configPath) }

	root.AddCommand(
		newServeCmd(path),
		newMigrateCmd(path),
		newSeedAdminCmd(path),
		newEncryptCmd(path),
		newDecryptCmd(path),
	)
	return root
}

// getConfigPath resolves the config file: flag, then environment, then default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file and opens any v1: encrypted fields
// with the configured field cipher passphrase.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	c, err := fieldcipher.New(cfg.Security.FieldCipher.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("preparing field cipher: %w", err)
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"database.path", &cfg.Database.Path},
		{"redis.password", &cfg.Redis.Password},
		{"mqtt.auth.password", &cfg.MQTT.Auth.Password},
		{"influxdb.token", &cfg.InfluxDB.Token},
	}
	for _, f := range fields {
		if !fieldcipher.IsEncrypted(*f.value) {
			continue
		}
		plain, decErr := c.Decrypt(*f.value)
		if decErr != nil {
			return nil, fmt.Errorf("decrypting %s: %w", f.name, decErr)
		}
		*f.value = plain
	}

	return cfg, nil
}

// newLogger builds the configured logger and reports where config came from.
func newLogger(cfg *config.Config, configPath string) *logging.Logger {
	log := logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	return log
}
