// Package cli implements the anoncredits command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/anoncredits/internal/daemon"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "anoncredits",
	Short: "Anonymous identity and credits ledger service",
	Long: `anoncredits issues anonymous identities on first contact, seeds each
with starting credits and keeps an append-only ledger of every balance
change, including a once-per-day bonus claim.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to TOML config (default "+daemon.DefaultConfigFile+" if present)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(configPath)
}

func logConfig(cfg daemon.Config) observability.LogConfig {
	return observability.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
}

// adminLogger keeps one-shot commands quiet on stdout.
func adminLogger(cfg daemon.Config, w io.Writer) *slog.Logger {
	lc := logConfig(cfg)
	lc.Level = "warn"
	lc.Format = "text"
	return observability.NewLogger("anoncredits", lc, w)
}

// openServices opens the configured store and builds the services on it.
// The caller closes svc.Store.
func openServices(cfg daemon.Config, log *slog.Logger) (*daemon.Services, error) {
	store, err := daemon.OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	svc, err := daemon.NewServices(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}
