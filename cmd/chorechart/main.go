package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/chorechart/internal/config"
	"github.com/dukerupert/chorechart/internal/logging"
)

var (
	cfgFile string
	version = "dev"

	v      = viper.New()
	cfg    *config.Config
	logger = slog.Default()

	rootCmd = &cobra.Command{
		Use:   "chorechart",
		Short: "Household chore chart and allowance ledger",
		Long: `chorechart keeps a household's chore configuration, weekly completion
state and each member's allowance ledger, on local files, SQLite or MongoDB.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chorechart.yaml or $HOME/.config/chorechart/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("backend", config.BackendFile, "storage backend (file, sqlite, mongo)")
	rootCmd.PersistentFlags().String("tenant", "household", "household whose data is used")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = v.BindPFlag("storage.tenant", rootCmd.PersistentFlags().Lookup("tenant"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(storageCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if err := config.Init(v, cfgFile); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded
	logger = logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "file", used)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chorechart", version)
		},
	}
}
