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

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/config"
)

var (
	cfgFile string
	version = "dev"
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "subs",
		Short: "💳 Find the subscriptions hiding in your inbox and bank feeds",
		Long: `subs scans Gmail receipts and bank transactions for recurring charges,
merges what it finds into one deduplicated subscription list, and exports it.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/subs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(connectionsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(institutionsCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(subscriptionsCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// init writes the config file, so it must run without one.
	if cmd.Name() == "init" || cmd.Name() == "version" {
		return setupLogging(viper.GetString("logging.level"), viper.GetString("logging.format"))
	}

	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if err := setupLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.Debug("Loaded configuration", "file", viper.ConfigFileUsed(), "database", cfg.Database.Path)
	return nil
}

func setupLogging(level, format string) error {
	slogLevel, err := common.ParseLevel(level)
	if err != nil {
		return err
	}
	return common.SetupLogger(os.Stderr, slogLevel, format)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "subs %s\n", version)
		},
	}
}
