// Airdancer is a Slack bot for bothering people through Tasmota smart
// switches.
//
// The daemon connects to Slack over Socket Mode, tracks switches over MQTT,
// and serves an operational HTTP API with health, status and metrics
// endpoints.
//
// Configuration is loaded from DANCER_* environment variables with an
// optional YAML file underneath. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	airdancer
//
//	# Start with an explicit config file
//	DANCER_SLACK_BOT_TOKEN=xoxb-... airdancer --config /etc/airdancer/config.yaml
//
//	# Show version information
//	airdancer version
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/airdancer/internal/bot"
	"github.com/fyrsmithlabs/airdancer/internal/config"
	"github.com/fyrsmithlabs/airdancer/internal/logging"
	"github.com/fyrsmithlabs/airdancer/internal/ops"
	"github.com/fyrsmithlabs/airdancer/internal/store"
	"github.com/fyrsmithlabs/airdancer/internal/tasmota"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "airdancer",
	Short: "Slack bot for bothering people through Tasmota smart switches",
	Long: `Airdancer lets Slack workspace members register Tasmota smart switches
and remotely pulse each other's switches from chat.

The daemon connects to Slack over Socket Mode and to an MQTT broker for
switch discovery and control. State lives in a local SQLite database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("airdancer\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the airdancer daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the SQLite store
//  4. Connects to the MQTT broker and subscribes to Tasmota topics
//  5. Starts the operational HTTP server
//  6. Runs the Slack bot over Socket Mode
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting airdancer",
		zap.String("version", version),
		zap.String("database", cfg.Database.Path),
		zap.String("broker", cfg.MQTT.BrokerURL()),
		zap.String("slash_command", cfg.Slack.SlashCommand))

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	switches := tasmota.New(tasmota.Config{
		BrokerURL: cfg.MQTT.BrokerURL(),
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password.Value(),
	}, st, logger)
	if err := switches.Connect(); err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	defer switches.Disconnect()

	b := bot.New(bot.Config{
		BotToken:      cfg.Slack.BotToken.Value(),
		AppToken:      cfg.Slack.AppToken.Value(),
		SlashCommand:  cfg.Slack.SlashCommand,
		AdminUser:     cfg.Admin.User,
		DefaultBother: cfg.Bother.DefaultDuration.Duration(),
		MaxBother:     cfg.Bother.MaxDuration.Duration(),
		Debug:         cfg.Debug,
	}, st, switches, logger)

	srv, err := ops.NewServer(st, b, switches, logger, &ops.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	botErr := make(chan error, 1)
	go func() {
		botErr <- b.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-botErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("slack bot: %w", err)
		}
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}
