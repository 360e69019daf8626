package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/app"
	"github.com/ppiankov/reaper/internal/config"
	"github.com/ppiankov/reaper/internal/logging"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Terminate processes, purge memory and close browser tabs with an audit trail",
	Long: "Runs vetted destructive actions on your own macOS session: process termination\n" +
		"with tiered escalation, memory purge and browser tab cleanup. Protected system\n" +
		"processes are never touched and every action lands in a hash-chained audit log.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.reaper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the CLI logger. Console output stays at warn unless a
// level was asked for on the command line.
func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Quiet: logLevel == "",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return log, logging.Install(log), nil
}

// openRuntime loads the config and wires every service. The returned func
// releases them.
func openRuntime() (*app.Runtime, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, flush, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	rt, err := app.New(cfg, log)
	if err != nil {
		flush()
		return nil, nil, err
	}
	return rt, func() {
		if err := rt.Close(); err != nil {
			log.Warn("close runtime", zap.Error(err))
		}
		flush()
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
