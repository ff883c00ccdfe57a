// Command gymchat runs the dashboard chat cache: an HTTP server for the UI (serve),
// a terminal client over the same cache (tail) and a room listing (rooms).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/app"
)

var globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:           "gymchat",
	Short:         "Gym dashboard chat cache",
	Long:          "Conversation cache and realtime sync for the gym admin dashboard chat.\nConfiguration comes from --config (TOML), GYMCHAT_* variables and flags.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.configPath, "config", "", "TOML config file (default $GYMCHAT_CONFIG)")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&globalFlags.logFormat, "log-format", "", "log format: json or pretty")
}

// loadRuntime resolves the config (flags last) and builds the logger.
func loadRuntime(cmd *cobra.Command) (app.Config, app.Logger, error) {
	cfg, err := app.LoadConfig(globalFlags.configPath)
	if err != nil {
		return app.Config{}, nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(globalFlags.logLevel)
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = strings.TrimSpace(globalFlags.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, nil, err
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gymchat:", err)
		os.Exit(1)
	}
}
