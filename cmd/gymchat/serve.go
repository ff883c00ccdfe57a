package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/app"
)

var serveFlags struct {
	addr string
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (overrides GYMCHAT_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API for the dashboard",
	Long:  "Serve /api/*, the /api/events change stream, /metrics and health probes until SIGINT or SIGTERM.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.HTTPAddr = serveFlags.addr
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return app.Run(ctx, cfg, log)
	},
}
