package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/app"
)

func init() {
	rootCmd.AddCommand(roomsCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms in the directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime(cmd)
		if err != nil {
			return err
		}

		sess, err := app.OpenSession(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Close() }()

		rooms, err := sess.Directory.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list rooms: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tCHANNEL\tTITLE")
		for _, r := range rooms {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.ChannelType, r.ChannelID, valueOr(r.Title, "-"))
		}
		return tw.Flush()
	},
}
