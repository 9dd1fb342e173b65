package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdrys/lanyard/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		mgr, cleanup, err := openSession(log)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := mgr.Start(cmd.Context()); err != nil {
			return err
		}

		state := mgr.State()
		fmt.Printf("State: %s\n", state)
		if state == session.StatePendingChallenge {
			fmt.Printf("Awaiting two-factor code for %s\n", mgr.PendingChallengeUsername())
		}
		if theme := mgr.PreferredTheme(); theme != "" {
			fmt.Printf("Theme: %s\n", theme)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
