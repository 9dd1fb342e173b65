package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the session and invalidate the refresh token",
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

		mgr.Logout()
		// Give the best-effort remote invalidation a moment to land
		// before the process exits.
		time.Sleep(500 * time.Millisecond)
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
