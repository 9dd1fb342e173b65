package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the token pair now",
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

		out, err := mgr.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if !out.Renewed {
			return fmt.Errorf("refresh token no longer accepted; logged out")
		}
		fmt.Println("Token pair rotated.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
