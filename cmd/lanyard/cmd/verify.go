package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Complete a pending two-factor challenge",
	Args:  cobra.ExactArgs(1),
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

		out, err := mgr.VerifyChallenge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !out.Verified {
			return fmt.Errorf("code rejected: %s", out.Reason)
		}
		fmt.Println("Logged in.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
