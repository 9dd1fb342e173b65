package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated profile and memberships",
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

		if err := mgr.RefreshProfile(cmd.Context()); err != nil {
			return err
		}
		prof := mgr.Profile()
		if prof == nil {
			return fmt.Errorf("profile unavailable")
		}

		fmt.Printf("Username: %s\n", prof.Username)
		fmt.Printf("Email:    %s\n", prof.Email)
		fmt.Printf("Theme:    %s\n", prof.Preferences.Theme)
		if len(prof.Memberships) > 0 {
			fmt.Println("Communities:")
			for _, m := range prof.Memberships {
				fmt.Printf("  %s - %s\n", m.Slug, m.Title)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
