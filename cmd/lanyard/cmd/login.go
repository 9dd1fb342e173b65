package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdrys/lanyard/session"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <identifier>",
	Short: "Log in and persist the session",
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

		reader := bufio.NewReader(os.Stdin)
		secret := loginPassword
		if secret == "" {
			secret, err = prompt(reader, "Password: ")
			if err != nil {
				return err
			}
		}

		out, err := mgr.Login(cmd.Context(), args[0], secret)
		if err != nil {
			return err
		}
		switch out.Status {
		case session.LoginAuthenticated:
			fmt.Println("Logged in.")
			return nil
		case session.LoginChallengeRequired:
			code, err := prompt(reader, fmt.Sprintf("One-time code for %s: ", out.Username))
			if err != nil {
				return err
			}
			vout, err := mgr.VerifyChallenge(cmd.Context(), code)
			if err != nil {
				return err
			}
			if !vout.Verified {
				return fmt.Errorf("code rejected: %s (run `lanyard verify <code>` to retry)", vout.Reason)
			}
			fmt.Println("Logged in.")
			return nil
		default:
			return fmt.Errorf("login rejected: %s", out.Reason)
		}
	},
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
}
