package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdrys/lanyard/devserver"
	"github.com/mdrys/lanyard/rest"
)

var (
	servePort     int
	serveUser     string
	servePassword string
	serveOTP      bool
	serveTTL      time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stub authentication server",
	Long: `Runs the in-process stub of the authentication API with one seeded
account, for developing and demoing against. Accounts live in memory;
everything is gone when the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		srv := devserver.New(
			devserver.WithAccessTTL(serveTTL),
			devserver.WithLogger(log.With().Str("component", "devserver").Logger()),
		)

		acct := devserver.Account{
			Username: serveUser,
			Email:    serveUser + "@example.com",
			Theme:    "dark",
			Memberships: []rest.Membership{
				{ID: 1, Slug: "general", Title: "General", Description: "Open discussion"},
			},
		}
		if serveOTP {
			secret, err := devserver.GenerateTOTPSecret()
			if err != nil {
				return fmt.Errorf("generating TOTP secret: %w", err)
			}
			acct.TOTPSecret = secret
		}
		if err := srv.AddAccount(acct, servePassword); err != nil {
			return fmt.Errorf("seeding account: %w", err)
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", servePort),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Stub auth server on port %d\n", servePort)
		fmt.Printf("Account: %s / %s\n", serveUser, servePassword)
		if serveOTP {
			if code, ok := srv.CurrentOTP(serveUser); ok {
				fmt.Printf("Two-factor enabled; current code: %s\n", code)
			}
		}
		fmt.Printf("API docs at http://localhost:%d/docs\n", servePort)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8980, "Port to listen on")
	serveCmd.Flags().StringVar(&serveUser, "user", "demo", "Username of the seeded account")
	serveCmd.Flags().StringVar(&servePassword, "password", "demo-password", "Password of the seeded account")
	serveCmd.Flags().BoolVar(&serveOTP, "otp", false, "Require a one-time code for the seeded account")
	serveCmd.Flags().DurationVar(&serveTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
}
