package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mdrys/lanyard/rest"
	"github.com/mdrys/lanyard/session"
	bboltstore "github.com/mdrys/lanyard/store/bbolt"
)

// Version is stamped at build time.
var Version = "dev"

var (
	serverURL string
	dataDir   string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "lanyard",
	Short: "Lanyard manages an authenticated API session",
	Long: `Lanyard keeps a durable login session against an authentication API:
it logs in (with two-factor hand-off when required), persists the token
pair across invocations, and rotates it transparently when it goes stale.
Complete documentation is available at https://github.com/mdrys/lanyard`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8980", "Base URL of the authentication API")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory for the session database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lanyard")
	}
	return "./lanyard-data"
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// openSession stands up the durable store and the session manager the
// way every client-side subcommand needs them. The returned cleanup
// stops the manager and closes the database.
func openSession(log zerolog.Logger) (*session.Manager, func(), error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := bboltstore.NewStoreFromFile(filepath.Join(dataDir, "session.db"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session database: %w", err)
	}

	api := rest.New(serverURL, rest.WithLogger(log.With().Str("component", "rest").Logger()))
	mgr := session.NewManager(api, st, session.WithLogger(log.With().Str("component", "session").Logger()))
	cleanup := func() {
		mgr.Close()
		st.Close()
	}
	return mgr, cleanup, nil
}
