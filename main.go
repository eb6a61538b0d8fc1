package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/internal/config"
	"library-circulation/internal/logging"
	"library-circulation/library"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	envFile string
	dbPath  string

	cfg *config.Config
	log *logrus.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "library",
		Short:        "Library circulation: catalog, members, loans and fines",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "config-env", "", "load settings from this .env file (default ./.env when present)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides LIBRARY_DB_PATH)")

	root.AddCommand(newServeCmd(a), newShellCmd(a), newUserCmd(a), newMigrateCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.cfg, a.log = cfg, log
	return nil
}

// open opens the library with the configured rules, applying migrations.
func (a *app) open(opts ...library.CirculationOption) (*library.LibraryManager, error) {
	opts = append([]library.CirculationOption{library.WithLogger(a.log)}, opts...)
	mgr, err := library.NewLibraryManager(a.cfg.DBPath,
		library.WithPolicy(a.cfg.Policy()),
		library.WithCirculation(opts...))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.DBPath, err)
	}
	return mgr, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.open()
			if err != nil {
				return err
			}
			defer mgr.Close()
			a.log.WithField("db", a.cfg.DBPath).Info("schema is up to date")
			return nil
		},
	}
}

func newUserCmd(a *app) *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage staff accounts"}

	var email, role string
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a staff account, prompting for its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(fmt.Sprintf("Password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			confirm, err := readPassword("Repeat password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			mgr, err := a.open()
			if err != nil {
				return err
			}
			defer mgr.Close()

			u, err := mgr.CreateUser(context.Background(), args[0], email, password, library.Role(role))
			if err != nil {
				return err
			}
			fmt.Printf("Created %s account %q (ID %d)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "account email address")
	add.Flags().StringVar(&role, "role", string(library.RoleLibrarian), "admin or librarian")
	_ = add.MarkFlagRequired("email")

	user.AddCommand(add)
	return user
}

// readPassword reads a password from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(b)), nil
}
