// Command import_books loads a YAML catalog manifest into the library
// database. Books whose ISBN is already catalogued are skipped, so a
// manifest can be imported again after it grows.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"library-circulation/internal/config"
	"library-circulation/library"
)

// Manifest is the file format read by import_books.
type Manifest struct {
	Defaults Entry   `yaml:"defaults"`
	Books    []Entry `yaml:"books"`
}

// Entry describes one title. Empty fields fall back to the manifest defaults.
type Entry struct {
	BookID    string `yaml:"book_id"`
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	ISBN      string `yaml:"isbn"`
	Publisher string `yaml:"publisher"`
	Year      int    `yaml:"year"`
	Category  string `yaml:"category"`
	Edition   string `yaml:"edition"`
	Shelf     string `yaml:"shelf"`
	Copies    int    `yaml:"copies"`
}

// parseManifest decodes r, rejecting unknown keys so typos do not silently drop data.
func parseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Books) == 0 {
		return nil, errors.New("manifest lists no books")
	}
	return &m, nil
}

func (m *Manifest) newBook(e Entry) library.NewBook {
	d := m.Defaults
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	nb := library.NewBook{
		BookID:          e.BookID,
		Title:           e.Title,
		Author:          e.Author,
		ISBN:            e.ISBN,
		Publisher:       pick(e.Publisher, d.Publisher),
		PublicationYear: e.Year,
		Category:        pick(e.Category, d.Category),
		Edition:         pick(e.Edition, d.Edition),
		ShelfLocation:   pick(e.Shelf, d.Shelf),
		TotalCopies:     e.Copies,
	}
	if nb.TotalCopies == 0 {
		nb.TotalCopies = d.Copies
	}
	if nb.TotalCopies == 0 {
		nb.TotalCopies = 1
	}
	return nb
}

type summary struct {
	Imported, Skipped, Failed int
}

// importBooks adds every manifest entry, reporting progress to out.
func importBooks(ctx context.Context, out io.Writer, mgr *library.LibraryManager, caller library.Caller, m *Manifest) (summary, error) {
	var s summary
	for i, e := range m.Books {
		fmt.Fprintf(out, "Importing: %s by %s... ", e.Title, e.Author)
		b, err := mgr.AddBook(ctx, caller, m.newBook(e))
		switch {
		case err == nil:
			fmt.Fprintf(out, "SUCCESS (ID: %s)\n", b.BookID)
			s.Imported++
		case errors.Is(err, library.ErrConflict):
			fmt.Fprintf(out, "SKIPPED - %v\n", err)
			s.Skipped++
		case library.KindOf(err) != "":
			fmt.Fprintf(out, "ERROR - entry %d: %v\n", i+1, err)
			s.Failed++
		default:
			fmt.Fprintln(out, "ERROR")
			return s, err
		}
	}
	return s, nil
}

func main() {
	var envFile, dbPath, username string
	cmd := &cobra.Command{
		Use:          "import_books MANIFEST.yaml",
		Short:        "Import a YAML catalog manifest",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := parseManifest(f)
			if err != nil {
				return err
			}

			mgr, err := library.NewLibraryManager(cfg.DBPath, library.WithPolicy(cfg.Policy()))
			if err != nil {
				return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
			}
			defer mgr.Close()

			fmt.Printf("Password for %s: ", username)
			pw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			caller, err := mgr.Authenticate(cmd.Context(), username, strings.TrimSpace(string(pw)))
			if err != nil {
				return err
			}

			fmt.Printf("Importing %d books from %s...\n", len(m.Books), args[0])
			s, err := importBooks(cmd.Context(), os.Stdout, mgr, caller, m)
			fmt.Printf("\nImport complete!\nImported: %d  Skipped: %d  Errors: %d\n", s.Imported, s.Skipped, s.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&envFile, "config-env", "", "load settings from this .env file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides LIBRARY_DB_PATH)")
	cmd.Flags().StringVar(&username, "user", "admin", "staff account recorded as adding the books")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
