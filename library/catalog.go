package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// NewBook is the input of the catalog-entry operation.
type NewBook struct {
	BookID          string // optional; allocated when empty
	Title           string
	Author          string
	ISBN            string
	Publisher       string
	PublicationYear int
	Category        string
	Edition         string
	ShelfLocation   string
	TotalCopies     int
}

// BookFilter narrows ListBooks. Zero values match everything.
type BookFilter struct {
	Search        string
	Category      string
	AvailableOnly bool
	Limit         uint
}

var bookColumns = []any{
	"id", "book_id", "title", "author", "isbn", "publisher", "publication_year",
	"category", "edition", "shelf_location", "total_copies", "available_copies", "added_at",
}

// NormalizeISBN strips separators and checks the ISBN-10/ISBN-13 shape.
func NormalizeISBN(raw string) (string, error) {
	isbn := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(raw))
	switch len(isbn) {
	case 13:
		if !allDigits(isbn) {
			return "", invalid(SubjectBook, "ISBN-13 must contain only digits")
		}
	case 10:
		if !allDigits(isbn[:9]) || !(allDigits(isbn[9:]) || isbn[9] == 'X') {
			return "", invalid(SubjectBook, "ISBN-10 must be nine digits followed by a digit or X")
		}
	default:
		return "", invalid(SubjectBook, "ISBN must have 10 or 13 digits, got %d", len(isbn))
	}
	return isbn, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (nb *NewBook) validate() error {
	nb.Title = strings.TrimSpace(nb.Title)
	nb.Author = strings.TrimSpace(nb.Author)
	nb.BookID = strings.ToUpper(strings.TrimSpace(nb.BookID))
	nb.Category = strings.TrimSpace(nb.Category)
	if allocatedShape(nb.BookID, bookPrefix, bookSeqWidth) {
		return invalid(SubjectBook, "book ID %s is reserved for automatic numbering; leave it blank or use another format", nb.BookID)
	}
	if nb.Title == "" {
		return invalid(SubjectBook, "title is required")
	}
	if nb.Author == "" {
		return invalid(SubjectBook, "author is required")
	}
	isbn, err := NormalizeISBN(nb.ISBN)
	if err != nil {
		return err
	}
	nb.ISBN = isbn
	if nb.TotalCopies < 1 {
		return invalid(SubjectBook, "total copies must be at least 1")
	}
	if nb.PublicationYear < 0 {
		return invalid(SubjectBook, "publication year cannot be negative")
	}
	return nil
}

// AddBook validates nb and inserts it with every copy available. The book
// identifier is allocated in the same transaction as the insert.
func (d *Database) AddBook(ctx context.Context, caller Caller, nb NewBook, now time.Time) (*Book, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := nb.validate(); err != nil {
		return nil, err
	}

	book := &Book{
		BookID:          nb.BookID,
		Title:           nb.Title,
		Author:          nb.Author,
		ISBN:            nb.ISBN,
		Publisher:       strings.TrimSpace(nb.Publisher),
		PublicationYear: nb.PublicationYear,
		Category:        nb.Category,
		Edition:         strings.TrimSpace(nb.Edition),
		ShelfLocation:   strings.TrimSpace(nb.ShelfLocation),
		TotalCopies:     nb.TotalCopies,
		AvailableCopies: nb.TotalCopies,
		AddedAt:         utc(now),
	}

	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if book.BookID == "" {
			code, err := nextCode(ctx, tx, "books", "book_id", bookPrefix, book.AddedAt.Year(), bookSeqWidth)
			if err != nil {
				return err
			}
			book.BookID = code
		}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO books
            (book_id,title,author,isbn,publisher,publication_year,category,edition,shelf_location,total_copies,available_copies,added_at)
            VALUES (:book_id,:title,:author,:isbn,:publisher,:publication_year,:category,:edition,:shelf_location,:total_copies,:available_copies,:added_at)`, book)
		if err != nil {
			return uniqueViolation(err, SubjectBook)
		}
		book.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetBookByCode fetches a book by its human-readable identifier.
func (d *Database) GetBookByCode(ctx context.Context, code string) (*Book, error) {
	return d.getBook(ctx, goqu.Ex{"book_id": strings.ToUpper(strings.TrimSpace(code))}, code)
}

// GetBook fetches a book by row id.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	return d.getBook(ctx, goqu.Ex{"id": id}, fmt.Sprint(id))
}

func (d *Database) getBook(ctx context.Context, where goqu.Ex, label string) (*Book, error) {
	var b Book
	err := d.getBuilt(ctx, &b, dialect.From("books").Select(bookColumns...).Where(where))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectBook, "book %s not found", label)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBooks returns books matching f ordered by title.
func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	ds := dialect.From("books").Select(bookColumns...).Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if term := strings.TrimSpace(f.Search); term != "" {
		ds = ds.Where(containsAny(term, goqu.C("title"), goqu.C("author"), goqu.C("isbn"), goqu.C("book_id")))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		ds = ds.Where(goqu.C("category").Eq(c))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	books := []*Book{}
	if err := d.selectBuilt(ctx, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

// Categories returns the distinct, non-empty categories in the catalog.
func (d *Database) Categories(ctx context.Context) ([]string, error) {
	ds := dialect.From("books").
		Select(goqu.C("category")).Distinct().
		Where(goqu.C("category").Neq("")).
		Order(goqu.C("category").Asc())
	var out []string
	if err := d.selectBuilt(ctx, &out, ds); err != nil {
		return nil, err
	}
	return out, nil
}

// AdjustCopies sets the total number of copies of a book, keeping the
// number currently on loan unchanged.
func (d *Database) AdjustCopies(ctx context.Context, caller Caller, code string, newTotal int) (*Book, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if newTotal < 1 {
		return nil, invalid(SubjectBook, "total copies must be at least 1")
	}

	var book Book
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &book, `SELECT `+columnList(bookColumns)+` FROM books WHERE book_id=?`, strings.ToUpper(code))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(SubjectBook, "book %s not found", code)
		}
		if err != nil {
			return err
		}
		onLoan := book.TotalCopies - book.AvailableCopies
		if newTotal < onLoan {
			return invalid(SubjectBook, "%d copies are on loan; total cannot drop to %d", onLoan, newTotal)
		}
		book.AvailableCopies = newTotal - onLoan
		book.TotalCopies = newTotal
		_, err = tx.ExecContext(ctx, `UPDATE books SET total_copies=?, available_copies=? WHERE id=?`,
			book.TotalCopies, book.AvailableCopies, book.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsAny matches rows where any of cols contains term as a literal,
// case-insensitive substring.
func containsAny(term string, cols ...exp.IdentifierExpression) exp.ExpressionList {
	p := "%" + likeEscaper.Replace(term) + "%"
	ors := make([]exp.Expression, len(cols))
	for i, c := range cols {
		ors[i] = goqu.L(`? LIKE ? ESCAPE '\'`, c, p)
	}
	return goqu.Or(ors...)
}

func columnList(cols []any) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.(string)
	}
	return strings.Join(names, ",")
}
