package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var day0 = time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// staff creates a librarian account and returns it as a caller.
func staff(t *testing.T, db *Database) Caller {
	t.Helper()
	u, err := db.CreateUser(context.Background(), "librarian", "librarian@example.com", "correct-horse", RoleLibrarian, day0)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return Caller{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func addBook(t *testing.T, db *Database, c Caller, isbn string, copies int) *Book {
	t.Helper()
	b, err := db.AddBook(context.Background(), c, NewBook{
		Title:       "Title " + isbn,
		Author:      "Author",
		ISBN:        isbn,
		Category:    "Fiction",
		TotalCopies: copies,
	}, day0)
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	return b
}

func enroll(t *testing.T, db *Database, c Caller, first string, class MembershipClass) *Member {
	t.Helper()
	m, err := db.EnrollMember(context.Background(), c, NewMember{
		FirstName: first,
		LastName:  "Tester",
		Email:     first + "@example.com",
		Class:     class,
	}, day0)
	if err != nil {
		t.Fatalf("enroll %s: %v", first, err)
	}
	return m
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		db.Close()
	}
}

func TestAddBookAllocatesSequentialCodes(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)

	first := addBook(t, db, c, "9780000000001", 2)
	second := addBook(t, db, c, "978-0-00-000000-2", 1)

	if first.BookID != "B20240001" || second.BookID != "B20240002" {
		t.Fatalf("codes = %s, %s", first.BookID, second.BookID)
	}
	if second.ISBN != "9780000000002" {
		t.Fatalf("isbn not normalized: %s", second.ISBN)
	}
	if first.AvailableCopies != first.TotalCopies {
		t.Fatalf("new book should have every copy available")
	}

	got, err := db.GetBookByCode(context.Background(), "b20240001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != first.Title || !got.AddedAt.Equal(day0) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAddBookRefusesAllocatedShapeIDs(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	for _, id := range []string{FormatCode("B", 2024, 9999, 4), "b20240001"} {
		_, err := db.AddBook(ctx, c, NewBook{BookID: id, Title: "T", Author: "A", ISBN: "9780000000001", TotalCopies: 1}, day0)
		if KindOf(err) != KindValidation {
			t.Fatalf("id %s: want validation error, got %v", id, err)
		}
	}

	custom, err := db.AddBook(ctx, c, NewBook{BookID: "ref-001", Title: "T", Author: "A", ISBN: "9780000000001", TotalCopies: 1}, day0)
	if err != nil {
		t.Fatalf("custom id: %v", err)
	}
	if custom.BookID != "REF-001" {
		t.Fatalf("custom id = %s", custom.BookID)
	}
	if next := addBook(t, db, c, "9780000000002", 1); next.BookID != "B20240001" {
		t.Fatalf("allocation after custom id = %s", next.BookID)
	}
}

func TestCodesFollowTheUTCYear(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	// Just after midnight on New Year's Day in UTC+1 is still the old year in UTC.
	newYear := time.Date(2025, time.January, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600))

	b, err := db.AddBook(ctx, c, NewBook{Title: "T", Author: "A", ISBN: "9780000000001", TotalCopies: 1}, newYear)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if b.BookID != "B20240001" || b.AddedAt.Year() != 2024 {
		t.Fatalf("book %s added %v", b.BookID, b.AddedAt)
	}

	m, err := db.EnrollMember(ctx, c, NewMember{FirstName: "Nia", LastName: "Tester", Email: "nia@example.com"}, newYear)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if m.MemberID != "STU20240001" || m.JoinedAt.Year() != 2024 {
		t.Fatalf("member %s joined %v", m.MemberID, m.JoinedAt)
	}
}

func TestAddBookValidation(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	cases := map[string]NewBook{
		"no title":   {Author: "A", ISBN: "9780000000001", TotalCopies: 1},
		"no author":  {Title: "T", ISBN: "9780000000001", TotalCopies: 1},
		"bad isbn":   {Title: "T", Author: "A", ISBN: "12345", TotalCopies: 1},
		"letters":    {Title: "T", Author: "A", ISBN: "97800000000AB", TotalCopies: 1},
		"no copies":  {Title: "T", Author: "A", ISBN: "9780000000001", TotalCopies: 0},
		"negative y": {Title: "T", Author: "A", ISBN: "9780000000001", TotalCopies: 1, PublicationYear: -1},
	}
	for name, nb := range cases {
		if _, err := db.AddBook(ctx, c, nb, day0); KindOf(err) != KindValidation {
			t.Errorf("%s: want validation error, got %v", name, err)
		}
	}

	if _, err := db.AddBook(ctx, Caller{}, NewBook{Title: "T", Author: "A", ISBN: "0306406152", TotalCopies: 1}, day0); KindOf(err) != KindForbidden {
		t.Fatalf("anonymous add: want forbidden, got %v", err)
	}
}

func TestDuplicateISBNIsConflict(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	addBook(t, db, c, "030640615X", 1)

	_, err := db.AddBook(context.Background(), c, NewBook{Title: "Again", Author: "A", ISBN: "0-306-40615-x", TotalCopies: 1}, day0)
	if KindOf(err) != KindConflict {
		t.Fatalf("want conflict, got %v", err)
	}
	if err.Error() != "a book with that isbn already exists" {
		t.Fatalf("reason = %q", err.Error())
	}
}

func TestEnrollMemberUsesClassPrefix(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)

	a := enroll(t, db, c, "ann", ClassStudent)
	b := enroll(t, db, c, "ben", ClassStudent)
	s := enroll(t, db, c, "sam", ClassStaff)
	f := enroll(t, db, c, "fay", ClassFaculty)

	want := []string{"STU20240001", "STU20240002", "STF20240001", "FAC20240001"}
	for i, m := range []*Member{a, b, s, f} {
		if m.MemberID != want[i] {
			t.Errorf("member %d: got %s want %s", i, m.MemberID, want[i])
		}
		if m.Status != MemberActive {
			t.Errorf("member %d: status %s", i, m.Status)
		}
	}

	_, err := db.EnrollMember(context.Background(), c, NewMember{FirstName: "x", LastName: "y", Email: "ANN@example.com"}, day0)
	if KindOf(err) != KindConflict {
		t.Fatalf("duplicate email: want conflict, got %v", err)
	}
}

func TestEnrollMemberValidation(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	for name, nm := range map[string]NewMember{
		"no name":   {Email: "a@example.com"},
		"bad email": {FirstName: "a", LastName: "b", Email: "nope"},
		"bad class": {FirstName: "a", LastName: "b", Email: "a@example.com", Class: "visitor"},
	} {
		if _, err := db.EnrollMember(ctx, c, nm, day0); KindOf(err) != KindValidation {
			t.Errorf("%s: want validation, got %v", name, err)
		}
	}
}

func TestConcurrentEnrollmentsNeverCollide(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]bool{}
		errs  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := db.EnrollMember(context.Background(), c, NewMember{
				FirstName: fmt.Sprintf("m%02d", i),
				LastName:  "Parallel",
				Email:     fmt.Sprintf("m%02d@example.com", i),
			}, day0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			codes[m.MemberID] = true
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("enroll errors: %v", errs)
	}
	if len(codes) != n {
		t.Fatalf("want %d distinct codes, got %d", n, len(codes))
	}
	for i := 1; i <= n; i++ {
		if code := FormatCode("STU", 2024, i, 4); !codes[code] {
			t.Errorf("missing %s", code)
		}
	}
}

func TestSetMemberStatus(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	m := enroll(t, db, c, "gus", ClassStudent)
	ctx := context.Background()

	got, err := db.SetMemberStatus(ctx, c, m.MemberID, MemberSuspended)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if got.Status != MemberSuspended {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := db.SetMemberStatus(ctx, c, m.MemberID, "expelled"); KindOf(err) != KindValidation {
		t.Fatalf("bad status: %v", err)
	}
	if _, err := db.SetMemberStatus(ctx, c, "STU20249999", MemberActive); KindOf(err) != KindNotFound {
		t.Fatalf("missing member: %v", err)
	}
}

func TestListBooksFilters(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	_, err := db.AddBook(ctx, c, NewBook{Title: "Go in Practice", Author: "Butcher", ISBN: "9781633430075", Category: "Computing", TotalCopies: 1}, day0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = db.AddBook(ctx, c, NewBook{Title: "Dune", Author: "Herbert", ISBN: "9780441172719", Category: "Fiction", TotalCopies: 1}, day0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := db.ListBooks(ctx, BookFilter{Search: "BUTCH"})
	if err != nil || len(got) != 1 || got[0].Title != "Go in Practice" {
		t.Fatalf("search by author: %v %v", got, err)
	}
	got, _ = db.ListBooks(ctx, BookFilter{Category: "Fiction"})
	if len(got) != 1 || got[0].Title != "Dune" {
		t.Fatalf("category filter: %v", got)
	}
	cats, _ := db.Categories(ctx)
	if len(cats) != 2 || cats[0] != "Computing" {
		t.Fatalf("categories = %v", cats)
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()

	for _, title := range []string{"Go in Practice", "Dune", "100% Go"} {
		_, err := db.AddBook(ctx, c, NewBook{Title: title, Author: "A", ISBN: fmt.Sprintf("97800000%05d", len(title)), TotalCopies: 1}, day0)
		if err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
	}

	cases := map[string]int{"%": 1, "_": 0, "0% g": 1, `\`: 0, "go": 2}
	for term, want := range cases {
		got, err := db.ListBooks(ctx, BookFilter{Search: term})
		if err != nil {
			t.Fatalf("search %q: %v", term, err)
		}
		if len(got) != want {
			t.Errorf("search %q: %d books, want %d", term, len(got), want)
		}
	}

	enroll(t, db, c, "ann", ClassStudent)
	members, err := db.ListMembers(ctx, MemberFilter{Search: "_"})
	if err != nil || len(members) != 0 {
		t.Fatalf("member search for _: %v %v", members, err)
	}
}

func TestAdjustCopies(t *testing.T) {
	db := tempDB(t)
	c := staff(t, db)
	ctx := context.Background()
	b := addBook(t, db, c, "9780000000001", 3)
	m1 := enroll(t, db, c, "amy", ClassStudent)
	m2 := enroll(t, db, c, "bob", ClassStudent)
	circ := NewCirculation(db, DefaultPolicy())

	for _, m := range []*Member{m1, m2} {
		if _, err := circ.IssueBook(ctx, c, b.BookID, m.MemberID, day0); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}

	if _, err := db.AdjustCopies(ctx, c, b.BookID, 1); KindOf(err) != KindValidation {
		t.Fatalf("shrinking below on-loan count: want validation, got %v", err)
	}
	got, err := db.AdjustCopies(ctx, c, b.BookID, 5)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if got.TotalCopies != 5 || got.AvailableCopies != 3 {
		t.Fatalf("after grow: %d/%d", got.AvailableCopies, got.TotalCopies)
	}
	got, err = db.AdjustCopies(ctx, c, b.BookID, 2)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if got.AvailableCopies != 0 {
		t.Fatalf("after shrink: %d available", got.AvailableCopies)
	}
}

func TestNormalizeISBN(t *testing.T) {
	for in, want := range map[string]string{
		"978-0-13-468599-1": "9780134685991",
		"0 306 40615 2":     "0306406152",
		"080442957x":        "080442957X",
	} {
		got, err := NormalizeISBN(in)
		if err != nil || got != want {
			t.Errorf("NormalizeISBN(%q) = %q, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "123", "X123456789", "97801346859912"} {
		if _, err := NormalizeISBN(bad); err == nil {
			t.Errorf("NormalizeISBN(%q) should fail", bad)
		}
	}
}
