package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newManager(t *testing.T, now *time.Time) *LibraryManager {
	dir := t.TempDir()
	mgr, err := NewLibraryManager(filepath.Join(dir, "lib.db"), WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("mgr: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestManagerLoanLifecycle(t *testing.T) {
	now := day0
	mgr := newManager(t, &now)
	ctx := context.Background()

	if _, err := mgr.EnsureAdmin(ctx, "admin@example.com", "admin-pass"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	admin, err := mgr.Authenticate(ctx, "admin", "admin-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	book, err := mgr.AddBook(ctx, admin, NewBook{Title: "Things Fall Apart", Author: "Achebe", ISBN: "9780385474542", TotalCopies: 1})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	member, err := mgr.EnrollMember(ctx, admin, NewMember{FirstName: "Okonkwo", LastName: "Umuofia", Email: "ok@example.com"})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	loan, err := mgr.IssueBook(ctx, admin, book.BookID, member.MemberID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(16 * 24 * time.Hour)
	overdue, err := mgr.ListLoans(ctx, LoanFilter{Overdue: true})
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].LoanID != loan.LoanID {
		t.Fatalf("overdue = %v", overdue)
	}
	if _, err := mgr.RenewLoan(ctx, admin, loan.LoanID); KindOf(err) != KindIneligible {
		t.Fatalf("renewing overdue loan: %v", err)
	}

	ret, err := mgr.ReturnBook(ctx, admin, loan.LoanID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if ret.Fine == nil || ret.Fine.Amount != 20 {
		t.Fatalf("fine = %+v", ret.Fine)
	}
	if _, err := mgr.WaiveFine(ctx, admin, ret.Fine.ID); err != nil {
		t.Fatalf("waive: %v", err)
	}
	owed, _ := mgr.OutstandingBalance(ctx, member.MemberID)
	if owed != 0 {
		t.Fatalf("owed = %d", owed)
	}

	avail, err := mgr.AvailableBooks(ctx, "achebe")
	if err != nil || len(avail) != 1 {
		t.Fatalf("available books: %v %v", avail, err)
	}
}

func TestPrettyLoanMarksOverdue(t *testing.T) {
	l := &Loan{LoanID: "TRX2024000001", Status: LoanIssued, DueAt: day0}
	if got := PrettyLoan(l, day0.Add(time.Hour)); got[len(got)-8:] != "overdue " {
		t.Fatalf("PrettyLoan = %q", got)
	}
}
