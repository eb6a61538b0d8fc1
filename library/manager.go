package library

import (
	"context"
	"fmt"
	"time"
)

// LibraryManager is a thin façade over the Database and the circulation
// engine, keeping CLI and web code simple. It stamps every operation with
// the current time from its clock.
type LibraryManager struct {
	db     *Database
	circ   *Circulation
	policy Policy
	opts   []CirculationOption
	clock  func() time.Time
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option { return func(lm *LibraryManager) { lm.policy = p } }

// WithClock replaces time.Now; tests use it to move through loan periods.
func WithClock(now func() time.Time) Option { return func(lm *LibraryManager) { lm.clock = now } }

// WithCirculation passes options through to the circulation engine.
func WithCirculation(opts ...CirculationOption) Option {
	return func(lm *LibraryManager) { lm.opts = append(lm.opts, opts...) }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{db: db, policy: DefaultPolicy(), clock: time.Now}
	for _, opt := range opts {
		opt(lm)
	}
	lm.circ = NewCirculation(db, lm.policy, lm.opts...)
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Ping checks the database connection.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// Now is the manager's notion of the current time.
func (lm *LibraryManager) Now() time.Time { return lm.clock() }

// Policy returns the circulation rules in force.
func (lm *LibraryManager) Policy() Policy { return lm.policy }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, caller Caller, nb NewBook) (*Book, error) {
	return lm.db.AddBook(ctx, caller, nb, lm.Now())
}

func (lm *LibraryManager) GetBook(ctx context.Context, code string) (*Book, error) {
	return lm.db.GetBookByCode(ctx, code)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	return lm.db.ListBooks(ctx, f)
}

func (lm *LibraryManager) Categories(ctx context.Context) ([]string, error) {
	return lm.db.Categories(ctx)
}

func (lm *LibraryManager) AdjustCopies(ctx context.Context, caller Caller, code string, total int) (*Book, error) {
	return lm.db.AdjustCopies(ctx, caller, code, total)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) EnrollMember(ctx context.Context, caller Caller, nm NewMember) (*Member, error) {
	return lm.db.EnrollMember(ctx, caller, nm, lm.Now())
}

func (lm *LibraryManager) GetMember(ctx context.Context, code string) (*Member, error) {
	return lm.db.GetMemberByCode(ctx, code)
}

func (lm *LibraryManager) ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error) {
	return lm.db.ListMembers(ctx, f)
}

func (lm *LibraryManager) Departments(ctx context.Context) ([]string, error) {
	return lm.db.Departments(ctx)
}

func (lm *LibraryManager) SetMemberStatus(ctx context.Context, caller Caller, code string, status MemberStatus) (*Member, error) {
	return lm.db.SetMemberStatus(ctx, caller, code, status)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) IssueBook(ctx context.Context, caller Caller, bookCode, memberCode string) (*Loan, error) {
	return lm.circ.IssueBook(ctx, caller, bookCode, memberCode, lm.Now())
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, caller Caller, loanCode string) (*Return, error) {
	return lm.circ.ReturnBook(ctx, caller, loanCode, lm.Now())
}

func (lm *LibraryManager) RenewLoan(ctx context.Context, caller Caller, loanCode string) (*Loan, error) {
	return lm.circ.RenewLoan(ctx, caller, loanCode, lm.Now())
}

func (lm *LibraryManager) CheckEligibility(ctx context.Context, bookCode, memberCode string) (*Eligibility, error) {
	return lm.circ.CheckEligibility(ctx, bookCode, memberCode)
}

func (lm *LibraryManager) GetLoan(ctx context.Context, code string) (*Loan, error) {
	return lm.db.GetLoanByCode(ctx, code)
}

// ListLoans lists loans; an Overdue filter is judged against the manager clock.
func (lm *LibraryManager) ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error) {
	if f.Now.IsZero() {
		f.Now = lm.Now()
	}
	return lm.db.ListLoans(ctx, f)
}

func (lm *LibraryManager) ActiveLoans(ctx context.Context, memberCode string) ([]*Loan, error) {
	return lm.db.ActiveLoans(ctx, memberCode)
}

// ------------------ Fines ------------------

func (lm *LibraryManager) ListFines(ctx context.Context, f FineFilter) ([]*Fine, error) {
	return lm.db.ListFines(ctx, f)
}

func (lm *LibraryManager) GetFine(ctx context.Context, id int64) (*Fine, error) {
	return lm.db.GetFine(ctx, id)
}

func (lm *LibraryManager) OutstandingBalance(ctx context.Context, memberCode string) (int64, error) {
	return lm.db.OutstandingBalance(ctx, memberCode)
}

func (lm *LibraryManager) PayFine(ctx context.Context, caller Caller, id, amount int64) (*Fine, error) {
	return lm.db.RecordPayment(ctx, caller, id, amount, lm.Now())
}

func (lm *LibraryManager) WaiveFine(ctx context.Context, caller Caller, id int64) (*Fine, error) {
	return lm.db.WaiveFine(ctx, caller, id, lm.Now())
}

// ------------------ Search & reports ------------------

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	return lm.db.SearchBooks(ctx, q)
}

func (lm *LibraryManager) SearchMembers(ctx context.Context, q string) ([]*Member, error) {
	return lm.db.SearchMembers(ctx, q)
}

func (lm *LibraryManager) AvailableBooks(ctx context.Context, q string) ([]*Book, error) {
	return lm.db.AvailableBooks(ctx, q)
}

func (lm *LibraryManager) Dashboard(ctx context.Context) (*Dashboard, error) {
	return lm.db.DashboardStats(ctx, lm.Now())
}

func (lm *LibraryManager) Reports(ctx context.Context) (*Report, error) {
	return lm.db.Reports(ctx, lm.Now())
}

// ------------------ Staff accounts ------------------

func (lm *LibraryManager) CreateUser(ctx context.Context, username, email, password string, role Role) (*User, error) {
	return lm.db.CreateUser(ctx, username, email, password, role, lm.Now())
}

func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (Caller, error) {
	return lm.db.Authenticate(ctx, username, password)
}

func (lm *LibraryManager) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	return lm.db.EnsureAdmin(ctx, email, password, lm.Now())
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-12s %-30.30s %-22.22s %-15s %3d/%-3d", b.BookID, b.Title, b.Author, b.ISBN, b.AvailableCopies, b.TotalCopies)
}

// PrettyLoan formats a loan for lists.
func PrettyLoan(l *Loan, now time.Time) string {
	state := string(l.Status)
	if l.Overdue(now) {
		state = "overdue"
	}
	return fmt.Sprintf("%-16s %-12s %-28.28s %-12s %-20.20s %s %-8s",
		l.LoanID, l.BookCode, l.BookTitle, l.MemberCode, l.MemberName, l.DueAt.Local().Format("2006-01-02"), state)
}
