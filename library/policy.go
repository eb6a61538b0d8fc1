package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLoanPeriod is how long a book may be kept before it is overdue.
	DefaultLoanPeriod = 14 * 24 * time.Hour
	// DefaultDailyRate is the fine per whole day overdue, in currency units.
	DefaultDailyRate int64 = 10
	// DefaultMaxRenewals caps how many times one loan can be extended.
	DefaultMaxRenewals = 2
)

// Policy holds the circulation rules.
type Policy struct {
	LoanPeriod  time.Duration
	DailyRate   int64
	Limits      map[MembershipClass]int
	MaxRenewals int
}

// DefaultPolicy: 14-day loans, 10 per day overdue, students hold up to 5
// books and staff or faculty up to 10.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod: DefaultLoanPeriod,
		DailyRate:  DefaultDailyRate,
		Limits: map[MembershipClass]int{
			ClassStudent: 5,
			ClassStaff:   10,
			ClassFaculty: 10,
		},
		MaxRenewals: DefaultMaxRenewals,
	}
}

// LimitFor returns the borrowing cap of a membership class.
func (p Policy) LimitFor(c MembershipClass) int {
	if n, ok := p.Limits[c]; ok {
		return n
	}
	return p.Limits[ClassStudent]
}

// ComputeFine returns the whole days between due and now and the fine they
// accrue. Returning at or before due costs nothing; partial days are dropped.
func ComputeFine(due, now time.Time, rate int64) (int, int64) {
	if !now.After(due) {
		return 0, 0
	}
	days := int(now.Sub(due) / (24 * time.Hour))
	return days, int64(days) * rate
}

// Observer is told about every circulation outcome. Metrics hook in here.
type Observer interface {
	LoanIssued(l *Loan)
	LoanReturned(l *Loan, f *Fine)
	LoanRenewed(l *Loan)
	Rejected(op string, kind Kind)
}

type nopObserver struct{}

func (nopObserver) LoanIssued(*Loan)          {}
func (nopObserver) LoanReturned(*Loan, *Fine) {}
func (nopObserver) LoanRenewed(*Loan)         {}
func (nopObserver) Rejected(string, Kind)     {}

// Circulation is the loan policy engine: it checks eligibility and applies
// issue, return and renew as single transactions against the stores.
type Circulation struct {
	db     *Database
	policy Policy
	log    logrus.FieldLogger
	obs    Observer
}

// CirculationOption configures a Circulation.
type CirculationOption func(*Circulation)

// WithLogger sets the logger used for circulation outcomes.
func WithLogger(l logrus.FieldLogger) CirculationOption {
	return func(c *Circulation) { c.log = l }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) CirculationOption {
	return func(c *Circulation) { c.obs = o }
}

// NewCirculation builds the engine over db.
func NewCirculation(db *Database, policy Policy, opts ...CirculationOption) *Circulation {
	c := &Circulation{db: db, policy: policy, log: logrus.StandardLogger(), obs: nopObserver{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the rules the engine enforces.
func (c *Circulation) Policy() Policy { return c.policy }

// Return describes the outcome of a return.
type Return struct {
	Loan        *Loan
	Fine        *Fine // nil when returned on time
	OverdueDays int
}

// Eligibility is the read-only verdict of CheckEligibility.
type Eligibility struct {
	Eligible bool
	Kind     Kind
	Subject  string
	Reason   string
	Held     int
	Limit    int
	Book     *Book
	Member   *Member
}

// IssueBook lends one copy of a book to a member.
//
// Checks run in order and the first failure is returned: book exists, member
// exists, member is active, a copy is available, the member does not already
// hold this book, the member is under their class limit. The counter
// decrement and the loan insert commit together or not at all.
func (c *Circulation) IssueBook(ctx context.Context, caller Caller, bookCode, memberCode string, now time.Time) (*Loan, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now = utc(now)

	var loan *Loan
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		book, member, err := c.evaluate(ctx, tx, bookCode, memberCode)
		if err != nil {
			return err
		}

		code, err := nextCode(ctx, tx, "loans", "loan_id", loanPrefix, now.Year(), loanSeqWidth)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE books SET available_copies = available_copies - 1 WHERE id=? AND available_copies > 0`, book.ID)
		if err != nil {
			return fmt.Errorf("decrement availability: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return newError(KindUnavailable, SubjectBook, "no copies of %q are available", book.Title)
		}

		loan = &Loan{
			LoanID:     code,
			BookRef:    book.ID,
			MemberRef:  member.ID,
			IssuedBy:   caller.UserID,
			IssuedAt:   now,
			DueAt:      now.Add(c.policy.LoanPeriod),
			Status:     LoanIssued,
			BookCode:   book.BookID,
			BookTitle:  book.Title,
			MemberCode: member.MemberID,
			MemberName: member.FullName(),
		}
		res, err = tx.ExecContext(ctx, `INSERT INTO loans
            (loan_id,book_ref,member_ref,issued_by,issued_at,due_at,status,fine_amount,renewals)
            VALUES (?,?,?,?,?,?,?,0,0)`,
			loan.LoanID, loan.BookRef, loan.MemberRef, loan.IssuedBy, loan.IssuedAt, loan.DueAt, loan.Status)
		if err != nil {
			if col, ok := uniqueColumn(err); ok && col == "loans.book_ref" {
				return conflict(SubjectAlreadyHeld, "%s already has %q", member.FullName(), book.Title)
			}
			return fmt.Errorf("insert loan: %w", err)
		}
		loan.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		c.reject("issue", err, logrus.Fields{"book": bookCode, "member": memberCode})
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"loan":   loan.LoanID,
		"book":   loan.BookCode,
		"member": loan.MemberCode,
		"due":    loan.DueAt.Format(time.RFC3339),
		"staff":  caller.Username,
	}).Info("book issued")
	c.obs.LoanIssued(loan)
	return loan, nil
}

// ReturnBook closes an issued loan, assessing a fine if it is late. The loan
// update, the counter increment and the optional fine insert commit together.
func (c *Circulation) ReturnBook(ctx context.Context, caller Caller, loanCode string, now time.Time) (*Return, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now = utc(now)

	out := &Return{}
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		loan, err := activeLoan(ctx, tx, loanCode)
		if err != nil {
			return err
		}

		days, amount := ComputeFine(loan.DueAt, now, c.policy.DailyRate)
		out.OverdueDays = days

		if amount > 0 {
			fine := &Fine{
				LoanRef:    loan.ID,
				MemberRef:  loan.MemberRef,
				Amount:     amount,
				Status:     FinePending,
				DueAt:      now,
				LoanCode:   loan.LoanID,
				MemberCode: loan.MemberCode,
				MemberName: loan.MemberName,
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO fines(loan_ref,member_ref,amount,paid_amount,status,due_at) VALUES (?,?,?,0,?,?)`,
				fine.LoanRef, fine.MemberRef, fine.Amount, fine.Status, fine.DueAt)
			if err != nil {
				return fmt.Errorf("insert fine: %w", err)
			}
			if fine.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			out.Fine = fine
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE loans SET status=?, returned_at=?, fine_amount=? WHERE id=? AND status=?`,
			LoanReturned, now, amount, loan.ID, LoanIssued); err != nil {
			return fmt.Errorf("close loan: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE books SET available_copies = available_copies + 1 WHERE id=? AND available_copies < total_copies`, loan.BookRef)
		if err != nil {
			return fmt.Errorf("increment availability: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("book %s already has every copy on the shelf", loan.BookCode)
		}

		loan.Status = LoanReturned
		loan.ReturnedAt = &now
		loan.FineAmount = amount
		out.Loan = loan
		return nil
	})
	if err != nil {
		c.reject("return", err, logrus.Fields{"loan": loanCode})
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"loan":         out.Loan.LoanID,
		"book":         out.Loan.BookCode,
		"member":       out.Loan.MemberCode,
		"overdue_days": out.OverdueDays,
		"fine":         out.Loan.FineAmount,
		"staff":        caller.Username,
	}).Info("book returned")
	c.obs.LoanReturned(out.Loan, out.Fine)
	return out, nil
}

// RenewLoan pushes the due date of an issued loan out by one loan period.
// Overdue loans must be returned instead, and renewals are capped.
func (c *Circulation) RenewLoan(ctx context.Context, caller Caller, loanCode string, now time.Time) (*Loan, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now = utc(now)

	var loan *Loan
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		l, err := activeLoan(ctx, tx, loanCode)
		if err != nil {
			return err
		}
		var status MemberStatus
		if err := tx.GetContext(ctx, &status, `SELECT status FROM members WHERE id=?`, l.MemberRef); err != nil {
			return err
		}
		if status != MemberActive {
			return newError(KindIneligible, SubjectMemberInactive, "%s is %s and cannot renew", l.MemberName, status)
		}
		if now.After(l.DueAt) {
			return newError(KindIneligible, SubjectLoanOverdue, "transaction %s is overdue; return it instead", l.LoanID)
		}
		if l.Renewals >= c.policy.MaxRenewals {
			return newError(KindLimitExceeded, SubjectActiveLoan, "transaction %s was already renewed %d times", l.LoanID, l.Renewals)
		}

		l.DueAt = l.DueAt.Add(c.policy.LoanPeriod)
		l.Renewals++
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET due_at=?, renewals=? WHERE id=?`, l.DueAt, l.Renewals, l.ID); err != nil {
			return fmt.Errorf("renew loan: %w", err)
		}
		loan = l
		return nil
	})
	if err != nil {
		c.reject("renew", err, logrus.Fields{"loan": loanCode})
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"loan":     loan.LoanID,
		"due":      loan.DueAt.Format(time.RFC3339),
		"renewals": loan.Renewals,
		"staff":    caller.Username,
	}).Info("loan renewed")
	c.obs.LoanRenewed(loan)
	return loan, nil
}

// CheckEligibility evaluates the issue rules without changing anything.
func (c *Circulation) CheckEligibility(ctx context.Context, bookCode, memberCode string) (*Eligibility, error) {
	book, member, err := c.evaluate(ctx, c.db.db, bookCode, memberCode)
	e := &Eligibility{Book: book, Member: member}
	if member != nil {
		e.Limit = c.policy.LimitFor(member.Class)
		if held, herr := heldCount(ctx, c.db.db, member.ID); herr == nil {
			e.Held = held
		}
	}
	var le *Error
	switch {
	case err == nil:
		e.Eligible = true
	case errors.As(err, &le):
		e.Kind, e.Subject, e.Reason = le.Kind, le.Subject, le.Reason
	default:
		return nil, err
	}
	return e, nil
}

// evaluate applies the issue preconditions in order, returning the loaded
// book and member for as far as the checks got.
func (c *Circulation) evaluate(ctx context.Context, q sqlx.QueryerContext, bookCode, memberCode string) (*Book, *Member, error) {
	bookCode = strings.ToUpper(strings.TrimSpace(bookCode))
	memberCode = strings.ToUpper(strings.TrimSpace(memberCode))

	var book Book
	err := sqlx.GetContext(ctx, q, &book, `SELECT `+columnList(bookColumns)+` FROM books WHERE book_id=?`, bookCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, notFound(SubjectBook, "book %s not found", bookCode)
	}
	if err != nil {
		return nil, nil, err
	}

	var member Member
	err = sqlx.GetContext(ctx, q, &member, `SELECT id,member_id,first_name,last_name,email,phone,department,course,
        COALESCE(registration_number,'') AS registration_number,membership_class,status,joined_at
        FROM members WHERE member_id=?`, memberCode)
	if errors.Is(err, sql.ErrNoRows) {
		return &book, nil, notFound(SubjectMember, "member %s not found", memberCode)
	}
	if err != nil {
		return &book, nil, err
	}

	if member.Status != MemberActive {
		return &book, &member, newError(KindIneligible, SubjectMemberInactive,
			"%s is %s and cannot borrow", member.FullName(), member.Status)
	}
	if book.AvailableCopies <= 0 {
		return &book, &member, newError(KindUnavailable, SubjectBook, "no copies of %q are available", book.Title)
	}

	var held bool
	if err := sqlx.GetContext(ctx, q, &held,
		`SELECT EXISTS(SELECT 1 FROM loans WHERE book_ref=? AND member_ref=? AND status='issued')`, book.ID, member.ID); err != nil {
		return &book, &member, err
	}
	if held {
		return &book, &member, conflict(SubjectAlreadyHeld, "%s already has %q", member.FullName(), book.Title)
	}

	count, err := heldCount(ctx, q, member.ID)
	if err != nil {
		return &book, &member, err
	}
	if limit := c.policy.LimitFor(member.Class); count >= limit {
		return &book, &member, newError(KindLimitExceeded, SubjectMember,
			"%s has reached the %s borrowing limit (%d books)", member.FullName(), member.Class, limit)
	}
	return &book, &member, nil
}

func heldCount(ctx context.Context, q sqlx.QueryerContext, memberRef int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM loans WHERE member_ref=? AND status='issued'`, memberRef)
	return n, err
}

// activeLoan loads an issued loan by code inside tx.
func activeLoan(ctx context.Context, tx *sqlx.Tx, code string) (*Loan, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	query, args, err := loanSelect().
		Where(
			goqu.I("l.loan_id").Eq(code),
			goqu.I("l.status").Eq(LoanIssued),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	var l Loan
	err = tx.GetContext(ctx, &l, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectActiveLoan, "no issued transaction %s (not found or already returned)", code)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Circulation) reject(op string, err error, fields logrus.Fields) {
	kind := KindOf(err)
	entry := c.log.WithFields(fields).WithField("op", op)
	if kind == "" {
		entry.WithError(err).Error("circulation failed")
		return
	}
	entry.WithField("kind", kind).Info(err.Error())
	c.obs.Rejected(op, kind)
}
