package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
)

// LoanFilter narrows ListLoans. Overdue needs Now to decide what is late.
type LoanFilter struct {
	Status     LoanStatus
	Search     string
	MemberCode string
	Overdue    bool
	Now        time.Time
	Limit      uint
}

// loanSelect joins each loan with the book and member it references.
func loanSelect() *goqu.SelectDataset {
	return dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_ref")))).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.member_ref")))).
		Select(
			goqu.I("l.id"), goqu.I("l.loan_id"), goqu.I("l.book_ref"), goqu.I("l.member_ref"),
			goqu.I("l.issued_by"), goqu.I("l.issued_at"), goqu.I("l.due_at"), goqu.I("l.returned_at"),
			goqu.I("l.status"), goqu.I("l.fine_amount"), goqu.I("l.renewals"),
			goqu.I("b.book_id").As("book_code"),
			goqu.I("b.title").As("book_title"),
			goqu.I("m.member_id").As("member_code"),
			goqu.L(`m.first_name || ' ' || m.last_name`).As("member_name"),
		)
}

// GetLoanByCode fetches a loan (in any status) by its transaction identifier.
func (d *Database) GetLoanByCode(ctx context.Context, code string) (*Loan, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var l Loan
	err := d.getBuilt(ctx, &l, loanSelect().Where(goqu.I("l.loan_id").Eq(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectActiveLoan, "transaction %s not found", code)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLoans returns loans matching f, newest issue first.
func (d *Database) ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error) {
	ds := loanSelect().Order(goqu.I("l.issued_at").Desc(), goqu.I("l.id").Desc())
	if f.Status != "" {
		ds = ds.Where(goqu.I("l.status").Eq(f.Status))
	}
	if f.Overdue {
		ds = ds.Where(
			goqu.I("l.status").Eq(LoanIssued),
			goqu.I("l.due_at").Lt(utc(f.Now)),
		)
	}
	if code := strings.TrimSpace(f.MemberCode); code != "" {
		ds = ds.Where(goqu.I("m.member_id").Eq(strings.ToUpper(code)))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		ds = ds.Where(containsAny(term,
			goqu.I("m.first_name"), goqu.I("m.last_name"), goqu.I("l.loan_id"), goqu.I("b.title")))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	loans := []*Loan{}
	if err := d.selectBuilt(ctx, &loans, ds); err != nil {
		return nil, err
	}
	return loans, nil
}

// ActiveLoans lists a member's issued loans, oldest due date first.
func (d *Database) ActiveLoans(ctx context.Context, memberCode string) ([]*Loan, error) {
	ds := loanSelect().
		Where(
			goqu.I("m.member_id").Eq(strings.ToUpper(strings.TrimSpace(memberCode))),
			goqu.I("l.status").Eq(LoanIssued),
		).
		Order(goqu.I("l.due_at").Asc())
	loans := []*Loan{}
	if err := d.selectBuilt(ctx, &loans, ds); err != nil {
		return nil, err
	}
	return loans, nil
}
