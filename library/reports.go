package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
)

// BookCount pairs a book with how often it was issued.
type BookCount struct {
	BookID string `db:"book_id" json:"book_id"`
	Title  string `db:"title" json:"title"`
	Author string `db:"author" json:"author"`
	Issues int    `db:"issues" json:"issues"`
}

// MemberCount pairs a member with how many loans they ever took.
type MemberCount struct {
	MemberID string `db:"member_id" json:"member_id"`
	Name     string `db:"name" json:"name"`
	Loans    int    `db:"loans" json:"loans"`
}

// CategoryCount is the number of titles in one catalog category.
type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Count    int    `db:"count" json:"count"`
}

// MonthCount is the number of loans issued in one YYYY-MM month.
type MonthCount struct {
	Month string `db:"month" json:"month"`
	Count int    `db:"count" json:"count"`
}

// Dashboard is the landing summary for staff.
type Dashboard struct {
	TotalBooks   int          `json:"total_books"`
	TotalMembers int          `json:"total_members"`
	Issued       int          `json:"issued"`
	Overdue      int          `json:"overdue"`
	Recent       []*Loan      `json:"recent"`
	Popular      []*BookCount `json:"popular"`
}

// Report is the circulation report.
type Report struct {
	ByCategory  []*CategoryCount `json:"by_category"`
	Monthly     []*MonthCount    `json:"monthly"`
	Overdue     []*Loan          `json:"overdue"`
	TopMembers  []*MemberCount   `json:"top_members"`
	Outstanding int64            `json:"outstanding"`
}

func (d *Database) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	var n int
	if err := d.getBuilt(ctx, &n, ds.Select(goqu.COUNT("*"))); err != nil {
		return 0, err
	}
	return n, nil
}

// DashboardStats gathers totals, the ten latest loans and the five most
// issued books. Overdue is judged against now.
func (d *Database) DashboardStats(ctx context.Context, now time.Time) (*Dashboard, error) {
	var (
		out = &Dashboard{}
		err error
	)
	if out.TotalBooks, err = d.count(ctx, dialect.From("books")); err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}
	if out.TotalMembers, err = d.count(ctx, dialect.From("members")); err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	issued := dialect.From("loans").Where(goqu.C("status").Eq(LoanIssued))
	if out.Issued, err = d.count(ctx, issued); err != nil {
		return nil, fmt.Errorf("count issued: %w", err)
	}
	if out.Overdue, err = d.count(ctx, issued.Where(goqu.C("due_at").Lt(utc(now)))); err != nil {
		return nil, fmt.Errorf("count overdue: %w", err)
	}
	if out.Recent, err = d.ListLoans(ctx, LoanFilter{Limit: 10}); err != nil {
		return nil, err
	}

	popular := dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_ref")))).
		Select(goqu.I("b.book_id"), goqu.I("b.title"), goqu.I("b.author"), goqu.COUNT(goqu.I("l.id")).As("issues")).
		GroupBy(goqu.I("b.id")).
		Order(goqu.C("issues").Desc(), goqu.I("b.title").Asc()).
		Limit(5)
	out.Popular = []*BookCount{}
	if err := d.selectBuilt(ctx, &out.Popular, popular); err != nil {
		return nil, fmt.Errorf("popular books: %w", err)
	}
	return out, nil
}

// Reports builds the circulation report: titles per category, loans per
// month for the last twelve months with activity, overdue loans, the ten
// heaviest borrowers and the total still owed on pending fines.
func (d *Database) Reports(ctx context.Context, now time.Time) (*Report, error) {
	out := &Report{
		ByCategory: []*CategoryCount{},
		Monthly:    []*MonthCount{},
		TopMembers: []*MemberCount{},
	}

	byCategory := dialect.From("books").
		Select(goqu.L(`COALESCE(NULLIF(category, ''), 'Uncategorized')`).As("category"), goqu.COUNT("*").As("count")).
		GroupBy(goqu.C("category")).
		Order(goqu.C("category").Asc())
	if err := d.selectBuilt(ctx, &out.ByCategory, byCategory); err != nil {
		return nil, fmt.Errorf("books by category: %w", err)
	}

	// Stored times render as "YYYY-MM-DD ...", so the first seven bytes are the month.
	monthly := dialect.From("loans").
		Select(goqu.L(`substr(issued_at, 1, 7)`).As("month"), goqu.COUNT("*").As("count")).
		GroupBy(goqu.C("month")).
		Order(goqu.C("month").Desc()).
		Limit(12)
	if err := d.selectBuilt(ctx, &out.Monthly, monthly); err != nil {
		return nil, fmt.Errorf("monthly issues: %w", err)
	}

	var err error
	if out.Overdue, err = d.ListLoans(ctx, LoanFilter{Overdue: true, Now: now}); err != nil {
		return nil, err
	}

	top := dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.member_ref")))).
		Select(
			goqu.I("m.member_id"),
			goqu.L(`m.first_name || ' ' || m.last_name`).As("name"),
			goqu.COUNT(goqu.I("l.id")).As("loans"),
		).
		GroupBy(goqu.I("m.id")).
		Order(goqu.C("loans").Desc(), goqu.I("m.member_id").Asc()).
		Limit(10)
	if err := d.selectBuilt(ctx, &out.TopMembers, top); err != nil {
		return nil, fmt.Errorf("top members: %w", err)
	}

	owed := dialect.From("fines").
		Select(goqu.COALESCE(goqu.SUM(goqu.L("amount - paid_amount")), 0)).
		Where(goqu.C("status").Eq(FinePending))
	if err := d.getBuilt(ctx, &out.Outstanding, owed); err != nil {
		return nil, fmt.Errorf("outstanding fines: %w", err)
	}
	return out, nil
}
