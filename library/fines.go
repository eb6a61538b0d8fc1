package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// FineFilter narrows ListFines.
type FineFilter struct {
	Status     FineStatus
	MemberCode string
	Limit      uint
}

func fineSelect() *goqu.SelectDataset {
	return dialect.From(goqu.T("fines").As("f")).
		Join(goqu.T("loans").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("f.loan_ref")))).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("f.member_ref")))).
		Select(
			goqu.I("f.id"), goqu.I("f.loan_ref"), goqu.I("f.member_ref"), goqu.I("f.amount"),
			goqu.I("f.paid_amount"), goqu.I("f.status"), goqu.I("f.due_at"), goqu.I("f.paid_at"),
			goqu.I("l.loan_id").As("loan_code"),
			goqu.I("m.member_id").As("member_code"),
			goqu.L(`m.first_name || ' ' || m.last_name`).As("member_name"),
		)
}

// GetFine fetches one fine by id.
func (d *Database) GetFine(ctx context.Context, id int64) (*Fine, error) {
	var f Fine
	err := d.getBuilt(ctx, &f, fineSelect().Where(goqu.I("f.id").Eq(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectFine, "fine %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFines returns fines matching f, most recent first.
func (d *Database) ListFines(ctx context.Context, f FineFilter) ([]*Fine, error) {
	ds := fineSelect().Order(goqu.I("f.due_at").Desc(), goqu.I("f.id").Desc())
	if f.Status != "" {
		ds = ds.Where(goqu.I("f.status").Eq(f.Status))
	}
	if code := strings.TrimSpace(f.MemberCode); code != "" {
		ds = ds.Where(goqu.I("m.member_id").Eq(strings.ToUpper(code)))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}
	fines := []*Fine{}
	if err := d.selectBuilt(ctx, &fines, ds); err != nil {
		return nil, err
	}
	return fines, nil
}

// OutstandingBalance sums what a member still owes on pending fines.
func (d *Database) OutstandingBalance(ctx context.Context, memberCode string) (int64, error) {
	ds := dialect.From(goqu.T("fines").As("f")).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("f.member_ref")))).
		Select(goqu.COALESCE(goqu.SUM(goqu.L("f.amount - f.paid_amount")), 0)).
		Where(
			goqu.I("m.member_id").Eq(strings.ToUpper(strings.TrimSpace(memberCode))),
			goqu.I("f.status").Eq(FinePending),
		)
	var total int64
	if err := d.getBuilt(ctx, &total, ds); err != nil {
		return 0, err
	}
	return total, nil
}

// RecordPayment records a manual payment against a pending fine. Partial
// payments are allowed; the fine becomes paid once fully covered.
func (d *Database) RecordPayment(ctx context.Context, caller Caller, fineID, amount int64, now time.Time) (*Fine, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, invalid(SubjectFine, "payment amount must be positive")
	}

	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		f, err := lockFine(ctx, tx, fineID)
		if err != nil {
			return err
		}
		if f.Status != FinePending {
			return conflict(SubjectFine, "fine %d is already %s", fineID, f.Status)
		}
		if remaining := f.Amount - f.PaidAmount; amount > remaining {
			return invalid(SubjectFine, "payment of %d exceeds the outstanding %d", amount, remaining)
		}

		paid := f.PaidAmount + amount
		status, paidAt := FinePending, sql.NullTime{}
		if paid == f.Amount {
			status, paidAt = FinePaid, sql.NullTime{Time: utc(now), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `UPDATE fines SET paid_amount=?, status=?, paid_at=? WHERE id=?`,
			paid, status, paidAt, fineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.GetFine(ctx, fineID)
}

// WaiveFine cancels what remains of a pending fine. Admins only.
func (d *Database) WaiveFine(ctx context.Context, caller Caller, fineID int64, now time.Time) (*Fine, error) {
	if !caller.IsAdmin() {
		return nil, newError(KindForbidden, SubjectUser, "only an admin can waive fines")
	}

	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		f, err := lockFine(ctx, tx, fineID)
		if err != nil {
			return err
		}
		if f.Status != FinePending {
			return conflict(SubjectFine, "fine %d is already %s", fineID, f.Status)
		}
		_, err = tx.ExecContext(ctx, `UPDATE fines SET status=?, paid_at=? WHERE id=?`, FineWaived, utc(now), fineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.GetFine(ctx, fineID)
}

// lockFine reads a fine inside tx; BEGIN IMMEDIATE already holds the write lock.
func lockFine(ctx context.Context, tx *sqlx.Tx, id int64) (*Fine, error) {
	var f Fine
	err := tx.GetContext(ctx, &f, `SELECT id,loan_ref,member_ref,amount,paid_amount,status,due_at,paid_at FROM fines WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectFine, "fine %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
