package library

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// NewMember is the input of the enrollment operation.
type NewMember struct {
	FirstName          string
	LastName           string
	Email              string
	Phone              string
	Department         string
	Course             string
	RegistrationNumber string
	Class              MembershipClass
}

// MemberFilter narrows ListMembers.
type MemberFilter struct {
	Search     string
	Department string
	Status     MemberStatus
	Limit      uint
}

var memberColumns = []any{
	"id", "member_id", "first_name", "last_name", "email", "phone", "department", "course",
	goqu.COALESCE(goqu.C("registration_number"), "").As("registration_number"),
	"membership_class", "status", "joined_at",
}

func (nm *NewMember) validate() error {
	nm.FirstName = strings.TrimSpace(nm.FirstName)
	nm.LastName = strings.TrimSpace(nm.LastName)
	nm.Email = strings.ToLower(strings.TrimSpace(nm.Email))
	nm.RegistrationNumber = strings.TrimSpace(nm.RegistrationNumber)
	if nm.Class == "" {
		nm.Class = ClassStudent
	}
	if nm.FirstName == "" || nm.LastName == "" {
		return invalid(SubjectMember, "first and last name are required")
	}
	if _, err := mail.ParseAddress(nm.Email); err != nil {
		return invalid(SubjectMember, "email %q is not valid", nm.Email)
	}
	if !nm.Class.Valid() {
		return invalid(SubjectMember, "membership class must be student, staff or faculty")
	}
	return nil
}

// EnrollMember validates nm and inserts an active member. The member
// identifier uses the class prefix and the year of now, and is allocated in
// the same transaction as the insert.
func (d *Database) EnrollMember(ctx context.Context, caller Caller, nm NewMember, now time.Time) (*Member, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := nm.validate(); err != nil {
		return nil, err
	}

	m := &Member{
		FirstName:          nm.FirstName,
		LastName:           nm.LastName,
		Email:              nm.Email,
		Phone:              strings.TrimSpace(nm.Phone),
		Department:         strings.TrimSpace(nm.Department),
		Course:             strings.TrimSpace(nm.Course),
		RegistrationNumber: nm.RegistrationNumber,
		Class:              nm.Class,
		Status:             MemberActive,
		JoinedAt:           utc(now),
	}

	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		code, err := nextCode(ctx, tx, "members", "member_id", classPrefix[m.Class], m.JoinedAt.Year(), memberSeqWidth)
		if err != nil {
			return err
		}
		m.MemberID = code

		res, err := tx.ExecContext(ctx, `INSERT INTO members
            (member_id,first_name,last_name,email,phone,department,course,registration_number,membership_class,status,joined_at)
            VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			m.MemberID, m.FirstName, m.LastName, m.Email, m.Phone, m.Department, m.Course,
			nullIfEmpty(m.RegistrationNumber), m.Class, m.Status, m.JoinedAt)
		if err != nil {
			return uniqueViolation(err, SubjectMember)
		}
		m.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemberByCode fetches a member by human-readable identifier.
func (d *Database) GetMemberByCode(ctx context.Context, code string) (*Member, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var m Member
	err := d.getBuilt(ctx, &m, dialect.From("members").Select(memberColumns...).Where(goqu.Ex{"member_id": code}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectMember, "member %s not found", code)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns members matching f ordered by first name.
func (d *Database) ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error) {
	ds := dialect.From("members").Select(memberColumns...).
		Order(goqu.C("first_name").Asc(), goqu.C("last_name").Asc(), goqu.C("id").Asc())
	if term := strings.TrimSpace(f.Search); term != "" {
		ds = ds.Where(containsAny(term,
			goqu.C("first_name"), goqu.C("last_name"), goqu.C("member_id"), goqu.C("registration_number")))
	}
	if dep := strings.TrimSpace(f.Department); dep != "" {
		ds = ds.Where(goqu.C("department").Eq(dep))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	members := []*Member{}
	if err := d.selectBuilt(ctx, &members, ds); err != nil {
		return nil, err
	}
	return members, nil
}

// Departments returns the distinct, non-empty departments of enrolled members.
func (d *Database) Departments(ctx context.Context) ([]string, error) {
	ds := dialect.From("members").
		Select(goqu.C("department")).Distinct().
		Where(goqu.C("department").Neq("")).
		Order(goqu.C("department").Asc())
	var out []string
	if err := d.selectBuilt(ctx, &out, ds); err != nil {
		return nil, err
	}
	return out, nil
}

// SetMemberStatus moves a member between active, suspended and graduated.
// Loans already issued are untouched; the status only gates new issues.
func (d *Database) SetMemberStatus(ctx context.Context, caller Caller, code string, status MemberStatus) (*Member, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, invalid(SubjectMember, "status must be active, suspended or graduated")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := d.db.ExecContext(ctx, `UPDATE members SET status=? WHERE member_id=?`, status, code)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, notFound(SubjectMember, "member %s not found", code)
	}
	return d.GetMemberByCode(ctx, code)
}

// GetMember fetches a member by row id.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	err := d.getBuilt(ctx, &m, dialect.From("members").Select(memberColumns...).Where(goqu.Ex{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectMember, "member %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
