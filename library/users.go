package library

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password a staff account may use.
const MinPasswordLength = 8

var userColumns = []any{"id", "username", "email", "password_hash", "role", "created_at"}

// errBadCredentials is returned for both unknown users and wrong passwords.
var errBadCredentials = newError(KindForbidden, SubjectUser, "invalid username or password")

// CreateUser stores a staff account with a bcrypt hash of password.
func (d *Database) CreateUser(ctx context.Context, username, email, password string, role Role, now time.Time) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" {
		return nil, invalid(SubjectUser, "username is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid(SubjectUser, "email %q is not valid", email)
	}
	if len(password) < MinPasswordLength {
		return nil, invalid(SubjectUser, "password must be at least %d characters", MinPasswordLength)
	}
	if role == "" {
		role = RoleLibrarian
	}
	if !role.Valid() {
		return nil, invalid(SubjectUser, "role must be admin or librarian")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{Username: username, Email: email, PasswordHash: string(hash), Role: role, CreatedAt: utc(now)}
	res, err := d.db.NamedExecContext(ctx,
		`INSERT INTO users(username,email,password_hash,role,created_at) VALUES (:username,:email,:password_hash,:role,:created_at)`, u)
	if err != nil {
		return nil, uniqueViolation(err, SubjectUser)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a staff account by id.
func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	return d.getUser(ctx, goqu.Ex{"id": id})
}

// GetUserByUsername fetches a staff account by login name.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return d.getUser(ctx, goqu.Ex{"username": strings.TrimSpace(username)})
}

func (d *Database) getUser(ctx context.Context, where goqu.Ex) (*User, error) {
	var u User
	err := d.getBuilt(ctx, &u, dialect.From("users").Select(userColumns...).Where(where))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(SubjectUser, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate verifies a username and password and returns the caller
// identity to thread into later operations.
func (d *Database) Authenticate(ctx context.Context, username, password string) (Caller, error) {
	u, err := d.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Caller{}, errBadCredentials
	}
	if err != nil {
		return Caller{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Caller{}, errBadCredentials
	}
	return Caller{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}

// EnsureAdmin creates the "admin" account with password if no admin exists
// yet. It reports whether an account was created.
func (d *Database) EnsureAdmin(ctx context.Context, email, password string, now time.Time) (bool, error) {
	var n int
	if err := d.getBuilt(ctx, &n, dialect.From("users").Select(goqu.COUNT("*")).Where(goqu.C("role").Eq(RoleAdmin))); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := d.CreateUser(ctx, "admin", email, password, RoleAdmin, now); err != nil {
		return false, err
	}
	return true, nil
}
