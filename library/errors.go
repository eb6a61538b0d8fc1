package library

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies a rule failure so callers can react without parsing messages.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindIneligible    Kind = "ineligible"
	KindUnavailable   Kind = "unavailable"
	KindConflict      Kind = "conflict"
	KindLimitExceeded Kind = "limit_exceeded"
	KindValidation    Kind = "validation"
	KindForbidden     Kind = "forbidden"
)

// Subjects name what a failure is about.
const (
	SubjectBook           = "book"
	SubjectMember         = "member"
	SubjectActiveLoan     = "activeLoan"
	SubjectMemberInactive = "memberInactive"
	SubjectAlreadyHeld    = "alreadyHeld"
	SubjectLoanOverdue    = "loanOverdue"
	SubjectFine           = "fine"
	SubjectUser           = "user"
)

// Error is a user-visible failure of a library operation. Reason is safe to
// show to staff as is.
type Error struct {
	Kind    Kind
	Subject string
	Reason  string
}

func (e *Error) Error() string { return e.Reason }

// Is matches on Kind alone so errors.Is(err, ErrNotFound) works for every subject.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Subject != "" && t.Subject != e.Subject {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrIneligible    = &Error{Kind: KindIneligible}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrLimitExceeded = &Error{Kind: KindLimitExceeded}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrForbidden     = &Error{Kind: KindForbidden}
)

func newError(kind Kind, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

func notFound(subject, format string, args ...any) *Error {
	return newError(KindNotFound, subject, format, args...)
}

func invalid(subject, format string, args ...any) *Error {
	return newError(KindValidation, subject, format, args...)
}

func conflict(subject, format string, args ...any) *Error {
	return newError(KindConflict, subject, format, args...)
}

// KindOf returns the Kind of a library error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// requireCaller rejects operations attempted without a logged-in user.
func requireCaller(c Caller) error {
	if !c.Authenticated() {
		return newError(KindForbidden, SubjectUser, "you must be logged in to do that")
	}
	return nil
}

// uniqueColumn returns the table.column a SQLite UNIQUE constraint failed
// on, or ok=false for any other error.
func uniqueColumn(err error) (column string, ok bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return "", false
	}
	// The driver reports "UNIQUE constraint failed: t.a, t.b"; the first column names it.
	_, cols, _ := strings.Cut(se.Error(), ": ")
	column, _, _ = strings.Cut(cols, ",")
	return strings.TrimSpace(column), true
}

// uniqueViolation maps SQLite UNIQUE failures onto Conflict errors with a
// readable reason, and passes anything else through.
func uniqueViolation(err error, subject string) error {
	column, ok := uniqueColumn(err)
	if !ok {
		return err
	}
	field := column[strings.LastIndex(column, ".")+1:]
	return conflict(subject, "a %s with that %s already exists", subject, strings.ReplaceAll(field, "_", " "))
}
