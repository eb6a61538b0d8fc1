package library

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

const (
	bookPrefix = "B"
	loanPrefix = "TRX"

	bookSeqWidth   = 4
	memberSeqWidth = 4
	loanSeqWidth   = 6
)

// classPrefix is the member identifier prefix for each membership class.
var classPrefix = map[MembershipClass]string{
	ClassStudent: "STU",
	ClassStaff:   "STF",
	ClassFaculty: "FAC",
}

// FormatCode renders prefix, year and sequence the way identifiers are stored,
// e.g. FormatCode("STU", 2024, 7, 4) == "STU20240007".
func FormatCode(prefix string, year, seq, width int) string {
	return fmt.Sprintf("%s%04d%0*d", prefix, year, width, seq)
}

// allocatedShape reports whether code looks like an identifier nextCode
// would hand out for prefix, so callers cannot claim part of a sequence.
func allocatedShape(code, prefix string, width int) bool {
	rest, ok := strings.CutPrefix(code, prefix)
	return ok && len(rest) == 4+width && allDigits(rest)
}

// nextCode allocates the next identifier for prefix+year in table.column.
//
// It must run inside the transaction that inserts the new row: the
// transaction holds SQLite's write lock from BEGIN IMMEDIATE, so no other
// writer can observe the same maximum before this one commits.
func nextCode(ctx context.Context, tx *sqlx.Tx, table, column, prefix string, year, width int) (string, error) {
	stem := fmt.Sprintf("%s%04d", prefix, year)
	pattern := stem + strings.Repeat("[0-9]", width)

	query, args, err := dialect.From(table).
		Select(goqu.MAX(column)).
		Where(goqu.L(column+" GLOB ?", pattern)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build sequence query: %w", err)
	}

	var last sql.NullString
	if err := tx.GetContext(ctx, &last, query, args...); err != nil {
		return "", fmt.Errorf("read %s sequence: %w", table, err)
	}

	seq := 0
	if last.Valid {
		n, err := strconv.Atoi(last.String[len(stem):])
		if err != nil {
			return "", fmt.Errorf("parse %s sequence %q: %w", table, last.String, err)
		}
		seq = n
	}

	next := seq + 1
	if len(strconv.Itoa(next)) > width {
		return "", fmt.Errorf("%s sequence for %s exhausted", table, stem)
	}
	return FormatCode(prefix, year, next, width), nil
}
