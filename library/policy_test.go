package library

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneDay = 24 * time.Hour

type recordingObserver struct {
	issued, returned, renewed int
	fines                     int64
	rejected                  map[Kind]int
}

func (o *recordingObserver) LoanIssued(*Loan) { o.issued++ }
func (o *recordingObserver) LoanReturned(_ *Loan, f *Fine) {
	o.returned++
	if f != nil {
		o.fines += f.Amount
	}
}
func (o *recordingObserver) LoanRenewed(*Loan) { o.renewed++ }
func (o *recordingObserver) Rejected(_ string, k Kind) {
	if o.rejected == nil {
		o.rejected = map[Kind]int{}
	}
	o.rejected[k]++
}

type fixture struct {
	db   *Database
	circ *Circulation
	obs  *recordingObserver
	c    Caller
	ctx  context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := tempDB(t)
	obs := &recordingObserver{}
	return &fixture{
		db:   db,
		circ: NewCirculation(db, DefaultPolicy(), WithObserver(obs)),
		obs:  obs,
		c:    staff(t, db),
		ctx:  context.Background(),
	}
}

func (f *fixture) book(t *testing.T, code string) *Book {
	t.Helper()
	b, err := f.db.GetBookByCode(f.ctx, code)
	require.NoError(t, err)
	return b
}

func TestComputeFine(t *testing.T) {
	due := day0.Add(14 * oneDay)
	cases := []struct {
		name     string
		now      time.Time
		days     int
		expected int64
	}{
		{"early", due.Add(-time.Hour), 0, 0},
		{"exactly due", due, 0, 0},
		{"partial day", due.Add(23 * time.Hour), 0, 0},
		{"one day", due.Add(oneDay), 1, 10},
		{"three days", due.Add(3 * oneDay), 3, 30},
		{"three and a half days", due.Add(3*oneDay + 12*time.Hour), 3, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			days, amount := ComputeFine(due, tc.now, DefaultDailyRate)
			assert.Equal(t, tc.days, days)
			assert.Equal(t, tc.expected, amount)
		})
	}
}

func TestIssueScenarioExhaustsCopies(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 2)
	require.Equal(t, "B20240001", b.BookID)
	m1 := enroll(t, f.db, f.c, "ann", ClassStudent)
	m2 := enroll(t, f.db, f.c, "ben", ClassStudent)
	m3 := enroll(t, f.db, f.c, "cat", ClassStudent)
	require.Equal(t, "STU20240001", m1.MemberID)
	require.Equal(t, "STU20240002", m2.MemberID)

	loan, err := f.circ.IssueBook(f.ctx, f.c, "B20240001", "STU20240001", day0)
	require.NoError(t, err)
	assert.Equal(t, LoanIssued, loan.Status)
	assert.Equal(t, "TRX2024000001", loan.LoanID)
	assert.True(t, loan.DueAt.Equal(day0.Add(14*oneDay)))
	assert.Equal(t, 1, f.book(t, b.BookID).AvailableCopies)

	_, err = f.circ.IssueBook(f.ctx, f.c, "B20240001", "STU20240002", day0)
	require.NoError(t, err)
	assert.Equal(t, 0, f.book(t, b.BookID).AvailableCopies)

	_, err = f.circ.IssueBook(f.ctx, f.c, "B20240001", m3.MemberID, day0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, f.book(t, b.BookID).AvailableCopies)
	assert.Equal(t, 2, f.obs.issued)
	assert.Equal(t, 1, f.obs.rejected[KindUnavailable])
}

func TestReturnLateAssessesFine(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)

	loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	ret, err := f.circ.ReturnBook(f.ctx, f.c, loan.LoanID, day0.Add(17*oneDay))
	require.NoError(t, err)
	assert.Equal(t, 3, ret.OverdueDays)
	assert.Equal(t, LoanReturned, ret.Loan.Status)
	assert.EqualValues(t, 30, ret.Loan.FineAmount)
	require.NotNil(t, ret.Fine)
	assert.EqualValues(t, 30, ret.Fine.Amount)
	assert.Equal(t, FinePending, ret.Fine.Status)
	assert.Equal(t, 1, f.book(t, b.BookID).AvailableCopies)

	stored, err := f.db.GetLoanByCode(f.ctx, loan.LoanID)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, stored.Status)
	require.NotNil(t, stored.ReturnedAt)
	assert.True(t, stored.ReturnedAt.Equal(day0.Add(17*oneDay)))

	fines, err := f.db.ListFines(f.ctx, FineFilter{MemberCode: m.MemberID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, loan.LoanID, fines[0].LoanCode)

	owed, err := f.db.OutstandingBalance(f.ctx, m.MemberID)
	require.NoError(t, err)
	assert.EqualValues(t, 30, owed)
	assert.EqualValues(t, 30, f.obs.fines)
}

func TestReturnOnTimeHasNoFine(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)

	loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	ret, err := f.circ.ReturnBook(f.ctx, f.c, loan.LoanID, loan.DueAt)
	require.NoError(t, err)
	assert.Nil(t, ret.Fine)
	assert.Zero(t, ret.Loan.FineAmount)

	fines, err := f.db.ListFines(f.ctx, FineFilter{})
	require.NoError(t, err)
	assert.Empty(t, fines)
}

func TestReturnTwiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)
	loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	_, err = f.circ.ReturnBook(f.ctx, f.c, loan.LoanID, day0.Add(20*oneDay))
	require.NoError(t, err)
	_, err = f.circ.ReturnBook(f.ctx, f.c, loan.LoanID, day0.Add(21*oneDay))
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound, Subject: SubjectActiveLoan})

	fines, err := f.db.ListFines(f.ctx, FineFilter{})
	require.NoError(t, err)
	assert.Len(t, fines, 1, "a second return must not add a fine")
	assert.Equal(t, 1, f.book(t, b.BookID).AvailableCopies)
}

func TestIssueRejectsDuplicateHold(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 3)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)

	_, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)
	_, err = f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	assert.ErrorIs(t, err, &Error{Kind: KindConflict, Subject: SubjectAlreadyHeld})
	assert.Equal(t, 2, f.book(t, b.BookID).AvailableCopies)
}

func TestIssueEnforcesClassLimits(t *testing.T) {
	f := newFixture(t)
	student := enroll(t, f.db, f.c, "ann", ClassStudent)
	faculty := enroll(t, f.db, f.c, "fay", ClassFaculty)

	var codes []string
	for i := 1; i <= 11; i++ {
		codes = append(codes, addBook(t, f.db, f.c, fmt.Sprintf("97800000000%02d", i), 2).BookID)
	}

	for i := 0; i < 5; i++ {
		_, err := f.circ.IssueBook(f.ctx, f.c, codes[i], student.MemberID, day0)
		require.NoError(t, err)
	}
	_, err := f.circ.IssueBook(f.ctx, f.c, codes[5], student.MemberID, day0)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	for i := 0; i < 10; i++ {
		_, err := f.circ.IssueBook(f.ctx, f.c, codes[i], faculty.MemberID, day0)
		require.NoError(t, err)
	}
	_, err = f.circ.IssueBook(f.ctx, f.c, codes[10], faculty.MemberID, day0)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	active, err := f.db.ActiveLoans(f.ctx, student.MemberID)
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestIssuePreconditionOrder(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)
	other := enroll(t, f.db, f.c, "ben", ClassStudent)

	_, err := f.circ.IssueBook(f.ctx, f.c, "B20249999", "STU20249999", day0)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound, Subject: SubjectBook})

	_, err = f.circ.IssueBook(f.ctx, f.c, b.BookID, "STU20249999", day0)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound, Subject: SubjectMember})

	_, err = f.circ.IssueBook(f.ctx, f.c, b.BookID, other.MemberID, day0)
	require.NoError(t, err)

	// Suspended and out of stock: the member check comes first.
	_, err = f.db.SetMemberStatus(f.ctx, f.c, m.MemberID, MemberSuspended)
	require.NoError(t, err)
	_, err = f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	assert.ErrorIs(t, err, &Error{Kind: KindIneligible, Subject: SubjectMemberInactive})

	_, err = f.circ.IssueBook(f.ctx, Caller{}, b.BookID, m.MemberID, day0)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCountersStayInBounds(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 2)
	members := []*Member{
		enroll(t, f.db, f.c, "ann", ClassStudent),
		enroll(t, f.db, f.c, "ben", ClassStaff),
		enroll(t, f.db, f.c, "cat", ClassFaculty),
	}

	now := day0
	var open []*Loan
	for round := 0; round < 4; round++ {
		for _, m := range members {
			loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, now)
			if err == nil {
				open = append(open, loan)
			}
			got := f.book(t, b.BookID)
			require.GreaterOrEqual(t, got.AvailableCopies, 0)
			require.LessOrEqual(t, got.AvailableCopies, got.TotalCopies)
			require.Equal(t, got.TotalCopies-len(open), got.AvailableCopies)
		}
		now = now.Add(oneDay)
		if len(open) > 0 {
			_, err := f.circ.ReturnBook(f.ctx, f.c, open[0].LoanID, now)
			require.NoError(t, err)
			open = open[1:]
			got := f.book(t, b.BookID)
			require.Equal(t, got.TotalCopies-len(open), got.AvailableCopies)
		}
	}
}

func TestRenewLoan(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)
	loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	renewed, err := f.circ.RenewLoan(f.ctx, f.c, loan.LoanID, day0.Add(10*oneDay))
	require.NoError(t, err)
	assert.True(t, renewed.DueAt.Equal(day0.Add(28*oneDay)))
	assert.Equal(t, 1, renewed.Renewals)

	_, err = f.circ.RenewLoan(f.ctx, f.c, loan.LoanID, day0.Add(20*oneDay))
	require.NoError(t, err)

	_, err = f.circ.RenewLoan(f.ctx, f.c, loan.LoanID, day0.Add(30*oneDay))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	stored, err := f.db.GetLoanByCode(f.ctx, loan.LoanID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Renewals)
	assert.True(t, stored.DueAt.Equal(day0.Add(42*oneDay)))
	assert.Equal(t, 2, f.obs.renewed)
}

func TestRenewRejectsOverdueAndInactive(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 2)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)
	loan, err := f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	_, err = f.circ.RenewLoan(f.ctx, f.c, loan.LoanID, day0.Add(15*oneDay))
	assert.ErrorIs(t, err, &Error{Kind: KindIneligible, Subject: SubjectLoanOverdue})

	_, err = f.db.SetMemberStatus(f.ctx, f.c, m.MemberID, MemberGraduated)
	require.NoError(t, err)
	_, err = f.circ.RenewLoan(f.ctx, f.c, loan.LoanID, day0.Add(oneDay))
	assert.ErrorIs(t, err, &Error{Kind: KindIneligible, Subject: SubjectMemberInactive})

	_, err = f.circ.RenewLoan(f.ctx, f.c, "TRX2024999999", day0)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound, Subject: SubjectActiveLoan})
}

func TestCheckEligibilityHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	b := addBook(t, f.db, f.c, "9780000000001", 1)
	m := enroll(t, f.db, f.c, "ann", ClassStudent)

	e, err := f.circ.CheckEligibility(f.ctx, b.BookID, m.MemberID)
	require.NoError(t, err)
	assert.True(t, e.Eligible)
	assert.Equal(t, 5, e.Limit)
	assert.Zero(t, e.Held)
	assert.Equal(t, 1, f.book(t, b.BookID).AvailableCopies)

	_, err = f.circ.IssueBook(f.ctx, f.c, b.BookID, m.MemberID, day0)
	require.NoError(t, err)

	e, err = f.circ.CheckEligibility(f.ctx, b.BookID, m.MemberID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Equal(t, KindUnavailable, e.Kind)
	assert.Equal(t, 1, e.Held)
	assert.NotEmpty(t, e.Reason)

	e, err = f.circ.CheckEligibility(f.ctx, "B20249999", m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, SubjectBook, e.Subject)
}

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", notFound(SubjectMember, "member X not found"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound, Subject: SubjectBook}))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("disk on fire")))
}
