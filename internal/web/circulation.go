package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"library-circulation/internal/idempotency"
	"library-circulation/internal/session"
	"library-circulation/library"
)

// keyField carries the idempotency key every circulation form is rendered with.
const keyField = "idempotency_key"

// once runs fn at most once per submitted idempotency key. A resubmitted form
// gets the first outcome back with replayed set. Rule failures are recorded
// like successes; infrastructure errors release the key so the form can be
// sent again.
func (s *Server) once(r *http.Request, op string, fn func() (idempotency.Outcome, error)) (out idempotency.Outcome, replayed bool, err error) {
	key := strings.TrimSpace(r.FormValue(keyField))
	if s.idem == nil || key == "" {
		out, err = fn()
		return out, false, err
	}

	prev, err := s.idem.Claim(key, op)
	if err != nil {
		return out, false, err
	}
	if prev != nil {
		return *prev, true, nil
	}

	out, err = fn()
	if err != nil {
		if rerr := s.idem.Release(key); rerr != nil {
			s.logger(r).WithError(rerr).Warn("release idempotency key")
		}
		return out, false, err
	}
	out.Key = key
	if err := s.idem.Complete(out); err != nil {
		s.logger(r).WithError(err).Warn("record idempotency outcome")
	}
	return out, false, nil
}

// refused turns a rule failure into a recorded outcome and passes anything
// else through as an error.
func refused(err error) (idempotency.Outcome, error) {
	if library.KindOf(err) == "" {
		return idempotency.Outcome{}, err
	}
	return idempotency.Outcome{Status: statusFor(err), Message: err.Error()}, nil
}

// submitFailed answers the idempotency store's own refusals.
func (s *Server) submitFailed(w http.ResponseWriter, r *http.Request, to string, err error) {
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		s.redirect(w, r, to, "info", "That request is still being processed")
	case errors.Is(err, idempotency.ErrKeyMismatch):
		s.redirect(w, r, to, "error", "That form was already used for something else. Please try again.")
	default:
		s.fail(w, r, err)
	}
}

type issueData struct {
	BookID      string
	MemberID    string
	Key         string
	Eligibility *library.Eligibility
}

func (s *Server) issueForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := issueData{
		BookID:   strings.TrimSpace(q.Get("book_id")),
		MemberID: strings.TrimSpace(q.Get("member_id")),
		Key:      uuid.NewString(),
	}
	if data.BookID != "" && data.MemberID != "" {
		e, err := s.lib.CheckEligibility(r.Context(), data.BookID, data.MemberID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.Eligibility = e
	}
	s.render(w, r, http.StatusOK, "issue.html", "Issue Book", data)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := session.CallerFrom(ctx)
	data := issueData{
		BookID:   strings.TrimSpace(r.FormValue("book_id")),
		MemberID: strings.TrimSpace(r.FormValue("member_id")),
		Key:      uuid.NewString(),
	}

	out, replayed, err := s.once(r, "issue", func() (idempotency.Outcome, error) {
		loan, err := s.lib.IssueBook(ctx, caller, data.BookID, data.MemberID)
		if err != nil {
			return refused(err)
		}
		return idempotency.Outcome{
			OK:      true,
			Status:  http.StatusSeeOther,
			Message: fmt.Sprintf("Book issued successfully! Transaction ID: %s", loan.LoanID),
			Ref:     loan.LoanID,
		}, nil
	})
	if err != nil {
		s.submitFailed(w, r, "/issue", err)
		return
	}
	if replayed {
		s.logger(r).WithField("ref", out.Ref).Info("issue form resubmitted")
	}
	if !out.OK {
		s.renderWith(w, r, out.Status, "issue.html", "Issue Book", data, &flash{Kind: "error", Message: out.Message})
		return
	}
	s.redirect(w, r, "/transactions", "success", out.Message)
}

type returnData struct {
	Loans  []*library.Loan
	Search string
	Key    string
}

func (s *Server) returnData(r *http.Request, search string) (returnData, error) {
	loans, err := s.lib.ListLoans(r.Context(), library.LoanFilter{Status: library.LoanIssued, Search: search})
	return returnData{Loans: loans, Search: search, Key: uuid.NewString()}, err
}

func (s *Server) returnForm(w http.ResponseWriter, r *http.Request) {
	data, err := s.returnData(r, r.URL.Query().Get("search"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "return.html", "Return Book", data)
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := session.CallerFrom(ctx)
	code := strings.TrimSpace(r.FormValue("loan_id"))

	out, _, err := s.once(r, "return", func() (idempotency.Outcome, error) {
		ret, err := s.lib.ReturnBook(ctx, caller, code)
		if err != nil {
			return refused(err)
		}
		msg := "Book returned successfully!"
		if ret.Fine != nil {
			msg += fmt.Sprintf(" Fine assessed: %d.00 for %d day(s) overdue.", ret.Fine.Amount, ret.OverdueDays)
		}
		return idempotency.Outcome{OK: true, Status: http.StatusSeeOther, Message: msg, Ref: code}, nil
	})
	if err != nil {
		s.submitFailed(w, r, "/return", err)
		return
	}
	if !out.OK {
		data, err := s.returnData(r, "")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.renderWith(w, r, out.Status, "return.html", "Return Book", data, &flash{Kind: "error", Message: out.Message})
		return
	}
	s.redirect(w, r, "/return", "success", out.Message)
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := session.CallerFrom(ctx)
	code := strings.TrimSpace(r.FormValue("loan_id"))

	out, _, err := s.once(r, "renew", func() (idempotency.Outcome, error) {
		loan, err := s.lib.RenewLoan(ctx, caller, code)
		if err != nil {
			return refused(err)
		}
		return idempotency.Outcome{
			OK:      true,
			Status:  http.StatusSeeOther,
			Message: fmt.Sprintf("Loan %s renewed, now due %s", loan.LoanID, loan.DueAt.Local().Format("2006-01-02")),
			Ref:     loan.LoanID,
		}, nil
	})
	if err != nil {
		s.submitFailed(w, r, "/return", err)
		return
	}
	if !out.OK {
		s.redirect(w, r, "/return", "error", out.Message)
		return
	}
	s.redirect(w, r, "/return", "success", out.Message)
}

type transactionsData struct {
	Loans   []*library.Loan
	Status  string
	Search  string
	Overdue bool
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := transactionsData{Status: q.Get("status"), Search: q.Get("search"), Overdue: q.Get("overdue") == "1"}
	loans, err := s.lib.ListLoans(r.Context(), library.LoanFilter{
		Status:  library.LoanStatus(data.Status),
		Search:  data.Search,
		Overdue: data.Overdue,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.Loans = loans
	s.render(w, r, http.StatusOK, "transactions.html", "Transactions", data)
}
