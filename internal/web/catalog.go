package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"library-circulation/internal/session"
	"library-circulation/library"
)

// badInput reports a form field that could not be parsed.
func badInput(subject, format string, args ...any) error {
	return &library.Error{Kind: library.KindValidation, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

func formInt(r *http.Request, field, subject string, optional bool) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" && optional {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badInput(subject, "%s must be a whole number", strings.ReplaceAll(field, "_", " "))
	}
	return n, nil
}

type booksData struct {
	Books         []*library.Book
	Categories    []string
	Search        string
	Category      string
	AvailableOnly bool
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := booksData{
		Search:        q.Get("search"),
		Category:      q.Get("category"),
		AvailableOnly: q.Get("available") == "1",
	}
	var err error
	if data.Books, err = s.lib.ListBooks(r.Context(), library.BookFilter{
		Search:        data.Search,
		Category:      data.Category,
		AvailableOnly: data.AvailableOnly,
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	if data.Categories, err = s.lib.Categories(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "books.html", "Books", data)
}

func (s *Server) newBookForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "book_form.html", "Add Book", library.NewBook{TotalCopies: 1})
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	nb := library.NewBook{
		BookID:        r.FormValue("book_id"),
		Title:         r.FormValue("title"),
		Author:        r.FormValue("author"),
		ISBN:          r.FormValue("isbn"),
		Publisher:     r.FormValue("publisher"),
		Category:      r.FormValue("category"),
		Edition:       r.FormValue("edition"),
		ShelfLocation: r.FormValue("shelf_location"),
	}
	var err error
	if nb.PublicationYear, err = formInt(r, "publication_year", library.SubjectBook, true); err != nil {
		s.renderError(w, r, err, "book_form.html", "Add Book", nb)
		return
	}
	if nb.TotalCopies, err = formInt(r, "total_copies", library.SubjectBook, false); err != nil {
		s.renderError(w, r, err, "book_form.html", "Add Book", nb)
		return
	}

	book, err := s.lib.AddBook(r.Context(), session.CallerFrom(r.Context()), nb)
	if err != nil {
		s.renderError(w, r, err, "book_form.html", "Add Book", nb)
		return
	}
	s.logger(r).WithField("book", book.BookID).Info("book added")
	s.redirect(w, r, "/books", "success", fmt.Sprintf("Book added successfully! Book ID: %s", book.BookID))
}

func (s *Server) adjustCopies(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	total, err := formInt(r, "total_copies", library.SubjectBook, false)
	if err == nil {
		_, err = s.lib.AdjustCopies(r.Context(), session.CallerFrom(r.Context()), code, total)
	}
	switch {
	case err == nil:
		s.redirect(w, r, "/books", "success", fmt.Sprintf("%s now has %d copies", code, total))
	case library.KindOf(err) != "":
		s.redirect(w, r, "/books", "error", err.Error())
	default:
		s.fail(w, r, err)
	}
}

type membersData struct {
	Members     []*library.Member
	Departments []string
	Search      string
	Department  string
	Status      string
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := membersData{Search: q.Get("search"), Department: q.Get("department"), Status: q.Get("status")}
	var err error
	if data.Members, err = s.lib.ListMembers(r.Context(), library.MemberFilter{
		Search:     data.Search,
		Department: data.Department,
		Status:     library.MemberStatus(data.Status),
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	if data.Departments, err = s.lib.Departments(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "members.html", "Members", data)
}

func (s *Server) newMemberForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "member_form.html", "Add Member", library.NewMember{Class: library.ClassStudent})
}

func (s *Server) createMember(w http.ResponseWriter, r *http.Request) {
	nm := library.NewMember{
		FirstName:          r.FormValue("first_name"),
		LastName:           r.FormValue("last_name"),
		Email:              r.FormValue("email"),
		Phone:              r.FormValue("phone"),
		Department:         r.FormValue("department"),
		Course:             r.FormValue("course"),
		RegistrationNumber: r.FormValue("registration_number"),
		Class:              library.MembershipClass(r.FormValue("membership_class")),
	}
	m, err := s.lib.EnrollMember(r.Context(), session.CallerFrom(r.Context()), nm)
	if err != nil {
		s.renderError(w, r, err, "member_form.html", "Add Member", nm)
		return
	}
	s.logger(r).WithField("member", m.MemberID).Info("member enrolled")
	s.redirect(w, r, "/members/"+m.MemberID, "success", fmt.Sprintf("Member added successfully! Member ID: %s", m.MemberID))
}

type memberData struct {
	Member      *library.Member
	Loans       []*library.Loan
	Fines       []*library.Fine
	Outstanding int64
	Limit       int
	Statuses    []library.MemberStatus
}

func (s *Server) showMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]
	m, err := s.lib.GetMember(ctx, code)
	if err != nil {
		if library.KindOf(err) == library.KindNotFound {
			s.redirect(w, r, "/members", "error", err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	data := memberData{
		Member:   m,
		Limit:    s.lib.Policy().LimitFor(m.Class),
		Statuses: []library.MemberStatus{library.MemberActive, library.MemberSuspended, library.MemberGraduated},
	}
	if data.Loans, err = s.lib.ActiveLoans(ctx, m.MemberID); err != nil {
		s.fail(w, r, err)
		return
	}
	if data.Fines, err = s.lib.ListFines(ctx, library.FineFilter{MemberCode: m.MemberID}); err != nil {
		s.fail(w, r, err)
		return
	}
	if data.Outstanding, err = s.lib.OutstandingBalance(ctx, m.MemberID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "member.html", m.FullName(), data)
}

func (s *Server) setMemberStatus(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	status := library.MemberStatus(r.FormValue("status"))
	m, err := s.lib.SetMemberStatus(r.Context(), session.CallerFrom(r.Context()), code, status)
	switch {
	case err == nil:
		s.logger(r).WithFields(logrus.Fields{"member": m.MemberID, "status": m.Status}).Info("member status changed")
		s.redirect(w, r, "/members/"+m.MemberID, "success", fmt.Sprintf("%s is now %s", m.FullName(), m.Status))
	case library.KindOf(err) != "":
		s.redirect(w, r, "/members/"+code, "error", err.Error())
	default:
		s.fail(w, r, err)
	}
}
