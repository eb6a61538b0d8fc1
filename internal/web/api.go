package web

import (
	"net/http"
	"strings"

	"library-circulation/library"
)

type lookupResponse struct {
	Results []library.LookupResult `json:"results"`
}

func (s *Server) apiSearchBooks(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, lookupResponse{Results: []library.LookupResult{}})
		return
	}
	books, err := s.lib.SearchBooks(r.Context(), q)
	if err != nil {
		s.apiFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Results: library.BookLookup(books)})
}

func (s *Server) apiSearchMembers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, lookupResponse{Results: []library.LookupResult{}})
		return
	}
	members, err := s.lib.SearchMembers(r.Context(), q)
	if err != nil {
		s.apiFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Results: library.MemberLookup(members)})
}

type eligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Kind     string `json:"kind,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Held     int    `json:"held"`
	Limit    int    `json:"limit"`
}

// apiEligibility previews whether book_id may be issued to member_id.
func (s *Server) apiEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	e, err := s.lib.CheckEligibility(r.Context(), strings.TrimSpace(q.Get("book_id")), strings.TrimSpace(q.Get("member_id")))
	if err != nil {
		s.apiFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{
		Eligible: e.Eligible,
		Kind:     string(e.Kind),
		Subject:  e.Subject,
		Reason:   e.Reason,
		Held:     e.Held,
		Limit:    e.Limit,
	})
}

func (s *Server) apiFail(w http.ResponseWriter, r *http.Request, err error) {
	if library.KindOf(err) != "" {
		writeError(w, err)
		return
	}
	s.logger(r).WithError(err).Error("api request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
