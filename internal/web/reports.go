package web

import "net/http"

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.lib.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "dashboard.html", "Dashboard", d)
}

func (s *Server) reports(w http.ResponseWriter, r *http.Request) {
	rep, err := s.lib.Reports(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "reports.html", "Reports", rep)
}
