package web

import (
	"errors"
	"net/http"
	"strings"

	"library-circulation/internal/session"
	"library-circulation/library"
)

type loginData struct {
	Username string
	Next     string
}

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	if session.CallerFrom(r.Context()).Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", "Login", loginData{Next: r.URL.Query().Get("next")})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	data := loginData{
		Username: strings.TrimSpace(r.FormValue("username")),
		Next:     r.FormValue("next"),
	}
	if !s.limiter.Allow(r) {
		s.logger(r).WithField("username", data.Username).Warn("login rate limit exceeded")
		s.renderWith(w, r, http.StatusTooManyRequests, "login.html", "Login", data,
			&flash{Kind: "error", Message: "Too many login attempts. Wait a minute and try again."})
		return
	}

	caller, err := s.lib.Authenticate(r.Context(), data.Username, r.FormValue("password"))
	if errors.Is(err, library.ErrForbidden) {
		s.logger(r).WithField("username", data.Username).Info("login refused")
		s.renderWith(w, r, http.StatusUnauthorized, "login.html", "Login", data,
			&flash{Kind: "error", Message: "Invalid username or password"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.gate.Login(w, caller); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger(r).WithField("username", caller.Username).Info("logged in")
	s.redirect(w, r, safeNext(data.Next), "success", "Welcome back, "+caller.Username+"!")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.gate.Logout(w)
	s.redirect(w, r, "/login", "info", "You have been logged out")
}

// safeNext only follows local redirects.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") || strings.HasPrefix(next, "/login") {
		return "/dashboard"
	}
	return next
}
