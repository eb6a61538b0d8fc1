package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"library-circulation/internal/session"
	"library-circulation/library"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02")
	},
	"datetime": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
	"money":    func(v int64) string { return fmt.Sprintf("%d.00", v) },
	"upper":    strings.ToUpper,
}

// loadPages parses every page template together with the shared layout.
func loadPages() (map[string]*template.Template, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := strings.TrimPrefix(name, "templates/")
		if base == "layout.html" {
			continue
		}
		t, err := template.New(base).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		pages[base] = t
	}
	return pages, nil
}

// flash is a one-shot message shown on the next rendered page.
type flash struct {
	Kind    string // success, error, info
	Message string
}

const flashCookie = "library_flash"

func setFlash(w http.ResponseWriter, kind, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + "|" + msg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func popFlash(w http.ResponseWriter, r *http.Request) *flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}
	kind, msg, ok := strings.Cut(raw, "|")
	if !ok || msg == "" {
		return nil
	}
	return &flash{Kind: kind, Message: msg}
}

// view is what every page template receives.
type view struct {
	Title  string
	Active string
	Caller library.Caller
	Flash  *flash
	Now    time.Time
	Data   any
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	s.renderWith(w, r, status, page, title, data, popFlash(w, r))
}

func (s *Server) renderWith(w http.ResponseWriter, r *http.Request, status int, page, title string, data any, f *flash) {
	t, ok := s.pages[page]
	if !ok {
		s.fail(w, r, fmt.Errorf("no template %s", page))
		return
	}
	v := view{
		Title:  title,
		Active: strings.TrimSuffix(page, ".html"),
		Caller: session.CallerFrom(r.Context()),
		Flash:  f,
		Now:    s.lib.Now(),
		Data:   data,
	}
	var buf strings.Builder
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		s.fail(w, r, fmt.Errorf("execute %s: %w", page, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, buf.String())
}

// renderError re-renders page with the failure as an error flash and the
// status that matches its kind.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error, page, title string, data any) {
	if library.KindOf(err) == "" {
		s.fail(w, r, err)
		return
	}
	s.renderWith(w, r, statusFor(err), page, title, data, &flash{Kind: "error", Message: err.Error()})
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, to, kind, msg string) {
	if msg != "" {
		setFlash(w, kind, msg)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// fail logs an infrastructure error and answers 500 without leaking it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger(r).WithError(err).Error("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// statusFor maps a library failure onto an HTTP status.
func statusFor(err error) int {
	switch library.KindOf(err) {
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindValidation:
		return http.StatusBadRequest
	case library.KindForbidden:
		return http.StatusForbidden
	case library.KindConflict:
		return http.StatusConflict
	case library.KindUnavailable, library.KindIneligible, library.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(library.KindOf(err)),
	})
}
