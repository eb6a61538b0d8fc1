// Package web is the presentation layer: server-rendered staff pages and a
// small JSON lookup API over the library core.
package web

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"library-circulation/internal/idempotency"
	"library-circulation/internal/logging"
	"library-circulation/internal/metrics"
	"library-circulation/internal/session"
	"library-circulation/library"
)

// Options wires the server's collaborators. Idempotency and Metrics are optional.
type Options struct {
	Library     *library.LibraryManager
	Gate        *session.Gate
	Limiter     *session.LoginLimiter
	Idempotency *idempotency.Store
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger
}

// Server renders pages and routes requests into the library.
type Server struct {
	lib     *library.LibraryManager
	gate    *session.Gate
	limiter *session.LoginLimiter
	idem    *idempotency.Store
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	pages   map[string]*template.Template
}

// New parses the embedded templates and returns a ready server.
func New(opts Options) (*Server, error) {
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		lib:     opts.Library,
		gate:    opts.Gate,
		limiter: opts.Limiter,
		idem:    opts.Idempotency,
		metrics: opts.Metrics,
		log:     opts.Logger,
		pages:   pages,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.limiter == nil {
		s.limiter = session.NewLoginLimiter(0.2, 5)
	}
	return s, nil
}

// Handler builds the full handler chain: request logging, session
// resolution, metrics and the routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.Use(s.gate.Middleware)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/login", s.loginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/", http.RedirectHandler("/dashboard", http.StatusSeeOther))

	app := r.NewRoute().Subrouter()
	app.Use(session.RequireLogin)

	app.HandleFunc("/dashboard", s.dashboard).Methods(http.MethodGet)

	app.HandleFunc("/books", s.listBooks).Methods(http.MethodGet)
	app.HandleFunc("/books/new", s.newBookForm).Methods(http.MethodGet)
	app.HandleFunc("/books/new", s.createBook).Methods(http.MethodPost)
	app.HandleFunc("/books/{code}/copies", s.adjustCopies).Methods(http.MethodPost)

	app.HandleFunc("/members", s.listMembers).Methods(http.MethodGet)
	app.HandleFunc("/members/new", s.newMemberForm).Methods(http.MethodGet)
	app.HandleFunc("/members/new", s.createMember).Methods(http.MethodPost)
	app.HandleFunc("/members/{code}", s.showMember).Methods(http.MethodGet)
	app.HandleFunc("/members/{code}/status", s.setMemberStatus).Methods(http.MethodPost)

	app.HandleFunc("/issue", s.issueForm).Methods(http.MethodGet)
	app.HandleFunc("/issue", s.issue).Methods(http.MethodPost)
	app.HandleFunc("/return", s.returnForm).Methods(http.MethodGet)
	app.HandleFunc("/return", s.returnBook).Methods(http.MethodPost)
	app.HandleFunc("/renew", s.renew).Methods(http.MethodPost)
	app.HandleFunc("/transactions", s.transactions).Methods(http.MethodGet)

	app.HandleFunc("/fines", s.listFines).Methods(http.MethodGet)
	app.HandleFunc("/fines/{id:[0-9]+}/pay", s.payFine).Methods(http.MethodPost)
	app.Handle("/fines/{id:[0-9]+}/waive",
		session.RequireRole(library.RoleAdmin)(http.HandlerFunc(s.waiveFine))).Methods(http.MethodPost)

	app.HandleFunc("/reports", s.reports).Methods(http.MethodGet)

	app.HandleFunc("/api/books/search", s.apiSearchBooks).Methods(http.MethodGet)
	app.HandleFunc("/api/members/search", s.apiSearchMembers).Methods(http.MethodGet)
	app.HandleFunc("/api/eligibility", s.apiEligibility).Methods(http.MethodGet)

	return logging.Middleware(s.log)(r)
}

func (s *Server) logger(r *http.Request) logrus.FieldLogger {
	return logging.FromRequest(r, s.log)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
