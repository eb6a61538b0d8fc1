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

type finesData struct {
	Fines  []*library.Fine
	Status string
	Member string
	Total  int64
}

func (s *Server) listFines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := finesData{Status: q.Get("status"), Member: strings.TrimSpace(q.Get("member"))}
	if _, ok := q["status"]; !ok {
		data.Status = string(library.FinePending)
	}
	fines, err := s.lib.ListFines(r.Context(), library.FineFilter{
		Status:     library.FineStatus(data.Status),
		MemberCode: data.Member,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.Fines = fines
	for _, f := range fines {
		data.Total += f.Outstanding()
	}
	s.render(w, r, http.StatusOK, "fines.html", "Fines", data)
}

func fineID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) payFine(w http.ResponseWriter, r *http.Request) {
	id := fineID(r)
	amount, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("amount")), 10, 64)
	if err != nil {
		s.redirect(w, r, "/fines", "error", "Payment amount must be a whole number")
		return
	}
	f, err := s.lib.PayFine(r.Context(), session.CallerFrom(r.Context()), id, amount)
	switch {
	case err == nil:
		s.logger(r).WithFields(logrus.Fields{"fine": id, "amount": amount, "status": f.Status}).Info("fine payment recorded")
		msg := fmt.Sprintf("Recorded payment of %d.00, %d.00 outstanding", amount, f.Outstanding())
		if f.Status == library.FinePaid {
			msg = fmt.Sprintf("Recorded payment of %d.00, fine settled", amount)
		}
		s.redirect(w, r, "/fines", "success", msg)
	case library.KindOf(err) != "":
		s.redirect(w, r, "/fines", "error", err.Error())
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) waiveFine(w http.ResponseWriter, r *http.Request) {
	id := fineID(r)
	_, err := s.lib.WaiveFine(r.Context(), session.CallerFrom(r.Context()), id)
	switch {
	case err == nil:
		s.logger(r).WithField("fine", id).Info("fine waived")
		s.redirect(w, r, "/fines", "success", "Fine waived")
	case library.KindOf(err) != "":
		s.redirect(w, r, "/fines", "error", err.Error())
	default:
		s.fail(w, r, err)
	}
}
