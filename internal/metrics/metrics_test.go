package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

func TestObserverCounts(t *testing.T) {
	m := New()
	m.LoanIssued(&library.Loan{})
	m.LoanIssued(&library.Loan{})
	m.LoanReturned(&library.Loan{}, nil)
	m.LoanReturned(&library.Loan{}, &library.Fine{Amount: 30})
	m.LoanRenewed(&library.Loan{})
	m.Rejected("issue", library.KindUnavailable)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.issued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.returned.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.returned.WithLabelValues("false")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.fines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renewed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("issue", "unavailable")))
}

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Instrument)
	r.HandleFunc("/members/{code}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Handle("/metrics", m.Handler())

	for _, code := range []string{"STU20240001", "STU20240002"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/members/"+code+"/status", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/members/{code}/status", "202")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "library_http_requests_total"))
}
