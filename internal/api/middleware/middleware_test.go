package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/actor"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-42" || rec.Header().Get(HeaderRequestID) != "req-42" {
		t.Errorf("expected forwarded id, got %q", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-42" {
		t.Errorf("expected generated id, got %q", seen)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	var client string
	h := APIKeyAuth(map[string]string{"k1": "theatre-app"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = GetClientID(r.Context())
	}))

	cases := []struct {
		header, value string
		want          int
	}{
		{"", "", http.StatusUnauthorized},
		{HeaderAPIKey, "nope", http.StatusUnauthorized},
		{HeaderAPIKey, "k1", http.StatusOK},
		{"Authorization", "Bearer k1", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.header != "" {
			req.Header.Set(c.header, c.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("%s=%q: expected %d, got %d", c.header, c.value, c.want, rec.Code)
		}
	}
	if client != "theatre-app" {
		t.Errorf("expected client id in context, got %q", client)
	}
}

func TestActorAndRequireRole(t *testing.T) {
	h := Actor(RequireRole(actor.PharmacyStaff...)(http.HandlerFunc(ok)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "u-7")
	req.Header.Set(HeaderActorRole, " Pharmacist ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("pharmacist should pass, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "u-8")
	req.Header.Set(HeaderActorRole, "nurse")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse should be forbidden, got %d", rec.Code)
	}
}

func TestRecoverReturns500(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

type recordingObserver struct {
	route  string
	status int
}

func (o *recordingObserver) ObserveHTTP(_ string, route string, status int, _ time.Duration) {
	o.route = route
	o.status = status
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(Metrics(obs))
	r.Get("/reviews/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/reviews/abc", nil))
	if obs.route != "/reviews/{id}" || obs.status != http.StatusNotFound {
		t.Errorf("unexpected observation %+v", obs)
	}
}
