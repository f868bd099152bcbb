package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fleetops/internal/testutil"
)

func TestMiddleware(t *testing.T) {
	secret := "http-secret"
	var got *Principal
	h := Middleware(secret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), "/healthz")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent || got != nil {
		t.Fatalf("allowlisted path: code=%d principal=%+v", rec.Code, got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	tok := testutil.GenerateJWTHS256(t, secret, "dan", "operator")
	req := httptest.NewRequest(http.MethodGet, "/api/missions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || got == nil || got.Name != "dan" {
		t.Fatalf("header token: code=%d principal=%+v", rec.Code, got)
	}

	got = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	if rec.Code != http.StatusNoContent || got == nil || got.Kind != KindOperator {
		t.Fatalf("query token: code=%d principal=%+v", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/missions", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}
