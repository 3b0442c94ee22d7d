package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDKeepsCallerID(t *testing.T) {
	const callerID = "signup-attempt-42"
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", nil)
	req.Header.Set("X-Request-Id", callerID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != callerID {
		t.Fatalf("context request id = %q, want %q", seen, callerID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != callerID {
		t.Fatalf("echoed request id = %q, want %q", got, callerID)
	}
}

func TestWithRequestIDMintsOneWhenAbsent(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/titles", nil))

	if seen == "" {
		t.Fatal("handler saw no request id in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("response id %q does not match context id %q", got, seen)
	}
}
