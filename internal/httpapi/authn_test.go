package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postdesk.io/internal/auth"
)

func authTestAPI(t *testing.T) (*API, *auth.Signer) {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return &API{signer: signer}, signer
}

func TestWithAuthAttachesIdentity(t *testing.T) {
	api, signer := authTestAPI(t)
	token, err := signer.GenerateToken("user-1", "user1@example.com", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got auth.Identity
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = actor(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/teams", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "user-1" || got.Email != "user1@example.com" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestWithAuthRejects(t *testing.T) {
	api, _ := authTestAPI(t)
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer   "},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/teams", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header set")
			}
		})
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	api, _ := authTestAPI(t)
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}
