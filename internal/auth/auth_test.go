package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeVerifier struct {
	ok  bool
	err error
}

func (f fakeVerifier) Verify(context.Context, string, string) (bool, error) { return f.ok, f.err }

func withAdminToken(r *http.Request, token string) *http.Request {
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestMiddlewareResolvesAdminIdentity(t *testing.T) {
	mw := Middleware("the-admin-token")
	var captured *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = FromContext(r.Context())
	})

	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "the-admin-token")
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil || !captured.IsAdmin {
		t.Fatalf("expected admin identity, got %+v", captured)
	}
}

func TestMiddlewareNonAdminTokenNotFlaggedAdmin(t *testing.T) {
	mw := Middleware("the-admin-token")
	var captured *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = FromContext(r.Context())
	})

	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "some-key-token")
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil || captured.IsAdmin {
		t.Fatalf("expected non-admin identity, got %+v", captured)
	}
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	mw := Middleware("the-admin-token")
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	mw(RequireAdmin(next)).ServeHTTP(rec, req)

	if called {
		t.Error("handler must not run without a token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAdminRejectsNonAdminToken(t *testing.T) {
	mw := Middleware("the-admin-token")
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "not-admin")
	mw(RequireAdmin(next)).ServeHTTP(rec, req)

	if called {
		t.Error("handler must not run for non-admin token")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRequireAdminAllowsAdminToken(t *testing.T) {
	mw := Middleware("the-admin-token")
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "the-admin-token")
	mw(RequireAdmin(next)).ServeHTTP(rec, req)

	if !called {
		t.Error("handler must run for admin token")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCheckKeyAcceptsAdminTokenForAnyKey(t *testing.T) {
	mw := Middleware("the-admin-token")
	rec := httptest.NewRecorder()
	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "the-admin-token")

	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = CheckKey(w, r, fakeVerifier{ok: false}, "some-key")
	})
	mw(next).ServeHTTP(rec, req)

	if !ok {
		t.Error("admin token should bypass per-key verification")
	}
}

func TestCheckKeyDelegatesToVerifierForKeyToken(t *testing.T) {
	mw := Middleware("the-admin-token")
	rec := httptest.NewRecorder()
	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "key-token")

	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = CheckKey(w, r, fakeVerifier{ok: true}, "some-key")
	})
	mw(next).ServeHTTP(rec, req)

	if !ok {
		t.Error("expected verifier-approved key token to pass")
	}
}

func TestCheckKeyRejectsWrongKeyToken(t *testing.T) {
	mw := Middleware("the-admin-token")
	rec := httptest.NewRecorder()
	req := withAdminToken(httptest.NewRequest(http.MethodGet, "/", nil), "key-token")

	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = CheckKey(w, r, fakeVerifier{ok: false}, "some-key")
	})
	mw(next).ServeHTTP(rec, req)

	if ok {
		t.Error("expected verifier-rejected key token to fail")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
