package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubVerifier struct {
	verifyFn func(context.Context, string) (*firebaseauth.Token, error)
}

func (s *stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, idToken)
	}
	return nil, errors.New("verify not stubbed")
}

func identityEcho(t *testing.T, captured **Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity missing from context")
		}
		*captured = identity
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return envelope.Error
}

func TestRequireFirebaseAuthAcceptsValidToken(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(_ context.Context, idToken string) (*firebaseauth.Token, error) {
			if idToken != "good-token" {
				t.Fatalf("unexpected token %q", idToken)
			}
			return &firebaseauth.Token{
				UID:    "user-1",
				Claims: map[string]interface{}{"email": "asha@example.com", "role": "user"},
			}, nil
		},
	}

	var identity *Identity
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleUser)(identityEcho(t, &identity))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if identity.UID != "user-1" || identity.Email != "asha@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.IsAdmin() {
		t.Fatalf("user role must not be admin")
	}
}

func TestRequireFirebaseAuthMissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubVerifier{}).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, header := range []string{"", "Basic abc", "Bearer ", "good-token"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
		if code := errorCode(t, rec); code != "unauthenticated" {
			t.Fatalf("header %q: error code = %s", header, code)
		}
	}
}

func TestRequireFirebaseAuthInvalidToken(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(_ context.Context, _ string) (*firebaseauth.Token, error) {
			return nil, errors.New("signature mismatch")
		},
	}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_token" {
		t.Fatalf("status = %d, code %s", rec.Code, errorCode(t, rec))
	}
}

func TestRequireFirebaseAuthInsufficientRole(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(_ context.Context, _ string) (*firebaseauth.Token, error) {
			return &firebaseauth.Token{UID: "user-1", Claims: map[string]interface{}{"role": "user"}}, nil
		},
	}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "insufficient_role" {
		t.Fatalf("status = %d, code %s", rec.Code, errorCode(t, rec))
	}
}

func TestRequireFirebaseAuthRoleClaimShapes(t *testing.T) {
	cases := []struct {
		name      string
		claims    map[string]interface{}
		wantRoles []string
	}{
		{"string claim", map[string]interface{}{"role": "Admin"}, []string{"admin"}},
		{"slice claim", map[string]interface{}{"role": []interface{}{"user", "ADMIN", "user"}}, []string{"user", "admin"}},
		{"absent claim defaults", map[string]interface{}{}, []string{"user"}},
		{"non-string entries skipped", map[string]interface{}{"role": []interface{}{42, "admin"}}, []string{"admin"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubVerifier{
				verifyFn: func(_ context.Context, _ string) (*firebaseauth.Token, error) {
					return &firebaseauth.Token{UID: "user-1", Claims: tc.claims}, nil
				},
			}
			var identity *Identity
			handler := NewAuthenticator(verifier).RequireFirebaseAuth()(identityEcho(t, &identity))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if len(identity.Roles) != len(tc.wantRoles) {
				t.Fatalf("roles = %v, want %v", identity.Roles, tc.wantRoles)
			}
			for i, role := range tc.wantRoles {
				if identity.Roles[i] != role {
					t.Fatalf("roles = %v, want %v", identity.Roles, tc.wantRoles)
				}
			}
		})
	}
}

func TestRequireFirebaseAuthCustomRoleClaim(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(_ context.Context, _ string) (*firebaseauth.Token, error) {
			return &firebaseauth.Token{UID: "user-1", Claims: map[string]interface{}{"vm_role": "admin"}}, nil
		},
	}
	var identity *Identity
	handler := NewAuthenticator(verifier, WithRoleClaim("vm_role")).RequireFirebaseAuth(RoleAdmin)(identityEcho(t, &identity))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !identity.IsAdmin() {
		t.Fatalf("custom claim role not honoured: %+v", identity)
	}
}

func TestIdentityHasRole(t *testing.T) {
	identity := &Identity{Roles: []string{"user", "admin"}}
	if !identity.HasRole(" ADMIN ") {
		t.Fatalf("role match must be case and space insensitive")
	}
	if identity.HasRole("") {
		t.Fatalf("empty role must never match")
	}
	var nilIdentity *Identity
	if nilIdentity.HasRole("admin") {
		t.Fatalf("nil identity has no roles")
	}
}
