package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testJWTSecret   = "test-operator-secret"
	testInternalKey = "internal-test-key"
)

func signOperatorToken(t *testing.T, role, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestOperatorAuthMiddleware(t *testing.T) {
	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = GetOperatorSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	guard := OperatorAuthMiddleware(testJWTSecret, testInternalKey)(next)

	tests := []struct {
		name        string
		decorate    func(r *http.Request)
		wantStatus  int
		wantSubject string
	}{
		{
			name:       "no credentials rejected",
			decorate:   func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "internal api key passes",
			decorate: func(r *http.Request) {
				r.Header.Set("X-Internal-Api-Key", testInternalKey)
			},
			wantStatus:  http.StatusOK,
			wantSubject: "internal",
		},
		{
			name: "wrong internal api key rejected",
			decorate: func(r *http.Request) {
				r.Header.Set("X-Internal-Api-Key", "wrong-key")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "operator token passes",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signOperatorToken(t, "operator", "ops-1"))
			},
			wantStatus:  http.StatusOK,
			wantSubject: "ops-1",
		},
		{
			name: "admin token passes",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signOperatorToken(t, "admin", "admin-1"))
			},
			wantStatus:  http.StatusOK,
			wantSubject: "admin-1",
		},
		{
			name: "merchant role rejected",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signOperatorToken(t, "merchant", "m-1"))
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "malformed bearer header rejected",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Token abc")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "garbage token rejected",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.jwt")
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/disbursements", nil)
			tt.decorate(req)
			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantSubject != "" && gotSubject != tt.wantSubject {
				t.Fatalf("expected subject %q in context, got %q", tt.wantSubject, gotSubject)
			}
		})
	}
}

func TestOperatorAuthMiddleware_EmptyJWTSecretRejectsBearerAuth(t *testing.T) {
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})
	// Internal-key-only deployment: no JWT secret configured.
	guard := OperatorAuthMiddleware("", testInternalKey)(next)

	// A token signed with the empty key must never grant access.
	claims := jwt.MapClaims{"sub": "attacker", "role": "operator", "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(""))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/disbursements", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	guard.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bearer auth without a configured secret, got %d", rec.Code)
	}
	if nextCalled {
		t.Fatal("handler must not run for a token signed with the empty key")
	}

	// The internal API key path stays available.
	req = httptest.NewRequest(http.MethodPost, "/disbursements", nil)
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec = httptest.NewRecorder()
	guard.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected internal api key to pass, got %d", rec.Code)
	}
}

func TestOperatorAuthMiddleware_TokenSignedWithWrongSecretRejected(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := OperatorAuthMiddleware(testJWTSecret, testInternalKey)(next)

	claims := jwt.MapClaims{"sub": "ops-1", "role": "operator", "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("a-different-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/disbursements", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	guard.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong signing secret, got %d", rec.Code)
	}
}
