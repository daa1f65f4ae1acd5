// ABOUTME: Tests for credential hashing/verification and the two HTTP auth middlewares.
// ABOUTME: Covers bcrypt verify, basic-auth identity, Bearer token, mTLS CN, and fail-closed behavior.

package radd

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return string(h)
}

func newTestStore(t *testing.T, records ...Record) *Store {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "records.json")

	s, err := NewStore(fp, 0)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	for _, r := range records {
		if err := s.Create(r); err != nil {
			t.Fatalf("Create(%v) error: %v", r.Name, err)
		}
	}
	return s
}

func TestHashSecret_VerifiableRoundTrip(t *testing.T) {
	t.Parallel()
	hash, err := HashSecret("hunter2")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify against original secret: %v", err)
	}
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, Record{Name: "alice", CredentialHash: mustHash(t, "wonderland")})
	v := NewVerifier(s)

	if !v.Verify("alice", "wonderland") {
		t.Error("Verify(alice, correct secret) = false, want true")
	}
	if v.Verify("alice", "queen-of-hearts") {
		t.Error("Verify(alice, wrong secret) = true, want false")
	}
}

func TestVerifier_Verify_UnknownName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	v := NewVerifier(s)

	if v.Verify("nobody", "anything") {
		t.Error("Verify(unknown name) = true, want false")
	}
}

func TestVerifier_Middleware_ValidCredentials(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, Record{Name: "alice", CredentialHash: mustHash(t, "wonderland")})
	v := NewVerifier(s)

	var gotIdentity string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = identityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/update", nil)
	req.SetBasicAuth("alice", "wonderland")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotIdentity != "alice" {
		t.Errorf("identity = %q, want %q", gotIdentity, "alice")
	}
}

func TestVerifier_Middleware_WrongSecret(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, Record{Name: "alice", CredentialHash: mustHash(t, "wonderland")})
	v := NewVerifier(s)

	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/update", nil)
	req.SetBasicAuth("alice", "wrong")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestVerifier_Middleware_MissingCredentials(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	v := NewVerifier(s)

	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/update", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}
}

func TestAuth_HTTPMiddleware_ValidToken(t *testing.T) {
	t.Parallel()
	auth := &Auth{Token: "secret-token"}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuth_HTTPMiddleware_InvalidToken(t *testing.T) {
	t.Parallel()
	auth := &Auth{Token: "secret-token"}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_HTTPMiddleware_mTLS_ValidCN(t *testing.T) {
	t.Parallel()
	auth := &Auth{AllowedCN: []string{"admin.example.com"}}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{
			{Subject: pkix.Name{CommonName: "admin.example.com"}},
		},
	}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuth_HTTPMiddleware_mTLS_InvalidCN(t *testing.T) {
	t.Parallel()
	auth := &Auth{AllowedCN: []string{"admin.example.com"}}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{
			{Subject: pkix.Name{CommonName: "rogue.example.com"}},
		},
	}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_HTTPMiddleware_NoAuthConfigured_FailsClosed(t *testing.T) {
	t.Parallel()
	// No token, no CN, no NoAuth flag: must reject (fail-closed)
	auth := &Auth{}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d (fail-closed)", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_HTTPMiddleware_NoAuth_ExplicitOptOut(t *testing.T) {
	t.Parallel()
	auth := &Auth{NoAuth: true}

	handler := auth.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
