// ABOUTME: Credential hashing and verification for host updates, plus admin API auth.
// ABOUTME: Hosts authenticate with basic auth against bcrypt hashes; admins with Bearer token or mTLS CN.

package radd

import (
	"crypto/subtle"
	"crypto/tls"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a host secret for storage in a record's credential hash.
// Hashing is an explicit step performed before constructing the record, never
// a side effect of assignment.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verifier validates host secrets against stored credential hashes.
type Verifier struct {
	store *Store
}

// NewVerifier creates a Verifier backed by the given store.
func NewVerifier(store *Store) *Verifier {
	return &Verifier{store: store}
}

// Verify reports whether secret matches the stored credential hash for name.
// Unknown names verify as false; the hash and the secret are never logged.
func (v *Verifier) Verify(name, secret string) bool {
	rec, ok := v.store.Find(name)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(rec.CredentialHash), []byte(secret)) == nil
}

type identityKey struct{}

// Middleware returns an http.Handler that authenticates the basic-auth
// credentials against the record store and passes the verified host name to
// next via the request context. Absent credentials get a 401 challenge;
// failed verification gets the update protocol's 403 body.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, secret, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="radd"`)
			writeUpdateResponse(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !v.Verify(name, secret) {
			writeUpdateResponse(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), name)))
	})
}

// Auth holds authentication configuration for the administrative API.
type Auth struct {
	Token     string
	AllowedCN []string
	NoAuth    bool
}

// authRequired returns true unless auth was explicitly disabled.
func (a *Auth) authRequired() bool {
	return !a.NoAuth
}

// HTTPMiddleware returns an http.Handler that validates Bearer token or mTLS CN
// before calling next.
func (a *Auth) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authRequired() {
			next.ServeHTTP(w, r)
			return
		}

		// Try Bearer token
		if a.Token != "" {
			if token := extractBearer(r); token != "" {
				if constantTimeEqual(token, a.Token) {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		// Try mTLS CN
		if len(a.AllowedCN) > 0 {
			if cn := extractCNFromTLS(r.TLS); cn != "" {
				if a.cnAllowed(cn) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (a *Auth) cnAllowed(cn string) bool {
	for _, allowed := range a.AllowedCN {
		if allowed == cn {
			return true
		}
	}
	return false
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func extractCNFromTLS(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
