// ABOUTME: HTTP update server: authenticated hosts report their address, admins provision records.
// ABOUTME: Implements the 200/403/422/500 update protocol with plaintext "<status> OK|ERROR" bodies.

package radd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// updateRequest is the admin API body for provisioning a host.
type updateCreateRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// recordView is the admin API shape of a record. The credential hash is
// never serialised.
type recordView struct {
	Name      string     `json:"name"`
	IP        string     `json:"ip,omitempty"`
	Active    bool       `json:"active"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// apiListResponse wraps a list of record views for JSON serialisation.
type apiListResponse struct {
	Records []recordView `json:"records"`
}

// apiErrorResponse wraps an error message for JSON serialisation.
type apiErrorResponse struct {
	Error string `json:"error"`
}

// UpdateServer serves the host update endpoint and the administrative
// provisioning API on one listener.
type UpdateServer struct {
	store    *Store
	verifier *Verifier
	admin    *Auth
	zone     *ZoneWriter
	listen   string
	tls      *tlsConfig
	server   *http.Server
}

// NewUpdateServer creates an update server (not yet started). zone may be nil
// when zone file generation is disabled.
func NewUpdateServer(store *Store, verifier *Verifier, admin *Auth, zone *ZoneWriter, listen string, tls *tlsConfig) *UpdateServer {
	return &UpdateServer{store: store, verifier: verifier, admin: admin, zone: zone, listen: listen, tls: tls}
}

// handler builds the http.Handler with routing and per-surface middleware.
func (u *UpdateServer) handler() http.Handler {
	mux := http.NewServeMux()

	update := u.verifier.Middleware(http.HandlerFunc(u.handleUpdate))
	mux.Handle("GET /update", update)
	mux.Handle("POST /update", update)
	mux.HandleFunc("GET /ip", u.handleIP)

	mux.Handle("GET /api/v1/records", u.admin.HTTPMiddleware(http.HandlerFunc(u.handleList)))
	mux.Handle("GET /api/v1/records/{name}", u.admin.HTTPMiddleware(http.HandlerFunc(u.handleGet)))
	mux.Handle("POST /api/v1/records", u.admin.HTTPMiddleware(http.HandlerFunc(u.handleCreate)))
	mux.Handle("DELETE /api/v1/records/{name}", u.admin.HTTPMiddleware(http.HandlerFunc(u.handleDelete)))

	return mux
}

// Start begins serving in a background goroutine.
func (u *UpdateServer) Start() error {
	ln, err := net.Listen("tcp", u.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.listen, err)
	}

	if u.tls != nil {
		cfg, err := buildTLSConfig(u.tls)
		if err != nil {
			ln.Close()
			return fmt.Errorf("configuring TLS: %w", err)
		}
		ln = tlsListener(ln, cfg)
	}

	u.server = &http.Server{
		Handler:           u.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := u.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("update server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the update server.
func (u *UpdateServer) Stop() {
	if u.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = u.server.Shutdown(ctx)
}

func (u *UpdateServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	status, body := u.Handle(r.Context(), identity, clientAddr(r))
	updateCount.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, body)
}

// Handle commits a newly reported address for an authenticated host and
// returns the protocol status and response body. Exactly one record mutation
// happens on success; none on any failure path. Unexpected failures surface
// only a generic marker, never internal error detail.
func (u *UpdateServer) Handle(ctx context.Context, identity, claimed string) (int, string) {
	if _, ok := u.store.Find(identity); !ok {
		return http.StatusForbidden, "403 ERROR forbidden"
	}
	if !ValidIPv4(claimed) {
		return http.StatusUnprocessableEntity, "422 ERROR invalid address"
	}

	if err := u.store.SetIP(identity, claimed); err != nil {
		switch {
		case errors.Is(err, ErrInvalidIP):
			return http.StatusUnprocessableEntity, "422 ERROR invalid address"
		case errors.Is(err, ErrNotFound):
			return http.StatusForbidden, "403 ERROR forbidden"
		default:
			log.Errorf("update %s: %v", identity, err)
			return http.StatusInternalServerError, "500 ERROR update failed"
		}
	}

	// Zone sync is best-effort relative to the record write: the record is
	// already committed and a zone failure does not re-open it.
	if u.zone != nil {
		if err := u.zone.Sync(ctx, u.store.ActiveRecords()); err != nil {
			log.Errorf("zone sync after update of %s: %v", identity, err)
			return http.StatusInternalServerError, "500 ERROR update failed"
		}
	}

	return http.StatusOK, "200 OK " + claimed
}

// handleIP echoes the caller's address, so hosts can discover their public IP
// without authenticating.
func (u *UpdateServer) handleIP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, clientAddr(r))
}

func (u *UpdateServer) handleList(w http.ResponseWriter, r *http.Request) {
	records := u.store.List()
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, apiListResponse{Records: views})
}

func (u *UpdateServer) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, ok := u.store.Find(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiErrorResponse{Error: "no such record"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (u *UpdateServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req updateCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiErrorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if !ValidHostName(req.Name) {
		writeJSON(w, http.StatusBadRequest, apiErrorResponse{Error: "invalid host name"})
		return
	}
	if req.Secret == "" {
		writeJSON(w, http.StatusBadRequest, apiErrorResponse{Error: "secret is required"})
		return
	}

	hash, err := HashSecret(req.Secret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiErrorResponse{Error: "hashing secret failed"})
		return
	}

	rec := Record{Name: req.Name, CredentialHash: hash}
	if err := u.store.Create(rec); err != nil {
		switch {
		case errors.Is(err, ErrExists):
			writeJSON(w, http.StatusConflict, apiErrorResponse{Error: "record already exists"})
		case errors.Is(err, ErrInvalidName):
			writeJSON(w, http.StatusBadRequest, apiErrorResponse{Error: "invalid host name"})
		default:
			log.Errorf("creating record %s: %v", req.Name, err)
			writeJSON(w, http.StatusInternalServerError, apiErrorResponse{Error: "creating record failed"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (u *UpdateServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := u.store.Delete(name); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, apiErrorResponse{Error: "no such record"})
			return
		}
		log.Errorf("deleting record %s: %v", name, err)
		writeJSON(w, http.StatusInternalServerError, apiErrorResponse{Error: "deleting record failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewOf(rec Record) recordView {
	v := recordView{Name: rec.Name, IP: rec.IP, Active: rec.Active()}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		v.UpdatedAt = &t
	}
	return v
}

// clientAddr extracts the claimed remote address: the first X-Forwarded-For
// hop when a proxy added one, otherwise the connection's source host.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeUpdateResponse writes the protocol's plaintext error body for the
// given status.
func writeUpdateResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%d ERROR %s\n", status, msg)
}

func withIdentity(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, identityKey{}, name)
}

func identityFrom(ctx context.Context) string {
	name, _ := ctx.Value(identityKey{}).(string)
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
