// Package httpapi exposes the s4 gateway as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonbarlo/s4/internal/auth"
	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/vault"
)

type Server struct {
	DB     *db.DB
	Vault  *vault.Coordinator
	Tokens *auth.Tokens
	Logger *slog.Logger

	BindAddr       string
	Port           int
	CertPath       string
	KeyPath        string
	MaxUploadBytes int64
}

func (s *Server) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler builds the route table. Exposed separately so tests can
// drive the API through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/keys", s.withUser(s.handleAPIKeys))
	mux.HandleFunc("/auth/keys/", s.withUser(s.handleAPIKeyByID))

	mux.HandleFunc("/buckets", s.withUser(s.handleBuckets))
	mux.HandleFunc("/buckets/", s.withUser(s.handleBucketByID))
	mux.HandleFunc("/files", s.withUser(s.handleFiles))
	mux.HandleFunc("/files/", s.withUser(s.handleFileByID))
	mux.HandleFunc("/folders", s.withUser(s.handleFolders))

	return s.withRequestLog(mux)
}

func (s *Server) ListenAndServe() error {
	if s.DB == nil || s.Vault == nil || s.Tokens == nil {
		return errors.New("db, vault, and tokens are required")
	}

	addr := s.BindAddr + ":" + strconv.Itoa(s.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.CertPath != "" && s.KeyPath != "" {
		return httpServer.ListenAndServeTLS(s.CertPath, s.KeyPath)
	}
	return httpServer.ListenAndServe()
}

// withRequestLog logs each request and converts panics into 500s.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.log().Error("panic in handler", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
			}
		}()
		next.ServeHTTP(w, r)
		s.log().Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := s.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "dbOk": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dbOk": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	u, ok, err := s.DB.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	if !ok {
		auth.DummyVerify(req.Password)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	okPw, err := auth.VerifyPassword(req.Password, u.PassHash)
	if err != nil || !okPw || u.Permissions == db.PermNone {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	tok, err := s.Tokens.Mint(u.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

// identity is the resolved caller, threaded through the request
// context instead of any ambient global.
type identity struct {
	UserID      int64
	Permissions db.Permission
}

type ctxKey string

const ctxIdentity ctxKey = "identity"

func identityFrom(r *http.Request) identity {
	id, _ := r.Context().Value(ctxIdentity).(identity)
	return id
}

// withUser resolves a bearer token or API key to a user before the
// handler runs. Missing or invalid credentials are a 401; the
// coordinator is never reached unauthenticated.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.resolveUser(r)
		if !ok || u.Permissions == db.PermNone {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		ctx := context.WithValue(r.Context(), ctxIdentity, identity{UserID: u.ID, Permissions: u.Permissions})
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) resolveUser(r *http.Request) (*db.User, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		userID, err := s.Tokens.Verify(raw)
		if err != nil {
			return nil, false
		}
		u, ok, err := s.DB.GetUserByID(r.Context(), userID)
		if err != nil || !ok {
			return nil, false
		}
		return u, true
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		u, ok, err := s.DB.GetUserByAPIKey(r.Context(), key)
		if err != nil || !ok {
			return nil, false
		}
		return u, true
	}
	return nil, false
}

// requireRead and requireWrite gate handlers on the caller's
// permission grant. Both write the response on failure.
func (s *Server) requireRead(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id := identityFrom(r)
	if !id.Permissions.CanRead() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied"})
		return id, false
	}
	return id, true
}

func (s *Server) requireWrite(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id := identityFrom(r)
	if !id.Permissions.CanWrite() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied"})
		return id, false
	}
	return id, true
}

// writeCoordinatorError maps the coordinator's failure taxonomy onto
// HTTP statuses. Transport and store details stay in the log.
func (s *Server) writeCoordinatorError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *vault.ValidationError
	switch {
	case errors.Is(err, vault.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Msg})
	default:
		s.log().Error("operation failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pathID parses "/prefix/{id}" style paths and returns the id plus any
// trailing segments.
func pathID(path, prefix string) (int64, []string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return 0, nil, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, false
	}
	return id, parts[1:], true
}
