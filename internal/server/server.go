// Package server exposes the invoice desk over HTTP for the browser client.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/extractly/invoice-desk/internal/archive"
	"github.com/extractly/invoice-desk/internal/backend"
	"github.com/extractly/invoice-desk/internal/extract"
	"github.com/extractly/invoice-desk/internal/invoice"
	"github.com/extractly/invoice-desk/internal/preview"
	"github.com/extractly/invoice-desk/internal/session"
	"github.com/extractly/invoice-desk/internal/storage"
)

// anonymousKey is the workspace key for requests without a valid bearer
// token. Their uploads still run the pipeline and fail with the session
// error that the state endpoint reports.
const anonymousKey = "anonymous"

// Deps holds the collaborators a Server needs.
type Deps struct {
	Auth      *session.Client
	Previews  storage.ObjectStore
	Remote    storage.ObjectStore
	Extractor extract.Extractor
	Confirmer invoice.Confirmer
	Archive   *archive.Store
	Analytics *backend.Client
}

// Server handles HTTP requests for the invoice desk.
type Server struct {
	deps Deps
	mux  *http.ServeMux

	mu         sync.Mutex
	workspaces map[string]*invoice.Workspace
}

// NewServer creates a new Server with a default mux.
func NewServer(deps Deps) *Server {
	return NewServerWithMux(deps, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing.
func NewServerWithMux(deps Deps, mux *http.ServeMux) *Server {
	s := &Server{
		deps:       deps,
		mux:        mux,
		workspaces: make(map[string]*invoice.Workspace),
	}
	s.registerRoutes()
	return s
}

// sessionMiddleware attaches the session parsed from a bearer token to the
// request context. A missing or invalid token is not an error here; the
// pipeline and submission gate report it themselves.
func (s *Server) sessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			if sess, err := s.deps.Auth.ParseToken(token); err == nil {
				r = r.WithContext(session.NewContext(r.Context(), sess))
			} else {
				slog.Debug("rejecting bearer token", "error", err)
			}
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// workspaceKey derives the per-user workspace key from the request context.
func workspaceKey(r *http.Request) string {
	if sess, ok := session.FromContext(r.Context()); ok && sess.UserID != "" {
		return sess.UserID
	}
	return anonymousKey
}

// workspace returns the workspace for the request's user, creating it on
// first use. A saved draft snapshot, if any, is restored into the new
// workspace so an interrupted session picks up where it stopped.
func (s *Server) workspace(r *http.Request) *invoice.Workspace {
	key := workspaceKey(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.workspaces[key]; ok {
		return ws
	}

	ws := invoice.NewWorkspace(
		session.ContextSource{},
		s.deps.Previews,
		s.deps.Remote,
		s.deps.Extractor,
		s.deps.Confirmer,
		s.recorder(),
		preview.ToPNG,
	)
	if s.deps.Archive != nil && key != anonymousKey {
		if saved, err := s.deps.Archive.LoadDraft(key); err == nil {
			ws.Draft.Restore(*saved)
		}
	}
	s.workspaces[key] = ws
	return ws
}

// persistDraft snapshots the workspace draft for later restore. Failures are
// logged and otherwise ignored; the in-memory draft stays authoritative.
func (s *Server) persistDraft(r *http.Request, ws *invoice.Workspace) {
	key := workspaceKey(r)
	if s.deps.Archive == nil || key == anonymousKey {
		return
	}
	if err := s.deps.Archive.SaveDraft(key, ws.Draft.Snapshot()); err != nil {
		slog.Warn("persisting draft snapshot", "error", err)
	}
}

// recorder archives a confirmed submission and drops the draft snapshot.
func (s *Server) recorder() invoice.SubmissionRecorder {
	if s.deps.Archive == nil {
		return nil
	}
	return &archiveRecorder{store: s.deps.Archive}
}

type archiveRecorder struct {
	store *archive.Store
}

func (a *archiveRecorder) RecordSubmission(userID string, d invoice.Draft) error {
	if err := a.store.RecordSubmission(userID, d); err != nil {
		return err
	}
	return a.store.DeleteDraft(userID)
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific.
func (s *Server) registerRoutes() {
	withSession := func(h http.HandlerFunc) http.HandlerFunc {
		return s.sessionMiddleware(h)
	}

	// Session
	s.mux.HandleFunc("POST /api/session/signin", s.handleSignIn)
	s.mux.HandleFunc("POST /api/session/signup", s.handleSignUp)
	s.mux.HandleFunc("POST /api/session/signout", withSession(s.handleSignOut))

	// Draft editing
	s.mux.HandleFunc("GET /api/draft", withSession(s.handleGetDraft))
	s.mux.HandleFunc("PATCH /api/draft/header", withSession(s.handlePatchHeader))
	s.mux.HandleFunc("POST /api/draft/items/{id}/select", withSession(s.handleSelectItem))
	s.mux.HandleFunc("PUT /api/draft/items/{id}", withSession(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/draft/items/{id}", withSession(s.handleDeleteItem))
	s.mux.HandleFunc("POST /api/draft/items", withSession(s.handleAddItem))
	s.mux.HandleFunc("DELETE /api/draft/selection", withSession(s.handleClearSelection))

	// Upload pipeline
	s.mux.HandleFunc("POST /api/upload", withSession(s.handleUpload))
	s.mux.HandleFunc("GET /api/upload/state", withSession(s.handleUploadState))
	s.mux.HandleFunc("GET /api/preview/{path...}", withSession(s.handlePreview))

	// Submission
	s.mux.HandleFunc("POST /api/submit", withSession(s.handleSubmit))

	// Analytics proxy
	s.mux.HandleFunc("GET /api/all-invoices", withSession(s.handleAllInvoices))
	s.mux.HandleFunc("GET /api/invoices", withSession(s.handleDashboard))
	s.mux.HandleFunc("POST /api/invoices-by-id", withSession(s.handleInvoicesByID))

	// Exports
	s.mux.HandleFunc("GET /api/export/invoices.xlsx", withSession(s.handleExportXLSX))
	s.mux.HandleFunc("GET /api/export/invoices/{id}", withSession(s.handleExportPDF))

	// Operational
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		s.mux.ServeHTTP(w, r)
	})(w, r)
}
