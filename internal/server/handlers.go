package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/extractly/invoice-desk/internal/export"
	"github.com/extractly/invoice-desk/internal/invoice"
	"github.com/extractly/invoice-desk/internal/session"
)

// maxUploadSize caps multipart uploads at 50MB to handle high-resolution
// phone photos.
const maxUploadSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleSignIn exchanges credentials for a session.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Error("Error signing in", "error", err)
		jsonError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSignUp registers a new account.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Error("Error signing up", "error", err)
		jsonError(w, "Sign up failed", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleSignOut revokes the current session's token.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		jsonError(w, "No session", http.StatusUnauthorized)
		return
	}

	if err := s.deps.Auth.SignOut(r.Context(), sess.AccessToken); err != nil {
		slog.Error("Error signing out", "error", err)
		jsonError(w, "Sign out failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type draftResponse struct {
	Draft     invoice.Draft `json:"draft"`
	CanSubmit bool          `json:"can_submit"`
}

// handleGetDraft returns the current draft and whether it may be submitted.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	writeJSON(w, http.StatusOK, draftResponse{
		Draft:     ws.Draft.Snapshot(),
		CanSubmit: ws.Submitter.CanSubmit(),
	})
}

type headerPatch struct {
	InvoiceNumber *string `json:"invoice_number"`
	Vendor        *string `json:"vendor"`
	InvoiceDate   *string `json:"invoice_date"`
	Total         *string `json:"total"`
}

// handlePatchHeader overwrites the header fields present in the request.
// Values are stored as typed; validation happens at the submission gate.
func (s *Server) handlePatchHeader(w http.ResponseWriter, r *http.Request) {
	var patch headerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ws := s.workspace(r)
	if patch.InvoiceNumber != nil {
		ws.Draft.SetInvoiceNumber(*patch.InvoiceNumber)
	}
	if patch.Vendor != nil {
		ws.Draft.SetVendor(*patch.Vendor)
	}
	if patch.InvoiceDate != nil {
		ws.Draft.SetInvoiceDate(*patch.InvoiceDate)
	}
	if patch.Total != nil {
		ws.Draft.SetTotal(*patch.Total)
	}
	s.persistDraft(r, ws)

	writeJSON(w, http.StatusOK, draftResponse{
		Draft:     ws.Draft.Snapshot(),
		CanSubmit: ws.Submitter.CanSubmit(),
	})
}

type itemRequest struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	Total       string `json:"total"`
}

// handleAddItem appends a line item once it passes validation.
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !invoice.ValidateItem(req.Description, req.Quantity, req.Price, req.Total) {
		jsonError(w, "Invalid item", http.StatusUnprocessableEntity)
		return
	}

	ws := s.workspace(r)
	item := ws.Draft.AddItem(req.Description, req.Quantity, req.Price, req.Total)
	s.persistDraft(r, ws)

	writeJSON(w, http.StatusCreated, item)
}

// handleUpdateItem replaces the fields of an existing line item.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !invoice.ValidateItem(req.Description, req.Quantity, req.Price, req.Total) {
		jsonError(w, "Invalid item", http.StatusUnprocessableEntity)
		return
	}

	ws := s.workspace(r)
	item := invoice.Item{
		ItemID:      id,
		Description: req.Description,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Total:       req.Total,
	}
	if !ws.Draft.UpdateItem(item) {
		jsonError(w, "Item not found", http.StatusNotFound)
		return
	}
	s.persistDraft(r, ws)

	writeJSON(w, http.StatusOK, item)
}

// handleDeleteItem removes a line item.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	if !ws.Draft.DeleteItem(r.PathValue("id")) {
		jsonError(w, "Item not found", http.StatusNotFound)
		return
	}
	s.persistDraft(r, ws)

	w.WriteHeader(http.StatusNoContent)
}

// handleSelectItem toggles the selection for editing. Selecting an already
// selected item clears the selection; unknown IDs are ignored.
func (s *Server) handleSelectItem(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	ws.Draft.SelectItem(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleClearSelection closes the edit surface.
func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	ws.Draft.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

type uploadResponse struct {
	Draft invoice.Draft       `json:"draft"`
	State invoice.UploadState `json:"state"`
}

// handleUpload accepts one file and runs it through the extraction pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	if !allowedUploadType(contentType) {
		jsonError(w, "Only images and PDF files are accepted", http.StatusUnsupportedMediaType)
		return
	}

	ws := s.workspace(r)
	err = ws.Pipeline.Upload(r.Context(), header.Filename, contentType, data)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, invoice.ErrUploadInFlight):
			code = http.StatusConflict
		case errors.Is(err, invoice.ErrSessionMissing):
			code = http.StatusUnauthorized
		}
		slog.Error("Upload failed", "filename", header.Filename, "error", err)
		writeJSON(w, code, uploadResponse{
			Draft: ws.Draft.Snapshot(),
			State: ws.Pipeline.State(),
		})
		return
	}
	s.persistDraft(r, ws)

	writeJSON(w, http.StatusOK, uploadResponse{
		Draft: ws.Draft.Snapshot(),
		State: ws.Pipeline.State(),
	})
}

// detectContentType falls back to the filename extension when the part
// carries no content type.
func detectContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func allowedUploadType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}

// handleUploadState reports whether an upload is running and the last
// failure, if any.
func (s *Server) handleUploadState(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	writeJSON(w, http.StatusOK, ws.Pipeline.State())
}

// handlePreview serves a locally stored preview image.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	data, err := s.deps.Previews.Get(r.Context(), path)
	if err != nil {
		jsonError(w, "Preview not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleSubmit pushes the reviewed draft to the backend.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)

	if err := ws.Submitter.Submit(r.Context()); err != nil {
		switch {
		case errors.Is(err, invoice.ErrDraftInvalid):
			jsonError(w, "Draft is incomplete or invalid", http.StatusUnprocessableEntity)
		case errors.Is(err, invoice.ErrSessionMissing):
			jsonError(w, "No session", http.StatusUnauthorized)
		default:
			slog.Error("Error submitting invoice", "error", err)
			jsonError(w, "Submission failed", http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// handleAllInvoices proxies the invoice list from the backend.
func (s *Server) handleAllInvoices(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.deps.Analytics.AllInvoices(r.Context())
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		jsonError(w, "Backend unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleDashboard proxies the analytics aggregates from the backend.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.deps.Analytics.Dashboard(r.Context())
	if err != nil {
		slog.Error("Error fetching dashboard", "error", err)
		jsonError(w, "Backend unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// handleInvoicesByID proxies the full-record lookup used for exports.
func (s *Server) handleInvoicesByID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	raw, err := s.deps.Analytics.InvoicesByID(r.Context(), req.IDs)
	if err != nil {
		slog.Error("Error fetching invoices by id", "error", err)
		jsonError(w, "Backend unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// handleExportXLSX downloads the user's submission archive as a workbook.
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		jsonError(w, "Archive not configured", http.StatusNotFound)
		return
	}

	records, err := s.deps.Archive.ListSubmissions(workspaceKey(r))
	if err != nil {
		slog.Error("Error listing submissions", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data, err := export.XLSX(records)
	if err != nil {
		slog.Error("Error building workbook", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Write(data)
}

// handleExportPDF renders one archived submission as a PDF.
func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		jsonError(w, "Archive not configured", http.StatusNotFound)
		return
	}

	id := strings.TrimSuffix(r.PathValue("id"), ".pdf")
	record, err := s.deps.Archive.GetSubmission(id)
	if err != nil {
		jsonError(w, "Submission not found", http.StatusNotFound)
		return
	}

	data, err := export.PDF(record)
	if err != nil {
		slog.Error("Error rendering pdf", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="invoice-`+record.InvoiceNumber+`.pdf"`)
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(data)
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
