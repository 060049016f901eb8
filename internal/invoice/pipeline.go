package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/extractly/invoice-desk/internal/extract"
	"github.com/extractly/invoice-desk/internal/session"
	"github.com/extractly/invoice-desk/internal/storage"
)

var (
	// ErrUploadInFlight rejects a second upload while one is running.
	ErrUploadInFlight = errors.New("an upload is already in progress")

	// ErrSessionMissing means no signed-in user could be resolved. No
	// storage or backend call is made.
	ErrSessionMissing = errors.New("no user session found")

	// ErrStorageUpload means the object store rejected the write. The
	// extraction service is never contacted.
	ErrStorageUpload = errors.New("storage upload failed")

	// ErrExtractionFailed means the extraction service was unreachable or
	// answered with a non-success status. The draft is left unchanged;
	// the user can fill it in manually.
	ErrExtractionFailed = errors.New("invoice extraction failed")
)

// UploadState is the pipeline's externally visible status.
type UploadState struct {
	Uploading bool   `json:"is_uploading"`
	Failure   string `json:"failure,omitempty"`
}

// Failure classes reported in UploadState.
const (
	FailureSessionMissing    = "session_missing"
	FailureStorageUpload     = "storage_upload_failed"
	FailureExtraction        = "extraction_failed"
	FailureMalformedResponse = "malformed_response"
	FailureUploadInFlight    = "upload_in_flight"
)

// Renderer derives a viewable preview image from an uploaded document.
type Renderer func(data []byte, contentType string) ([]byte, error)

// Pipeline runs the upload workflow for one draft: local preview, session
// resolution, storage upload, extraction, draft population. One upload at a
// time; late results from superseded attempts never reach the draft.
type Pipeline struct {
	sessions  session.Source
	previews  storage.ObjectStore
	remote    storage.ObjectStore
	extractor extract.Extractor
	draft     *DraftStore
	render    Renderer

	idGenerator   IDGenerator
	timeSource    TimeSource
	uploadTimeout time.Duration

	mu    sync.Mutex
	busy  bool
	seq   uint64
	state UploadState
}

// NewPipeline creates an upload pipeline writing into the given draft store.
func NewPipeline(sessions session.Source, previews, remote storage.ObjectStore, extractor extract.Extractor, draft *DraftStore, render Renderer) *Pipeline {
	return &Pipeline{
		sessions:      sessions,
		previews:      previews,
		remote:        remote,
		extractor:     extractor,
		draft:         draft,
		render:        render,
		idGenerator:   &defaultIDGenerator{},
		timeSource:    &defaultTimeSource{},
		uploadTimeout: 30 * time.Second,
	}
}

// SetDeps overrides the ID generator and time source for testing.
func (p *Pipeline) SetDeps(idGen IDGenerator, timeSrc TimeSource) {
	p.idGenerator = idGen
	p.timeSource = timeSrc
}

// State returns the current upload state. The failure field persists across
// idle periods and is cleared only by a successful upload.
func (p *Pipeline) State() UploadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Upload runs the full pipeline for one file. Callers supplying several
// files must pick the first; the pipeline takes exactly one.
func (p *Pipeline) Upload(ctx context.Context, filename, contentType string, data []byte) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrUploadInFlight
	}
	p.busy = true
	p.seq++
	seq := p.seq
	p.state.Uploading = true
	p.mu.Unlock()

	start := p.timeSource.Now()
	err := p.run(ctx, seq, filename, contentType, data)

	p.mu.Lock()
	p.busy = false
	p.state.Uploading = false
	if err != nil {
		p.state.Failure = failureKind(err)
	} else {
		p.state.Failure = ""
	}
	outcome := p.state.Failure
	p.mu.Unlock()

	if outcome == "" {
		outcome = "success"
	}
	uploadsTotal.WithLabelValues(outcome).Inc()
	uploadDuration.Observe(time.Since(start).Seconds())

	return err
}

func (p *Pipeline) run(ctx context.Context, seq uint64, filename, contentType string, data []byte) error {
	// The preview must be written before any network step so it displays
	// even when the upload later fails.
	previewBody := data
	if rendered, err := p.render(data, contentType); err == nil {
		previewBody = rendered
	} else {
		slog.Warn("Preview rendering failed, storing original bytes",
			"filename", filename,
			"content_type", contentType,
			"error", err,
		)
	}
	previewPath := fmt.Sprintf("previews/%s.png", p.idGenerator.Generate())
	if path, err := p.previews.Upload(ctx, previewPath, previewBody, "image/png"); err == nil {
		p.draft.SetImagePreview(path)
	} else {
		slog.Warn("Saving preview failed", "path", previewPath, "error", err)
	}

	sess, err := p.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionMissing, err)
	}

	remotePath := fmt.Sprintf("%s/%d_%s", sess.UserID, p.timeSource.Now().UnixMilli(), sanitizeFilename(filename))
	uploadCtx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	storedPath, err := p.remote.Upload(uploadCtx, remotePath, data, contentType)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUpload, err)
	}

	inv, err := p.extractor.Extract(ctx, extract.Request{
		UserID:      sess.UserID,
		FilePath:    storedPath,
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(err, extract.ErrMalformedResponse) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	p.mu.Lock()
	latest := p.seq == seq
	p.mu.Unlock()
	if !latest {
		slog.Info("Discarding stale extraction result", "path", storedPath)
		return nil
	}

	p.draft.ReplaceFromExtraction(*inv)
	return nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrSessionMissing):
		return FailureSessionMissing
	case errors.Is(err, ErrStorageUpload):
		return FailureStorageUpload
	case errors.Is(err, extract.ErrMalformedResponse):
		return FailureMalformedResponse
	case errors.Is(err, ErrExtractionFailed):
		return FailureExtraction
	case errors.Is(err, ErrUploadInFlight):
		return FailureUploadInFlight
	default:
		return "error"
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length, so phone-generated names produce sane storage paths.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "invoice"
	}

	return base + ext
}
