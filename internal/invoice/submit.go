package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/extractly/invoice-desk/internal/session"
)

var (
	// ErrDraftInvalid means the draft does not pass ValidateDraft and
	// cannot be submitted.
	ErrDraftInvalid = errors.New("draft failed validation")

	// ErrSubmission means the backend confirm call failed. The draft is
	// preserved so the user can retry.
	ErrSubmission = errors.New("invoice submission failed")
)

// ConfirmItem is one line item on the confirm wire payload. The item's
// stored total is intentionally absent: the backend recomputes it.
type ConfirmItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
}

// ConfirmInvoice is the invoice body of the confirm wire payload.
type ConfirmInvoice struct {
	InvoiceNumber string        `json:"invoice_number"`
	VendorName    string        `json:"vendor_name"`
	InvoiceDate   string        `json:"invoice_date"`
	TotalAmount   string        `json:"total_amount"`
	Items         []ConfirmItem `json:"items"`
}

// ConfirmRequest is the payload POSTed to the backend's confirm endpoint.
type ConfirmRequest struct {
	UserID  string         `json:"user_id"`
	Invoice ConfirmInvoice `json:"invoice"`
}

// Confirmer commits a validated invoice to the backend of record.
type Confirmer interface {
	ConfirmInvoice(ctx context.Context, req ConfirmRequest) error
}

// SubmissionRecorder keeps a local record of confirmed invoices.
type SubmissionRecorder interface {
	RecordSubmission(userID string, d Draft) error
}

// BuildConfirmRequest serializes a draft into the backend's confirm shape.
func BuildConfirmRequest(userID string, d Draft) ConfirmRequest {
	items := make([]ConfirmItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, ConfirmItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return ConfirmRequest{
		UserID: userID,
		Invoice: ConfirmInvoice{
			InvoiceNumber: d.InvoiceNumber,
			VendorName:    d.Vendor,
			InvoiceDate:   d.InvoiceDate,
			TotalAmount:   d.Total,
			Items:         items,
		},
	}
}

// Submitter is the gate between a draft and the backend's confirm endpoint.
type Submitter struct {
	draft     *DraftStore
	sessions  session.Source
	confirmer Confirmer
	recorder  SubmissionRecorder
}

// NewSubmitter creates a submission gate for the given draft. recorder may
// be nil when no local archive is configured.
func NewSubmitter(draft *DraftStore, sessions session.Source, confirmer Confirmer, recorder SubmissionRecorder) *Submitter {
	return &Submitter{
		draft:     draft,
		sessions:  sessions,
		confirmer: confirmer,
		recorder:  recorder,
	}
}

// CanSubmit reports whether the current draft would be accepted.
func (s *Submitter) CanSubmit() bool {
	return ValidateDraft(s.draft.Snapshot())
}

// Submit validates the draft, confirms it with the backend, records it
// locally, and resets the draft. Any failure before the confirm succeeds
// leaves the draft untouched and editable.
func (s *Submitter) Submit(ctx context.Context) error {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		submissionsTotal.WithLabelValues(FailureSessionMissing).Inc()
		return fmt.Errorf("%w: %v", ErrSessionMissing, err)
	}

	draft := s.draft.Snapshot()
	if !ValidateDraft(draft) {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return ErrDraftInvalid
	}

	req := BuildConfirmRequest(sess.UserID, draft)
	if err := s.confirmer.ConfirmInvoice(ctx, req); err != nil {
		submissionsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	// The backend accepted the invoice; a local recording failure must not
	// resurrect the draft.
	if s.recorder != nil {
		if err := s.recorder.RecordSubmission(sess.UserID, draft); err != nil {
			slog.Warn("Recording confirmed invoice failed",
				"user_id", sess.UserID,
				"invoice_number", draft.InvoiceNumber,
				"error", err,
			)
		}
	}

	s.draft.Reset()
	submissionsTotal.WithLabelValues("success").Inc()
	return nil
}
