package extract

import (
	"context"
	"fmt"
	"time"
)

// Processor is the slice of the backend API the extractor needs: submit a
// stored file for processing and get back the raw envelope.
type Processor interface {
	ProcessInvoice(ctx context.Context, userID, filePath string) (status string, data []byte, err error)
}

// Backend extracts invoices by delegating to the inventory backend's
// processing endpoint. The file must already be in remote storage; only its
// path travels to the backend.
type Backend struct {
	processor Processor
	timeout   time.Duration
}

// NewBackend creates a backend extractor. OCR is slow, so the default
// timeout is 60 seconds.
func NewBackend(processor Processor) *Backend {
	return &Backend{processor: processor, timeout: 60 * time.Second}
}

// Extract submits the stored file for processing and decodes the result.
func (b *Backend) Extract(ctx context.Context, req Request) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	status, data, err := b.processor.ProcessInvoice(ctx, req.UserID, req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("processing invoice: %w", err)
	}
	if status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrNotSuccess, status)
	}
	return decodeInvoice(data)
}

// Close implements Extractor; the backend extractor holds no resources.
func (b *Backend) Close() error {
	return nil
}
