package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotSuccess indicates the extraction service answered with a
	// non-success status. The draft must be left untouched.
	ErrNotSuccess = errors.New("extraction did not succeed")

	// ErrMalformedResponse indicates the extraction payload failed schema
	// validation and cannot be trusted to populate a draft.
	ErrMalformedResponse = errors.New("malformed extraction response")
)

// Item is one extracted invoice line.
type Item struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// Invoice contains the structured fields extracted from a document.
type Invoice struct {
	InvoiceNumber string `json:"invoice_number"`
	VendorName    string `json:"vendor_name"`
	InvoiceDate   string `json:"invoice_date"`
	TotalAmount   string `json:"total_amount"`
	Items         []Item `json:"items"`
}

// Request carries everything an extractor might need: the storage path for
// service-side extractors and the raw bytes for local ones.
type Request struct {
	UserID      string
	FilePath    string
	Data        []byte
	ContentType string
}

// Extractor turns an uploaded document into a structured invoice.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Invoice, error)
	Close() error
}

// asString accepts JSON strings, numbers, and null, normalizing all of them
// to a plain string. Extraction services are inconsistent about quoting
// numeric fields.
func asString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// UnmarshalJSON tolerates number-typed quantity/price fields.
func (it *Item) UnmarshalJSON(b []byte) error {
	var aux struct {
		Description json.RawMessage `json:"description"`
		Quantity    json.RawMessage `json:"quantity"`
		UnitPrice   json.RawMessage `json:"unit_price"`
		LineTotal   json.RawMessage `json:"line_total"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	it.Description = asString(aux.Description)
	it.Quantity = asString(aux.Quantity)
	it.UnitPrice = asString(aux.UnitPrice)
	it.LineTotal = asString(aux.LineTotal)
	return nil
}

// UnmarshalJSON tolerates a number-typed total and a null date.
func (inv *Invoice) UnmarshalJSON(b []byte) error {
	var aux struct {
		InvoiceNumber json.RawMessage `json:"invoice_number"`
		VendorName    json.RawMessage `json:"vendor_name"`
		InvoiceDate   json.RawMessage `json:"invoice_date"`
		TotalAmount   json.RawMessage `json:"total_amount"`
		Items         []Item          `json:"items"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	inv.InvoiceNumber = asString(aux.InvoiceNumber)
	inv.VendorName = asString(aux.VendorName)
	inv.InvoiceDate = asString(aux.InvoiceDate)
	inv.TotalAmount = asString(aux.TotalAmount)
	inv.Items = aux.Items
	return nil
}

// decodeInvoice validates raw extraction data against the invoice schema and
// decodes it. Schema violations surface as ErrMalformedResponse.
func decodeInvoice(raw []byte) (*Invoice, error) {
	if err := validateInvoiceJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &inv, nil
}
