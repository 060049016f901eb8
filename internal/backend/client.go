// Package backend is the JSON HTTP client for the invoice processing and
// aggregation service. It covers extraction, confirmation and the analytics
// endpoints the browser reads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/extractly/invoice-desk/internal/invoice"
	"github.com/extractly/invoice-desk/internal/session"
)

// Client talks to the backend service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// InvoiceSummary is one row of the invoice list.
type InvoiceSummary struct {
	ID          string  `json:"id"`
	VendorName  string  `json:"vendor_name"`
	InvoiceDate string  `json:"invoice_date"`
	TotalAmount float64 `json:"total_amount"`
}

// MonthlySale is revenue aggregated per month.
type MonthlySale struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
}

// VendorRevenue is revenue aggregated per vendor.
type VendorRevenue struct {
	VendorName string  `json:"vendor_name"`
	Revenue    float64 `json:"revenue"`
}

// ProductStat is a per-product aggregate. Quantity is set on quantity
// rankings, ItemRevenue on revenue rankings.
type ProductStat struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity,omitempty"`
	ItemRevenue float64 `json:"item_revenue,omitempty"`
}

// Appointment is a vendor visit derived from invoice dates.
type Appointment struct {
	VendorName  string `json:"vendor_name"`
	InvoiceDate string `json:"invoice_date"`
}

// Dashboard is the aggregate payload behind the analytics view.
type Dashboard struct {
	TotalRevenue    float64         `json:"total_revenue"`
	UniqueVendors   int             `json:"unique_vendors"`
	MonthlySales    []MonthlySale   `json:"monthly_sales"`
	TopVendors      []VendorRevenue `json:"top_vendors"`
	TopProductsQty  []ProductStat   `json:"top_products_qty"`
	ProductSales    []ProductStat   `json:"product_sales"`
	AllVendors      []VendorRevenue `json:"all_vendors"`
	AllAppointments []Appointment   `json:"all_appointments"`
}

type processRequest struct {
	UserID   string `json:"user_id"`
	FilePath string `json:"file_path"`
}

type processResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ProcessInvoice asks the backend to extract structured data from a stored
// file. It returns the reported status and the raw extraction payload, and
// implements extract.Processor.
func (c *Client) ProcessInvoice(ctx context.Context, userID, filePath string) (string, []byte, error) {
	body, err := json.Marshal(processRequest{UserID: userID, FilePath: filePath})
	if err != nil {
		return "", nil, fmt.Errorf("marshaling process request: %w", err)
	}

	respBody, err := c.post(ctx, "/api/process-invoice", body)
	if err != nil {
		return "", nil, err
	}

	var resp processResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", nil, fmt.Errorf("decoding process response: %w", err)
	}
	return resp.Status, resp.Data, nil
}

// ConfirmInvoice posts a reviewed invoice for final ingestion. It implements
// invoice.Confirmer.
func (c *Client) ConfirmInvoice(ctx context.Context, req invoice.ConfirmRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling confirm request: %w", err)
	}
	if _, err := c.post(ctx, "/api/confirm-invoice", body); err != nil {
		return err
	}
	return nil
}

// AllInvoices lists every ingested invoice.
func (c *Client) AllInvoices(ctx context.Context) ([]InvoiceSummary, error) {
	body, err := c.get(ctx, "/api/all-invoices")
	if err != nil {
		return nil, err
	}
	summaries := make([]InvoiceSummary, 0)
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, fmt.Errorf("decoding invoice list: %w", err)
	}
	return summaries, nil
}

// Dashboard fetches the analytics aggregates.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	body, err := c.get(ctx, "/api/invoices")
	if err != nil {
		return nil, err
	}
	var dashboard Dashboard
	if err := json.Unmarshal(body, &dashboard); err != nil {
		return nil, fmt.Errorf("decoding dashboard: %w", err)
	}
	return &dashboard, nil
}

// InvoicesByID fetches the full records for the given IDs. The record shape
// is backend-defined, so the payload is passed through untouched.
func (c *Client) InvoicesByID(ctx context.Context, ids []string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("marshaling id list: %w", err)
	}
	return c.post(ctx, "/api/invoices-by-id", body)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if sess, ok := session.FromContext(req.Context()); ok {
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
