package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/extractly/invoice-desk/internal/preview"
)

// invoiceScanPrompt asks the model for the exact shape the backend's
// processing endpoint returns, so both extractors share one decode path.
const invoiceScanPrompt = `You are analyzing an invoice document. Carefully read all text in the image and extract the following information:

1. **Invoice Number**: The invoice identifier, often labeled "Invoice #", "Invoice No." or similar.

2. **Vendor Name**: The business issuing the invoice, usually the largest text or a header at the top.

3. **Invoice Date**: The issue date of the invoice, converted to ISO 8601 format (YYYY-MM-DD).

4. **Total Amount**: The final amount due, usually labeled "TOTAL", "Amount Due" or "Grand Total".

5. **Line Items**: Every item row with its description, quantity, unit price and line total.

Return ONLY valid JSON in this exact format:
{
  "invoice_number": "INV-001",
  "vendor_name": "Vendor Name",
  "invoice_date": "YYYY-MM-DD",
  "total_amount": "0.00",
  "items": [
    {"description": "Item description", "quantity": "1", "unit_price": "0.00", "line_total": "0.00"}
  ]
}

Important:
- All numeric values must be strings with at most two decimal places and no currency symbols
- Quantity must be a whole number string
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements Extractor using Google Gemini, for running without the
// inventory backend's processing endpoint.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini extractor.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Extract analyzes the uploaded document and returns structured invoice data.
func (g *Gemini) Extract(ctx context.Context, req Request) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// Everything is handed to the model as PNG; go-fitz and the HEIC
	// decoder cover formats genai cannot take directly.
	imageData, err := preview.ToPNG(req.Data, req.ContentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", imageData),
		genai.Text(invoiceScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	inv, err := parseInvoiceJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing invoice data: %w", err)
	}
	return inv, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
