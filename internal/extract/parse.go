package extract

import (
	"fmt"
	"strings"
	"time"
)

// parseInvoiceJSON parses the JSON response from an LLM extractor. Model
// output often wraps the object in markdown fences or prose, so the object
// boundaries are located before decoding.
func parseInvoiceJSON(text string) (*Invoice, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	inv, err := decodeInvoice([]byte(text))
	if err != nil {
		return nil, err
	}

	inv.InvoiceDate = normalizeDate(inv.InvoiceDate)
	inv.VendorName = strings.TrimSpace(inv.VendorName)
	inv.InvoiceNumber = strings.TrimSpace(inv.InvoiceNumber)

	return inv, nil
}

// normalizeDate converts common date spellings to YYYY-MM-DD. Dates that
// cannot be recognized fall back to today, matching the draft's own default
// for a missing date.
func normalizeDate(date string) string {
	if date == "" {
		return time.Now().Format("2006-01-02")
	}
	if d, err := time.Parse("2006-01-02", date); err == nil {
		return d.Format("2006-01-02")
	}
	formats := []string{
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}
