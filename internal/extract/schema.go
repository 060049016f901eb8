package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// invoiceJSONSchema describes the shape of an extraction result. Field values
// may arrive as strings or numbers; anything else is rejected before the
// draft ever sees it.
func invoiceJSONSchema() map[string]any {
	scalar := map[string]any{"type": []string{"string", "number", "null"}}
	return map[string]any{
		"type":     "object",
		"required": []string{"invoice_number", "vendor_name", "total_amount", "items"},
		"properties": map[string]any{
			"invoice_number": scalar,
			"vendor_name":    scalar,
			"invoice_date":   scalar,
			"total_amount":   scalar,
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"description", "quantity", "unit_price", "line_total"},
					"properties": map[string]any{
						"description": scalar,
						"quantity":    scalar,
						"unit_price":  scalar,
						"line_total":  scalar,
					},
				},
			},
		},
	}
}

var compiledInvoiceSchema = mustCompileSchema(invoiceJSONSchema())

func mustCompileSchema(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// validateInvoiceJSON checks raw extraction data against the invoice schema.
func validateInvoiceJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := compiledInvoiceSchema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
