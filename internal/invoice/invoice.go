package invoice

// Item is one editable invoice line. All values are string-encoded: they
// travel between the browser, the extraction service, and the backend as
// text, and validation happens at read time.
type Item struct {
	ItemID      string `json:"item_id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	Total       string `json:"total"`
}

// Draft is the in-memory, not-yet-committed invoice record being edited.
type Draft struct {
	InvoiceNumber string `json:"invoice_number"`
	Vendor        string `json:"vendor"`
	InvoiceDate   string `json:"invoice_date"`
	Total         string `json:"total"`
	ImagePreview  string `json:"image_preview"`
	Items         []Item `json:"items"`
	SelectedID    string `json:"selected_id,omitempty"`
}

// clone returns a deep copy so callers can read a draft without holding the
// store's lock.
func (d Draft) clone() Draft {
	out := d
	out.Items = make([]Item, len(d.Items))
	copy(out.Items, d.Items)
	return out
}
