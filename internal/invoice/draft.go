package invoice

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/extractly/invoice-desk/internal/extract"
)

// IDGenerator generates unique IDs for draft items.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DraftStore owns the invoice draft currently being extracted and edited.
// It is the single owner of its draft: all mutations go through it and are
// applied in call order. Writes perform no validation; validity is a
// read-time question answered by ValidateDraft.
type DraftStore struct {
	mu          sync.Mutex
	draft       Draft
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewDraftStore creates an empty draft store.
func NewDraftStore() *DraftStore {
	return &DraftStore{
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewDraftStoreWithDeps creates a draft store with custom dependencies for
// testing.
func NewDraftStoreWithDeps(idGen IDGenerator, timeSrc TimeSource) *DraftStore {
	return &DraftStore{
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Snapshot returns a deep copy of the current draft.
func (s *DraftStore) Snapshot() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone()
}

// Restore replaces the whole draft, used when resuming a persisted snapshot.
func (s *DraftStore) Restore(d Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = d.clone()
}

// Reset returns the draft to its initial empty state.
func (s *DraftStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = Draft{}
}

func (s *DraftStore) SetInvoiceNumber(v string) { s.setField(func(d *Draft) { d.InvoiceNumber = v }) }
func (s *DraftStore) SetVendor(v string)        { s.setField(func(d *Draft) { d.Vendor = v }) }
func (s *DraftStore) SetInvoiceDate(v string)   { s.setField(func(d *Draft) { d.InvoiceDate = v }) }
func (s *DraftStore) SetTotal(v string)         { s.setField(func(d *Draft) { d.Total = v }) }
func (s *DraftStore) SetImagePreview(v string)  { s.setField(func(d *Draft) { d.ImagePreview = v }) }

func (s *DraftStore) setField(apply func(*Draft)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.draft)
}

// ReplaceFromExtraction overwrites the header fields and replaces the whole
// item collection with items mapped from an extraction result, each with a
// freshly generated ID. Items the user added before the extraction finished
// are discarded. A missing invoice date defaults to today.
func (s *DraftStore) ReplaceFromExtraction(ext extract.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := ext.InvoiceDate
	if date == "" {
		date = s.timeSource.Now().Format("2006-01-02")
	}

	items := make([]Item, 0, len(ext.Items))
	for _, it := range ext.Items {
		items = append(items, Item{
			ItemID:      s.idGenerator.Generate(),
			Description: it.Description,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
			Total:       it.LineTotal,
		})
	}

	s.draft.InvoiceNumber = ext.InvoiceNumber
	s.draft.Vendor = ext.VendorName
	s.draft.InvoiceDate = date
	s.draft.Total = ext.TotalAmount
	s.draft.Items = items
	s.draft.SelectedID = ""
}

// AddItem appends a new item with a generated ID and returns it. The store
// does not validate; gating happens before this is invoked.
func (s *DraftStore) AddItem(description, quantity, price, total string) Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := Item{
		ItemID:      s.idGenerator.Generate(),
		Description: description,
		Quantity:    quantity,
		Price:       price,
		Total:       total,
	}
	s.draft.Items = append(s.draft.Items, item)
	return item
}

// UpdateItem replaces the item with a matching ID, preserving its position.
// Returns false if no item matches.
func (s *DraftStore) UpdateItem(item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.draft.Items {
		if s.draft.Items[i].ItemID == item.ItemID {
			s.draft.Items[i] = item
			return true
		}
	}
	return false
}

// DeleteItem removes the item with a matching ID. Returns false if no item
// matches. Deleting the selected item clears the selection.
func (s *DraftStore) DeleteItem(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.draft.Items {
		if s.draft.Items[i].ItemID == itemID {
			s.draft.Items = append(s.draft.Items[:i], s.draft.Items[i+1:]...)
			if s.draft.SelectedID == itemID {
				s.draft.SelectedID = ""
			}
			return true
		}
	}
	return false
}

// SelectItem marks an item as open for edit. Selecting the already-selected
// item clears the selection instead (toggle). Unknown IDs are ignored.
func (s *DraftStore) SelectItem(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft.SelectedID == itemID {
		s.draft.SelectedID = ""
		return
	}
	for i := range s.draft.Items {
		if s.draft.Items[i].ItemID == itemID {
			s.draft.SelectedID = itemID
			return
		}
	}
}

// ClearSelection closes any open edit surface.
func (s *DraftStore) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.SelectedID = ""
}

// SelectedItem returns the currently selected item, if any.
func (s *DraftStore) SelectedItem() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.draft.Items {
		if it.ItemID == s.draft.SelectedID {
			return it, true
		}
	}
	return Item{}, false
}
