// Package archive keeps a local record of confirmed invoices and of
// in-progress draft snapshots, so an interrupted session resumes where it
// left off.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/extractly/invoice-desk/internal/invoice"
)

const (
	submissionBucketName = "submissions"
	draftBucketName      = "drafts"
)

// ErrNotFound is returned when no record exists for the given key.
var ErrNotFound = errors.New("record not found")

// Record is a confirmed invoice as it was submitted.
type Record struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	InvoiceNumber string         `json:"invoice_number"`
	Vendor        string         `json:"vendor"`
	InvoiceDate   string         `json:"invoice_date"`
	Total         string         `json:"total"`
	Items         []invoice.Item `json:"items"`
	SubmittedAt   time.Time      `json:"submitted_at"`
}

// Store persists records in a bbolt database.
type Store struct {
	db *bbolt.DB
}

// NewStore opens (creating if necessary) the archive database at path.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(submissionBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(draftBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordSubmission stores a confirmed draft as a new submission record. It
// implements invoice.SubmissionRecorder.
func (s *Store) RecordSubmission(userID string, d invoice.Draft) error {
	record := &Record{
		ID:            uuid.NewString(),
		UserID:        userID,
		InvoiceNumber: d.InvoiceNumber,
		Vendor:        d.Vendor,
		InvoiceDate:   d.InvoiceDate,
		Total:         d.Total,
		Items:         d.Items,
		SubmittedAt:   time.Now(),
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetSubmission retrieves a submission record by ID.
func (s *Store) GetSubmission(id string) (*Record, error) {
	var record *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListSubmissions returns all submission records, optionally filtered to one
// user. An empty userID returns every record.
func (s *Store) ListSubmissions(userID string) ([]*Record, error) {
	records := make([]*Record, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if userID == "" || record.UserID == userID {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveDraft persists a snapshot of a user's in-progress draft.
func (s *Store) SaveDraft(userID string, d invoice.Draft) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(draftBucketName))
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshaling draft: %w", err)
		}
		return bucket.Put([]byte(userID), data)
	})
}

// LoadDraft retrieves a user's saved draft snapshot.
func (s *Store) LoadDraft(userID string) (*invoice.Draft, error) {
	var draft *invoice.Draft
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(draftBucketName))
		data := bucket.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("%w: draft for %s", ErrNotFound, userID)
		}
		return json.Unmarshal(data, &draft)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// DeleteDraft removes a user's saved draft snapshot.
func (s *Store) DeleteDraft(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(draftBucketName))
		return bucket.Delete([]byte(userID))
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
