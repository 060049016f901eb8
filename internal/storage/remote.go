package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/extractly/invoice-desk/internal/session"
)

// HTTPStore implements ObjectStore against a remote bucket API. Requests are
// authorized with the caller's access token when one is on the context,
// falling back to the anon key.
type HTTPStore struct {
	baseURL string
	bucket  string
	anonKey string
	http    *http.Client
}

// NewHTTPStore creates a remote object store client for the given bucket.
func NewHTTPStore(baseURL, bucket, anonKey string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPStore) objectURL(path string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(path, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return fmt.Sprintf("%s/object/%s/%s", h.baseURL, h.bucket, strings.Join(escaped, "/"))
}

func (h *HTTPStore) authorize(ctx context.Context, req *http.Request) {
	token := h.anonKey
	if sess, ok := session.FromContext(ctx); ok && sess.AccessToken != "" {
		token = sess.AccessToken
	}
	req.Header.Set("apikey", h.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
}

// Upload writes a file to the bucket and returns its bucket-relative path.
func (h *HTTPStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	h.authorize(ctx, req)

	resp, err := h.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading object: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("uploading object: unexpected status %d", resp.StatusCode)
	}
	return path, nil
}

// Get retrieves a file from the bucket.
func (h *HTTPStore) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("building get request: %w", err)
	}
	h.authorize(ctx, req)

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("getting object: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete removes a file from the bucket.
func (h *HTTPStore) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.objectURL(path), nil)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	h.authorize(ctx, req)

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("deleting object: unexpected status %d", resp.StatusCode)
	}
	return nil
}
