package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults for the Hugging Face Hub store.
const (
	DefaultHubEndpoint = "https://huggingface.co"
	DefaultHubRepo     = "manamendra/body-measurement-ai"
	DefaultHubRevision = "main"
)

// HubStore downloads files from the root of a Hugging Face Hub model repository.
type HubStore struct {
	client   *http.Client
	endpoint string
	repo     string
	revision string
	token    string
}

// HubOption configures a HubStore.
type HubOption func(*HubStore)

// WithHubEndpoint overrides the Hub base URL.
func WithHubEndpoint(endpoint string) HubOption {
	return func(h *HubStore) { h.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithHubRevision pins a branch, tag or commit.
func WithHubRevision(revision string) HubOption {
	return func(h *HubStore) { h.revision = revision }
}

// WithHubToken sends a bearer token for private repositories.
func WithHubToken(token string) HubOption {
	return func(h *HubStore) { h.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) HubOption {
	return func(h *HubStore) { h.client = client }
}

// NewHubStore creates a store for repo, e.g. "manamendra/body-measurement-ai".
func NewHubStore(repo string, opts ...HubOption) *HubStore {
	if repo == "" {
		repo = DefaultHubRepo
	}
	h := &HubStore{
		client:   &http.Client{Timeout: 30 * time.Minute},
		endpoint: DefaultHubEndpoint,
		repo:     repo,
		revision: DefaultHubRevision,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Location implements Store.
func (h *HubStore) Location() string {
	return h.repo
}

// URL returns the download URL of a file in the repository.
func (h *HubStore) URL(name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		h.endpoint, h.repo, url.PathEscape(h.revision), url.PathEscape(name))
}

// Fetch implements Store.
func (h *HubStore) Fetch(ctx context.Context, name string, dst io.WriterAt) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL(name), nil)
	if err != nil {
		return 0, err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", req.URL, resp.Status)
	}

	n, err := io.Copy(io.NewOffsetWriter(dst, 0), resp.Body)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", name, err)
	}
	return n, nil
}
