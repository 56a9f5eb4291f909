// Package mirror synchronizes the durable category store with a remote
// manifest-and-blob endpoint shaped like a contents API: one blob per
// category holding its serialized model, plus a manifest document at a
// well-known path mapping description to blob URL. The mirror is an
// out-of-band replica; requests never depend on it.
package mirror

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"retina/internal/version"
)

// ManifestName is the well-known file name of the manifest document
// under the remote root.
const ManifestName = "manifest.json"

// BlobInfo describes one remote blob.
type BlobInfo struct {
	// ID is the content identifier assigned by the remote store,
	// required to update a blob in place.
	ID string
	// URL is the direct download URL for the blob body.
	URL string
}

// Client talks to the remote contents endpoint. The auth token is only
// required for writes.
type Client struct {
	httpClient *http.Client
	token      string
}

// NewClient creates a mirror client. token may be empty for pull-only use.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		token:      token,
	}
}

// HasToken reports whether the client can authenticate writes.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// FetchManifest downloads and parses the manifest document: a JSON
// object mapping description to blob URL.
func (c *Client) FetchManifest(ctx context.Context, url string) (map[string]string, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	manifest := make(map[string]string)
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

// FetchBlob downloads one blob body as text.
func (c *Client) FetchBlob(ctx context.Context, url string) (string, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch blob: %w", err)
	}
	return string(body), nil
}

// ListBlobs lists the blobs under the remote root, keyed by file name.
func (c *Client) ListBlobs(ctx context.Context, rootURL string) (map[string]BlobInfo, error) {
	body, err := c.get(ctx, rootURL)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	var listing []struct {
		Name        string `json:"name"`
		SHA         string `json:"sha"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("parse blob listing: %w", err)
	}

	blobs := make(map[string]BlobInfo, len(listing))
	for _, item := range listing {
		blobs[item.Name] = BlobInfo{ID: item.SHA, URL: item.DownloadURL}
	}
	return blobs, nil
}

// PutBlob creates or updates a blob. priorID must be the blob's current
// content identifier for an update and empty for a create. Returns the
// new content identifier and the blob's download URL.
func (c *Client) PutBlob(ctx context.Context, path, content, priorID string) (BlobInfo, error) {
	payload := map[string]string{
		"message": "update classifier model",
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	}
	if priorID != "" {
		payload["sha"] = priorID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("put blob: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return BlobInfo{}, fmt.Errorf("put blob: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("put blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return BlobInfo{}, fmt.Errorf("put blob: remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Content struct {
			SHA         string `json:"sha"`
			DownloadURL string `json:"download_url"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BlobInfo{}, fmt.Errorf("put blob: parse response: %w", err)
	}
	return BlobInfo{ID: out.Content.SHA, URL: out.Content.DownloadURL}, nil
}

// get issues an authorized GET and returns the response body.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// authorize attaches the user agent and, when configured, the token
// header.
func (c *Client) authorize(req *http.Request) {
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}

// BlobName returns the remote file name for a category description.
// Descriptions are free text, so they are encoded to stay path-safe.
func BlobName(description string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(description)) + ".model"
}
