// Package index talks to a package registry: uploads artifacts to the
// legacy upload endpoint and confirms publication through the JSON
// metadata endpoint.
package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenUser is the fixed username package indexes expect for API-token
// basic auth.
const TokenUser = "__token__"

// Client is a package index client
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a new index client
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

// UploadRequest describes one artifact upload
type UploadRequest struct {
	UploadURL string
	Token     string
	Name      string
	Version   string
	FilePath  string
}

// Upload posts the artifact to the index's legacy upload endpoint.
// Any non-2xx response aborts the run; version conflicts and rejected
// credentials surface verbatim, without retry.
func (c *Client) Upload(ctx context.Context, req UploadRequest) error {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"name":             req.Name,
		"version":          req.Version,
	}
	for field, value := range fields {
		if err := writer.WriteField(field, value); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("content", filepath.Base(req.FilePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.UploadURL, &body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.SetBasicAuth(TokenUser, req.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload rejected: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	c.logger.Info("artifact uploaded",
		zap.String("name", req.Name),
		zap.String("version", req.Version),
		zap.String("url", req.UploadURL),
	)

	return nil
}

// Verify issues a single read-only request to the index's JSON metadata
// endpoint and reports whether the response body literally contains the
// version string. It is a best-effort substring match, not a structured
// parse; there is no wait or backoff.
func (c *Client) Verify(ctx context.Context, indexURL, name, version string) (bool, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/%s/json",
		strings.TrimRight(indexURL, "/"), url.PathEscape(name), url.PathEscape(version))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create verify request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read verify response: %w", err)
	}

	found := strings.Contains(string(body), version)
	c.logger.Info("publication check",
		zap.String("name", name),
		zap.String("version", version),
		zap.Bool("found", found),
	)

	return found, nil
}
