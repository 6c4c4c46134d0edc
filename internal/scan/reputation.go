package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// DefaultReputationBaseURL targets the VirusTotal v3 API.
const DefaultReputationBaseURL = "https://www.virustotal.com/api/v3"

// ErrUnknownHash means the reputation service has never seen this file, so
// the lookup cannot produce a verdict. The chain falls through to the next
// backend (typically upload-and-scan against the same service).
var ErrUnknownHash = errors.New("file hash unknown to reputation service")

// ReputationScanner checks a file's SHA-256 against a hash-reputation API
// without transferring the file itself.
type ReputationScanner struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type analysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
}

type fileReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats analysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// NewReputationScanner creates a scanner for the given API key. Returns nil
// when no key is configured, degrading this backend to unavailable.
func NewReputationScanner(apiKey, baseURL string, client *http.Client) *ReputationScanner {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultReputationBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ReputationScanner{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (s *ReputationScanner) Name() string { return "reputation" }

func (s *ReputationScanner) Scan(ctx context.Context, path string) (Result, error) {
	hash, err := fileSHA256(path)
	if err != nil {
		return Result{}, fmt.Errorf("hash file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/files/"+hash, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("x-apikey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("reputation lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var report fileReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return Result{}, fmt.Errorf("decode reputation report: %w", err)
		}
		stats := report.Data.Attributes.LastAnalysisStats
		if stats.Malicious > 0 || stats.Suspicious > 0 {
			return Result{
				Infected: true,
				Detail: fmt.Sprintf("flagged by reputation service (malicious: %d, suspicious: %d)",
					stats.Malicious, stats.Suspicious),
			}, nil
		}
		return Result{Detail: "reputation scan clean"}, nil

	case http.StatusNotFound:
		return Result{}, ErrUnknownHash

	default:
		return Result{}, fmt.Errorf("reputation lookup: unexpected status %d", resp.StatusCode)
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
