// Package inspect validates staged upload files before they are trusted.
package inspect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/clipvault/clipvault/internal/scan"
)

// Checks records which checks actually ran for a report.
type Checks struct {
	FileSize      bool `json:"fileSize"`
	MimeType      bool `json:"mimeType"`
	FileSignature bool `json:"fileSignature"`
	VirusScan     bool `json:"virusScan"`
}

// Report is the outcome of inspecting one staged file. Errors block the
// upload; warnings are advisory only.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Checks   Checks   `json:"checksPerformed"`
}

// Inspector runs layered safety checks on staged files. All checks run
// independently so the caller sees every failure reason at once.
type Inspector struct {
	maxSize     int64
	allowedMIME []string
	chain       *scan.Chain
	logger      *slog.Logger
}

// New creates an Inspector. The scan chain may be nil, in which case the
// virus scan check is reported as unavailable.
func New(log *slog.Logger, maxSize int64, allowedMIME []string, chain *scan.Chain) *Inspector {
	if log == nil {
		log = slog.Default()
	}
	return &Inspector{
		maxSize:     maxSize,
		allowedMIME: allowedMIME,
		chain:       chain,
		logger:      log.With(slog.String("component", "inspect")),
	}
}

// Inspect checks a staged file against the size limit, the MIME allow-list,
// the dangerous-signature table and the malware scan chain. A bad file is
// reported through the Report, never through the error; the error is reserved
// for environment failures such as an unreadable path.
func (i *Inspector) Inspect(ctx context.Context, path, declaredName, declaredMIME string) (*Report, error) {
	report := &Report{
		Errors:   []string{},
		Warnings: []string{},
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat staged file: %w", err)
	}

	report.Checks.FileSize = true
	switch {
	case info.Size() == 0:
		report.Errors = append(report.Errors, "file is empty")
	case info.Size() > i.maxSize:
		report.Errors = append(report.Errors,
			fmt.Sprintf("file size %d exceeds the %d byte limit", info.Size(), i.maxSize))
	}

	report.Checks.MimeType = true
	if declaredMIME == "" {
		report.Errors = append(report.Errors, "missing content type")
	} else if !slices.Contains(i.allowedMIME, declaredMIME) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("content type %q is not allowed", declaredMIME))
	}

	prefix, err := readPrefix(path)
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	report.Checks.FileSignature = true
	if name := matchSignature(prefix); name != "" {
		report.Errors = append(report.Errors,
			fmt.Sprintf("file content matches %s, not a media file", name))
	}

	if i.chain != nil {
		result, backend, err := i.chain.Scan(ctx, path)
		switch {
		case err != nil:
			report.Warnings = append(report.Warnings,
				"malware scan unavailable, file accepted without scan verdict")
		case result.Infected:
			report.Checks.VirusScan = true
			report.Errors = append(report.Errors,
				fmt.Sprintf("malware detected by %s: %s", backend, result.Detail))
		default:
			report.Checks.VirusScan = true
		}
	} else {
		report.Warnings = append(report.Warnings,
			"malware scan unavailable, file accepted without scan verdict")
	}

	report.Valid = len(report.Errors) == 0
	if !report.Valid {
		i.logger.Info("upload rejected",
			slog.String("name", declaredName),
			slog.Any("errors", report.Errors),
		)
	}
	return report, nil
}

func readPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	prefix := make([]byte, signaturePrefixSize)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return prefix[:n], nil
}
