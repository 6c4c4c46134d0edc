package inspect

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipvault/clipvault/internal/scan"
)

const testMaxSize = 1 << 20

var testAllowedMIME = []string{"video/mp4", "video/webm", "image/png"}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged.bin")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func newTestInspector(chain *scan.Chain) *Inspector {
	return New(slog.New(slog.NewTextHandler(os.Stderr, nil)), testMaxSize, testAllowedMIME, chain)
}

func mp4Prefix(size int) []byte {
	content := make([]byte, size)
	copy(content, []byte{0x00, 0x00, 0x00, 0x20, 0x66, 0x74, 0x79, 0x70})
	return content
}

func TestInspectCleanFile(t *testing.T) {
	path := writeTemp(t, mp4Prefix(2048))
	report, err := newTestInspector(nil).Inspect(context.Background(), path, "clip.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid report, got errors: %v", report.Errors)
	}
	if !report.Checks.FileSize || !report.Checks.MimeType || !report.Checks.FileSignature {
		t.Fatalf("expected size, mime and signature checks performed: %+v", report.Checks)
	}
}

func TestInspectSizeBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		size  int
		valid bool
	}{
		{name: "empty", size: 0, valid: false},
		{name: "exactly at limit", size: testMaxSize, valid: true},
		{name: "one byte over", size: testMaxSize + 1, valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTemp(t, mp4Prefix(tc.size))
			report, err := newTestInspector(nil).Inspect(context.Background(), path, "clip.mp4", "video/mp4")
			if err != nil {
				t.Fatalf("Inspect returned error: %v", err)
			}
			if report.Valid != tc.valid {
				t.Fatalf("size %d: valid = %v, want %v (errors: %v)", tc.size, report.Valid, tc.valid, report.Errors)
			}
		})
	}
}

func TestInspectRejectsUnknownMIME(t *testing.T) {
	path := writeTemp(t, mp4Prefix(64))
	for _, mime := range []string{"", "application/pdf"} {
		report, err := newTestInspector(nil).Inspect(context.Background(), path, "clip.mp4", mime)
		if err != nil {
			t.Fatalf("Inspect returned error: %v", err)
		}
		if report.Valid {
			t.Fatalf("expected rejection for content type %q", mime)
		}
	}
}

func TestInspectRejectsExecutableDisguisedAsVideo(t *testing.T) {
	content := append([]byte{0x4d, 0x5a}, bytes.Repeat([]byte{0x90}, 600)...)
	path := writeTemp(t, content)
	report, err := newTestInspector(nil).Inspect(context.Background(), path, "movie.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if report.Valid {
		t.Fatal("expected rejection for MZ header under a video content type")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "Windows executable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected signature error naming the format, got: %v", report.Errors)
	}
}

func TestInspectRejectsEmbeddedScript(t *testing.T) {
	path := writeTemp(t, []byte("<?php system($_GET['cmd']); ?>"))
	report, err := newTestInspector(nil).Inspect(context.Background(), path, "clip.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if report.Valid {
		t.Fatal("expected rejection for embedded script content")
	}
}

func TestInspectCollectsAllFailures(t *testing.T) {
	// Empty MIME plus an ELF header: both errors must be reported together.
	content := append([]byte{0x7f, 0x45, 0x4c, 0x46}, make([]byte, 100)...)
	path := writeTemp(t, content)
	report, err := newTestInspector(nil).Inspect(context.Background(), path, "clip.mp4", "")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if len(report.Errors) < 2 {
		t.Fatalf("expected at least two independent errors, got: %v", report.Errors)
	}
}

type stubScanner struct {
	name   string
	result scan.Result
	err    error
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(context.Context, string) (scan.Result, error) {
	return s.result, s.err
}

func TestInspectScanUnavailableIsWarning(t *testing.T) {
	chain := scan.NewChain(slog.Default(),
		&stubScanner{name: "down", err: context.DeadlineExceeded},
	)
	path := writeTemp(t, mp4Prefix(256))
	report, err := newTestInspector(chain).Inspect(context.Background(), path, "clip.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if !report.Valid {
		t.Fatalf("scan unavailability must not block the upload, errors: %v", report.Errors)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected a warning noting the scan was unavailable")
	}
	if report.Checks.VirusScan {
		t.Fatal("virus scan must not be reported as performed when no backend completed")
	}
}

func TestInspectMalwareVerdictOverridesCleanChecks(t *testing.T) {
	chain := scan.NewChain(slog.Default(),
		&stubScanner{name: "stub", result: scan.Result{Infected: true, Detail: "Eicar-Test-Signature"}},
	)
	path := writeTemp(t, mp4Prefix(256))
	report, err := newTestInspector(chain).Inspect(context.Background(), path, "clip.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if report.Valid {
		t.Fatal("a positive malware verdict must reject the file even when other checks pass")
	}
	if !report.Checks.VirusScan {
		t.Fatal("virus scan should be reported as performed")
	}
}
