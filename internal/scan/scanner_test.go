package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeScanner struct {
	name   string
	result Result
	err    error
	calls  int
}

func (s *fakeScanner) Name() string { return s.name }

func (s *fakeScanner) Scan(context.Context, string) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestChainFirstCompletedResultWins(t *testing.T) {
	first := &fakeScanner{name: "first", result: Result{Detail: "clean"}}
	second := &fakeScanner{name: "second", result: Result{Infected: true}}
	chain := NewChain(nil, first, second)

	result, backend, err := chain.Scan(context.Background(), "any")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if backend != "first" || result.Infected {
		t.Fatalf("expected the first backend's clean result, got %q %+v", backend, result)
	}
	if second.calls != 0 {
		t.Fatal("later backends must not run once one completed")
	}
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	down := &fakeScanner{name: "down", err: errors.New("unreachable")}
	fallback := &fakeScanner{name: "fallback", result: Result{Infected: true, Detail: "found"}}
	chain := NewChain(nil, down, fallback)

	result, backend, err := chain.Scan(context.Background(), "any")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if backend != "fallback" || !result.Infected {
		t.Fatalf("expected the fallback verdict, got %q %+v", backend, result)
	}
}

func TestChainAllUnavailable(t *testing.T) {
	chain := NewChain(nil,
		&fakeScanner{name: "a", err: errors.New("down")},
		&fakeScanner{name: "b", err: errors.New("down")},
	)
	_, _, err := chain.Scan(context.Background(), "any")
	if !errors.Is(err, ErrAllUnavailable) {
		t.Fatalf("expected ErrAllUnavailable, got %v", err)
	}
}

func TestChainDropsNilScanners(t *testing.T) {
	only := &fakeScanner{name: "only", result: Result{}}
	chain := NewChain(nil, nil, only)
	_, backend, err := chain.Scan(context.Background(), "any")
	if err != nil || backend != "only" {
		t.Fatalf("expected the non-nil backend to run, got %q %v", backend, err)
	}
}

func TestHeuristicScanner(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		infected bool
	}{
		{name: "clean media prefix", content: "\x00\x00\x00\x20ftypmp42 plain data", infected: false},
		{name: "powershell keyword", content: "some header POWERSHELL -enc payload", infected: true},
		{name: "sql injection marker", content: "x; DROP TABLE users; --", infected: true},
		{name: "eval call", content: "eval(atob(data))", infected: true},
		{name: "empty file", content: "", infected: false},
	}

	scanner := NewHeuristicScanner()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "f")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write file: %v", err)
			}
			result, err := scanner.Scan(context.Background(), path)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if result.Infected != tc.infected {
				t.Fatalf("Infected = %v, want %v (%s)", result.Infected, tc.infected, result.Detail)
			}
		})
	}
}

func TestHeuristicScannerIgnoresPatternsBeyondPrefix(t *testing.T) {
	content := make([]byte, heuristicPrefixSize)
	content = append(content, []byte("cmd.exe")...)
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result, err := NewHeuristicScanner().Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Infected {
		t.Fatal("patterns past the inspected prefix must not match")
	}
}

func TestNewScannersUnconfigured(t *testing.T) {
	if NewReputationScanner("", "", nil) != nil {
		t.Error("reputation scanner without an API key should be nil")
	}
	if NewUploadScanner("", "", nil) != nil {
		t.Error("upload scanner without an API key should be nil")
	}
	if NewDaemonScanner("", 0) != nil {
		t.Error("daemon scanner without a host should be nil")
	}
}
