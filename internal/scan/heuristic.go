package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

const heuristicPrefixSize = 1024

// heuristicPatterns are byte sequences that have no business appearing at the
// start of a media file. Matching any of them is a verdict, not a guess; the
// caller decides whether that blocks the upload.
var heuristicPatterns = [][]byte{
	[]byte("eval("),
	[]byte("base64"),
	[]byte("cmd.exe"),
	[]byte("powershell"),
	[]byte("DROP TABLE"),
	[]byte("xp_cmdshell"),
}

// HeuristicScanner is the last-resort backend: a case-insensitive keyword
// scan of the file's first kilobyte. It needs no network or credentials and
// therefore always completes.
type HeuristicScanner struct{}

// NewHeuristicScanner creates the fallback scanner.
func NewHeuristicScanner() *HeuristicScanner {
	return &HeuristicScanner{}
}

func (s *HeuristicScanner) Name() string { return "heuristic" }

func (s *HeuristicScanner) Scan(_ context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	prefix := make([]byte, heuristicPrefixSize)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	lowered := bytes.ToLower(prefix[:n])

	for _, pattern := range heuristicPatterns {
		if bytes.Contains(lowered, bytes.ToLower(pattern)) {
			return Result{
				Infected: true,
				Detail:   fmt.Sprintf("suspicious pattern %q detected", pattern),
			}, nil
		}
	}
	return Result{Detail: "heuristic scan clean"}, nil
}
