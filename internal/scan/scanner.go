// Package scan provides pluggable malware scan backends and a fallback chain.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Result is a completed scan verdict from one backend.
type Result struct {
	Infected bool
	Detail   string
}

// Scanner is a single scan backend. Scan returns an error only when the
// backend could not complete (unreachable, misconfigured); an infected file
// is a successful scan with Infected=true.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, path string) (Result, error)
}

// ErrAllUnavailable is returned by Chain.Scan when every backend failed to
// complete.
var ErrAllUnavailable = errors.New("all scan backends unavailable")

// Chain tries backends in order and returns the first completed result,
// clean or not. Backend failures are logged and skipped.
type Chain struct {
	scanners []Scanner
	logger   *slog.Logger

	// Timeout bounds each backend attempt when set. A backend that times
	// out is treated as unavailable and the chain moves on.
	Timeout time.Duration
}

// NewChain creates a chain over the given backends. Nil entries are dropped.
func NewChain(log *slog.Logger, scanners ...Scanner) *Chain {
	if log == nil {
		log = slog.Default()
	}
	kept := make([]Scanner, 0, len(scanners))
	for _, s := range scanners {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{
		scanners: kept,
		logger:   log.With(slog.String("component", "scan")),
	}
}

// Scan runs the chain. The first backend that completes determines the
// result; when none completes the error is ErrAllUnavailable, which callers
// treat as "scan unavailable" rather than a rejection.
func (c *Chain) Scan(ctx context.Context, path string) (Result, string, error) {
	for _, s := range c.scanners {
		attemptCtx := ctx
		cancel := func() {}
		if c.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		result, err := s.Scan(attemptCtx, path)
		cancel()
		if err != nil {
			c.logger.Warn("scan backend failed",
				slog.String("backend", s.Name()),
				slog.Any("error", err),
			)
			continue
		}
		return result, s.Name(), nil
	}
	return Result{}, "", ErrAllUnavailable
}
