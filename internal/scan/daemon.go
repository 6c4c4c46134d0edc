package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

const daemonChunkSize = 32 << 10

// DaemonScanner streams a file to a local ClamAV daemon using the INSTREAM
// command and parses the textual verdict.
type DaemonScanner struct {
	addr   string
	dialer net.Dialer
}

// NewDaemonScanner creates a scanner for a clamd instance at host:port.
// Returns nil when no host is configured.
func NewDaemonScanner(host string, port int) *DaemonScanner {
	if host == "" || port <= 0 {
		return nil
	}
	return &DaemonScanner{addr: fmt.Sprintf("%s:%d", host, port)}
}

func (s *DaemonScanner) Name() string { return "clamav" }

func (s *DaemonScanner) Scan(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return Result{}, fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return Result{}, fmt.Errorf("clamd handshake: %w", err)
	}

	// INSTREAM frames: 4-byte big-endian length prefix per chunk, then a
	// zero-length frame to terminate.
	buf := make([]byte, daemonChunkSize)
	sizePrefix := make([]byte, 4)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(sizePrefix, uint32(n))
			if _, err := conn.Write(sizePrefix); err != nil {
				return Result{}, fmt.Errorf("clamd stream: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return Result{}, fmt.Errorf("clamd stream: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("read file: %w", readErr)
		}
	}
	binary.BigEndian.PutUint32(sizePrefix, 0)
	if _, err := conn.Write(sizePrefix); err != nil {
		return Result{}, fmt.Errorf("clamd stream end: %w", err)
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return Result{}, fmt.Errorf("clamd reply: %w", err)
	}
	verdict := strings.TrimSpace(string(bytes.TrimRight(reply, "\x00")))

	switch {
	case strings.HasSuffix(verdict, "OK"):
		return Result{Detail: "clamav scan clean"}, nil
	case strings.HasSuffix(verdict, "FOUND"):
		return Result{Infected: true, Detail: verdict}, nil
	default:
		return Result{}, fmt.Errorf("unexpected clamd verdict: %q", verdict)
	}
}
