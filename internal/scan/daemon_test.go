package scan

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
)

// fakeClamd accepts one INSTREAM session, captures the streamed bytes and
// writes the given verdict.
func fakeClamd(t *testing.T, verdict string, received *[]byte) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		handshake := make([]byte, len("zINSTREAM\x00"))
		if _, err := io.ReadFull(conn, handshake); err != nil {
			return
		}
		for {
			var size uint32
			if err := binary.Read(conn, binary.BigEndian, &size); err != nil {
				return
			}
			if size == 0 {
				break
			}
			chunk := make([]byte, size)
			if _, err := io.ReadFull(conn, chunk); err != nil {
				return
			}
			if received != nil {
				*received = append(*received, chunk...)
			}
		}
		conn.Write([]byte(verdict + "\x00"))
	}()

	addr := ln.Addr().String()
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ = strconv.Atoi(portStr)
	return host, port
}

func TestDaemonScannerCleanVerdict(t *testing.T) {
	var received []byte
	host, port := fakeClamd(t, "stream: OK", &received)

	scanner := NewDaemonScanner(host, port)
	result, err := scanner.Scan(context.Background(), writeScanFile(t, "clean media bytes"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Infected {
		t.Fatalf("expected clean verdict, got %+v", result)
	}
	if string(received) != "clean media bytes" {
		t.Fatalf("streamed bytes = %q", received)
	}
}

func TestDaemonScannerFoundVerdict(t *testing.T) {
	host, port := fakeClamd(t, "stream: Eicar-Test-Signature FOUND", nil)

	scanner := NewDaemonScanner(host, port)
	result, err := scanner.Scan(context.Background(), writeScanFile(t, "infected"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !result.Infected {
		t.Fatalf("expected infected verdict, got %+v", result)
	}
}

func TestDaemonScannerUnreachable(t *testing.T) {
	scanner := NewDaemonScanner("127.0.0.1", 1)
	if _, err := scanner.Scan(context.Background(), writeScanFile(t, "x")); err == nil {
		t.Fatal("expected a dial error for an unreachable daemon")
	}
}
