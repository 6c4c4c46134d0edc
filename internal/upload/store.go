package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Progress is returned for every accepted chunk so clients can track the
// session without a separate polling endpoint.
type Progress struct {
	Received int
	Total    int
	Complete bool
}

// Store holds in-flight chunked upload sessions and their staged bytes on
// disk. Chunks for one session live under <dir>/<uploadId>/chunk_<index>.
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a session store rooted at dir.
func NewStore(log *slog.Logger, dir string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{
		dir:      dir,
		logger:   log.With(slog.String("component", "upload")),
		sessions: map[string]*Session{},
	}, nil
}

// PutChunk persists one chunk and updates session progress. The session is
// created on the first chunk for a new uploadId; re-uploading an index
// overwrites the previous bytes. Exactly one caller observes Complete=true.
func (s *Store) PutChunk(uploadID, ownerID string, index, totalChunks int, meta Metadata, chunk io.Reader) (Progress, error) {
	if totalChunks <= 0 {
		return Progress{}, fmt.Errorf("%w: total %d", ErrChunkIndexOutOfRange, totalChunks)
	}

	sess, err := s.openSession(uploadID, ownerID, totalChunks, meta)
	if err != nil {
		return Progress{}, err
	}

	// The write runs under the session lock, after the state and index
	// checks, so a rejected chunk never mutates bytes on disk.
	received, complete, err := sess.acceptChunk(index, meta, time.Now(), func() error {
		return s.writeChunk(uploadID, index, chunk)
	})
	if err != nil {
		return Progress{}, err
	}
	return Progress{Received: received, Total: sess.TotalChunks, Complete: complete}, nil
}

// Session returns the session for an uploadId.
func (s *Store) Session(uploadID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Assemble concatenates all chunks of a completed session in strict index
// order into a single file and returns its path. It must only be called by
// the PutChunk caller that observed Complete=true. A missing chunk at this
// point is a contract violation and fails the whole assembly.
func (s *Store) Assemble(uploadID string) (string, error) {
	sess, err := s.Session(uploadID)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(s.dir, uploadID, "assembled")
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create assembly target: %w", err)
	}
	defer out.Close()

	for i := 0; i < sess.TotalChunks; i++ {
		if err := s.appendChunk(out, uploadID, i); err != nil {
			return "", err
		}
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("sync assembled file: %w", err)
	}

	s.logger.Info("chunks assembled",
		slog.String("upload_id", uploadID),
		slog.Int("chunks", sess.TotalChunks),
	)
	return outPath, nil
}

// Finish marks a session done and purges its staging directory.
func (s *Store) Finish(uploadID string) {
	s.close(uploadID, StateDone)
}

// Fail marks a session failed and purges its staging directory, including
// any partial assembly output.
func (s *Store) Fail(uploadID string) {
	s.close(uploadID, StateFailed)
}

// Sweep removes sessions with no activity for at least maxAge, purging their
// staged chunks, and reclaims orphaned staged-* files older than maxAge left
// behind by interrupted whole-file uploads. Returns the number of sessions
// removed.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.lastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
			s.logger.Warn("failed to purge abandoned session",
				slog.String("upload_id", id),
				slog.Any("error", err),
			)
		}
	}
	if len(stale) > 0 {
		s.logger.Info("swept abandoned upload sessions", slog.Int("count", len(stale)))
	}
	s.sweepStagedFiles(cutoff)
	return len(stale)
}

func (s *Store) sweepStagedFiles(cutoff time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "staged-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove orphaned staged file",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Store) openSession(uploadID, ownerID string, totalChunks int, meta Metadata) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[uploadID]
	if !ok {
		if err := os.MkdirAll(filepath.Join(s.dir, uploadID), 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
		sess = newSession(uploadID, ownerID, totalChunks, meta, time.Now())
		s.sessions[uploadID] = sess
		return sess, nil
	}
	if sess.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	if sess.TotalChunks != totalChunks {
		return nil, fmt.Errorf("%w: session has %d, chunk declares %d",
			ErrTotalChunksMismatch, sess.TotalChunks, totalChunks)
	}
	return sess, nil
}

func (s *Store) writeChunk(uploadID string, index int, chunk io.Reader) error {
	path := filepath.Join(s.dir, uploadID, fmt.Sprintf("chunk_%d", index))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	if _, err := io.Copy(f, chunk); err != nil {
		f.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	return f.Close()
}

func (s *Store) appendChunk(out io.Writer, uploadID string, index int) error {
	path := filepath.Join(s.dir, uploadID, fmt.Sprintf("chunk_%d", index))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("chunk %d missing during assembly: %w", index, err)
	}
	defer f.Close()
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("copy chunk %d: %w", index, err)
	}
	return nil
}

func (s *Store) close(uploadID string, state State) {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	if ok {
		delete(s.sessions, uploadID)
	}
	s.mu.Unlock()
	if ok {
		sess.setState(state)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, uploadID)); err != nil {
		s.logger.Warn("failed to purge session staging",
			slog.String("upload_id", uploadID),
			slog.Any("error", err),
		)
	}
}
