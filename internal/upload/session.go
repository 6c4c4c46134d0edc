// Package upload reassembles chunked uploads into whole files.
package upload

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of one chunked upload session.
type State int

const (
	// StateOpen accepts chunk writes.
	StateOpen State = iota
	// StateAssembling means one caller won the completion race and is
	// concatenating chunks. No further writes are accepted.
	StateAssembling
	// StateDone and StateFailed are terminal; the session is purged on
	// entering either.
	StateDone
	StateFailed
)

// Metadata is the declared upload metadata carried through the session until
// the final commit.
type Metadata struct {
	Filename    string
	MIMEType    string
	Title       string
	Description string
	Tags        []string
	IsPublic    bool
}

// Session tracks chunk progress for one uploadId. Metadata is refreshed on
// every accepted chunk, so the completing chunk's values are the ones that
// reach the commit.
type Session struct {
	ID          string
	OwnerID     string
	TotalChunks int
	Metadata    Metadata

	mu        sync.Mutex
	state     State
	received  map[int]struct{}
	updatedAt time.Time
}

var (
	// ErrSessionNotFound is returned for operations on an unknown uploadId.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionClosed is returned when a chunk arrives after the session
	// left the open state.
	ErrSessionClosed = errors.New("upload session no longer accepts chunks")
	// ErrChunkIndexOutOfRange is returned for indices outside [0, totalChunks).
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrTotalChunksMismatch is returned when a chunk declares a different
	// total than the session was created with.
	ErrTotalChunksMismatch = errors.New("total chunk count does not match session")
	// ErrNotOwner is returned when a chunk arrives for a session created by
	// a different user.
	ErrNotOwner = errors.New("upload session belongs to a different user")
)

func newSession(id, ownerID string, totalChunks int, meta Metadata, now time.Time) *Session {
	return &Session{
		ID:          id,
		OwnerID:     ownerID,
		TotalChunks: totalChunks,
		Metadata:    meta,
		state:       StateOpen,
		received:    map[int]struct{}{},
		updatedAt:   now,
	}
}

// acceptChunk validates state and index under the session lock, runs write to
// persist the chunk bytes, then records the index. A chunk arriving after the
// session left the open state is rejected before write runs, so a late or
// out-of-range chunk never touches files a completed session will assemble.
// When this chunk completes the set, the session transitions to assembling
// and exactly this caller sees complete=true.
func (s *Session) acceptChunk(index int, meta Metadata, now time.Time, write func() error) (received int, complete bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return len(s.received), false, ErrSessionClosed
	}
	if index < 0 || index >= s.TotalChunks {
		return len(s.received), false,
			fmt.Errorf("%w: index %d, total %d", ErrChunkIndexOutOfRange, index, s.TotalChunks)
	}
	if err := write(); err != nil {
		return len(s.received), false, err
	}

	s.received[index] = struct{}{}
	s.Metadata = meta
	s.updatedAt = now

	if len(s.received) == s.TotalChunks {
		s.state = StateAssembling
		return len(s.received), true, nil
	}
	return len(s.received), false, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
