// Package session implements the Session Store (C8): an in-memory
// contact_id → Session map with one-writer-per-session discipline and a
// duress/dead-man wipe that zeroizes every session before dropping the
// table, grounded on kamune's Transport/SessionState bookkeeping style
// (transport.go) adapted from a single connection-bound session to a
// keyed table of them.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ElMoorish/ComLock/pkg/braid"
)

// ErrSessionNotFound is returned when a contact_id has no session.
var ErrSessionNotFound = errors.New("session: not found")

// ErrStoreWiped is returned by any operation attempted after a wipe; the
// store is terminal once wiped and must be recreated.
var ErrStoreWiped = errors.New("session: store has been wiped")

// Phase mirrors kamune's SessionPhase: a small state machine tracking how
// far a contact's session has progressed, independent of the Braid's own
// per-message state.
type Phase int

const (
	PhaseInvalid Phase = iota
	PhaseHandshakeInitiated
	PhaseHandshakeAccepted
	PhaseEstablished
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshakeInitiated:
		return "HandshakeInitiated"
	case PhaseHandshakeAccepted:
		return "HandshakeAccepted"
	case PhaseEstablished:
		return "Established"
	case PhaseClosed:
		return "Closed"
	default:
		return "Invalid"
	}
}

// entry pairs a Braid session with the bookkeeping the store needs but the
// Braid itself doesn't care about.
type entry struct {
	contactID  string
	braid      *braid.Session
	phase      Phase
	lastActive time.Time
}

// Store is the per-device table of all peer sessions. Per spec §4.7/§5, it
// has a single writer (this type's mutex enforces that) and readers get the
// stored *braid.Session pointer itself, looked up under the lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wiped    bool

	deadManTimeout time.Duration
	deadManTimer   *time.Timer
}

// New creates an empty store. deadManTimeout of zero disables the dead-man
// timer; callers needing it call Touch on activity to keep it from firing.
func New(deadManTimeout time.Duration) *Store {
	s := &Store{sessions: make(map[string]*entry), deadManTimeout: deadManTimeout}
	if deadManTimeout > 0 {
		s.deadManTimer = time.AfterFunc(deadManTimeout, s.Wipe)
	}
	return s
}

// Put installs a newly established session for contactID, replacing any
// prior session (the caller is responsible for wiping a displaced one if
// that matters to them — Put itself does not, since a re-handshake
// legitimately supersedes stale state).
func (s *Store) Put(contactID string, br *braid.Session, phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return ErrStoreWiped
	}
	s.sessions[contactID] = &entry{contactID: contactID, braid: br, phase: phase, lastActive: time.Now()}
	s.resetDeadManLocked()
	slog.Debug("session: session installed", "contact_id", contactID, "phase", phase)
	return nil
}

// Get returns the Braid session for contactID. The returned handle is the
// store's only copy — callers must still serialize their own step_send and
// step_recv calls on it per the Braid's own non-reentrancy requirement.
func (s *Store) Get(contactID string) (*braid.Session, Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return nil, PhaseInvalid, ErrStoreWiped
	}
	e, ok := s.sessions[contactID]
	if !ok {
		return nil, PhaseInvalid, ErrSessionNotFound
	}
	e.lastActive = time.Now()
	s.resetDeadManLocked()
	return e.braid, e.phase, nil
}

// SetPhase updates a session's phase.
func (s *Store) SetPhase(contactID string, phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return ErrStoreWiped
	}
	e, ok := s.sessions[contactID]
	if !ok {
		return ErrSessionNotFound
	}
	e.phase = phase
	return nil
}

// Drop removes and zeroizes a single session (e.g. the contact was
// deleted), without touching the rest of the store.
func (s *Store) Drop(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return ErrStoreWiped
	}
	e, ok := s.sessions[contactID]
	if !ok {
		return ErrSessionNotFound
	}
	e.braid.Wipe()
	delete(s.sessions, contactID)
	slog.Debug("session: session dropped", "contact_id", contactID)
	return nil
}

// Touch resets the dead-man timer, signaling "the device is in active,
// authenticated use".
func (s *Store) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	s.resetDeadManLocked()
}

func (s *Store) resetDeadManLocked() {
	if s.deadManTimer != nil {
		s.deadManTimer.Reset(s.deadManTimeout)
	}
}

// Wipe is the duress/dead-man response (spec §4.7, §5's "wipe signal...
// preempts all sessions within a bounded deadline and zeroizes before any
// other work resumes"): every session is zeroized, then the table is
// dropped. Wipe is idempotent and safe to call concurrently with any other
// Store method, including from a timer goroutine.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	for _, e := range s.sessions {
		e.braid.Wipe()
	}
	count := len(s.sessions)
	s.sessions = nil
	s.wiped = true
	if s.deadManTimer != nil {
		s.deadManTimer.Stop()
	}
	slog.Warn("session: store wiped", "session_count", count)
}

// Wiped reports whether the store has been wiped.
func (s *Store) Wiped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiped
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
