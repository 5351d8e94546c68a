package settings

import (
	"errors"
	"sync"
)

// Errors returned by the settings store.
var (
	ErrLocked          = errors.New("settings session is locked")
	ErrNotEnrolled     = errors.New("no admin passphrase has been enrolled")
	ErrAlreadyEnrolled = errors.New("an admin passphrase is already enrolled")
	ErrWrongPassphrase = errors.New("wrong passphrase")
	ErrBackoff         = errors.New("too many failed unlock attempts")
	ErrRateLimited     = errors.New("unlock attempts are too frequent")
)

// State is the lock state of a Session.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Session carries the decrypted data key between the store and its callers.
// It starts Locked.
type Session struct {
	mu  sync.Mutex
	key []byte
}

// NewSession returns a locked session.
func NewSession() *Session {
	return &Session{}
}

// Unlock moves the session to Unlocked with a private copy of key.
func (s *Session) Unlock(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zero()
	s.key = append([]byte(nil), key...)
}

// Lock wipes the key and returns to Locked.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zero()
}

func (s *Session) zero() {
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

// State reports whether the session holds a key.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return Locked
	}
	return Unlocked
}

// Key returns a copy of the data key, or ErrLocked.
func (s *Session) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrLocked
	}
	return append([]byte(nil), s.key...), nil
}
