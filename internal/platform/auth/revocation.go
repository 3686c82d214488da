package auth

import (
	"sync"
	"time"
)

// SessionRevocations records, per user, the instant before which every
// issued token is void. Disabling an account or changing its role or
// password revokes the sessions it already holds.
type SessionRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	ttl     time.Duration
	done    chan struct{}
}

// NewSessionRevocations keeps entries for ttl, the lifetime of a token, and
// starts a goroutine that drops older entries. Call Close to stop it.
func NewSessionRevocations(ttl time.Duration) *SessionRevocations {
	s := &SessionRevocations{
		revoked: make(map[string]time.Time),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// RevokeUser voids every token issued to userID up to now.
func (s *SessionRevocations) RevokeUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// JWT timestamps have second precision.
	s.revoked[userID] = time.Now().Truncate(time.Second)
}

// IsRevoked reports whether a token for userID issued at issuedAt is void.
func (s *SessionRevocations) IsRevoked(userID string, issuedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.revoked[userID]
	return ok && !issuedAt.After(at)
}

func (s *SessionRevocations) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

func (s *SessionRevocations) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *SessionRevocations) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

// cleanup drops entries older than a token lifetime; every token they could
// void has expired.
func (s *SessionRevocations) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, at := range s.revoked {
		if now.Sub(at) > s.ttl {
			delete(s.revoked, user)
		}
	}
}
