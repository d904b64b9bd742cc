// Package auth supplies the current identity used to scope queue entries
// and remote requests.
//
// The sync engine suspends dispatch while no identity is available; the
// queue keeps accepting writes regardless, and the backlog flushes once
// sign-in completes.
package auth

import "sync"

// Identity is the signed-in user as seen by the sync engine.
type Identity struct {
	// UserID scopes local records and remote requests.
	UserID string

	// Token is the bearer credential attached to backend calls.
	Token string
}

// Source exposes the current identity and change notifications.
type Source interface {
	// Current returns the identity and whether one is available.
	Current() (Identity, bool)

	// OnChange registers a subscriber invoked when authentication state
	// flips (signed in or out). Returns an unsubscribe handle.
	OnChange(cb func(authenticated bool)) (unsubscribe func())
}

// Session is a mutable identity source fed by the application's sign-in
// flow.
type Session struct {
	mu       sync.Mutex
	identity Identity
	ok       bool
	nextID   int
	subs     map[int]func(bool)
}

var _ Source = (*Session)(nil)

// NewSession creates an unauthenticated session.
func NewSession() *Session {
	return &Session{subs: make(map[int]func(bool))}
}

// Static returns a session pre-authenticated with the given identity,
// for headless deployments where the token comes from configuration.
func Static(id Identity) *Session {
	s := NewSession()
	s.SetIdentity(id)
	return s
}

// Current implements Source.
func (s *Session) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.ok
}

// OnChange implements Source.
func (s *Session) OnChange(cb func(authenticated bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetIdentity records a completed sign-in.
func (s *Session) SetIdentity(id Identity) {
	s.transition(id, true)
}

// Clear records a sign-out.
func (s *Session) Clear() {
	s.transition(Identity{}, false)
}

func (s *Session) transition(id Identity, ok bool) {
	s.mu.Lock()
	changed := s.ok != ok
	s.identity = id
	s.ok = ok
	var cbs []func(bool)
	if changed {
		cbs = make([]func(bool), 0, len(s.subs))
		for _, cb := range s.subs {
			cbs = append(cbs, cb)
		}
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(ok)
	}
}
