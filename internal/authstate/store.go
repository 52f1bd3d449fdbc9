// Package authstate merges the server snapshot, the live provider stream and
// the backend role into a single observable auth state.
package authstate

import (
	"sync"

	domainauth "github.com/target/studyhub/internal/domain/auth"
)

// Writer is the mutation surface of the auth state container.
type Writer interface {
	// SetIdentitySession replaces identity and session. A nil session or a
	// different identity id resets the role to student.
	SetIdentitySession(sess *domainauth.Session)
	SetRole(role domainauth.Role)
	// SetReady flips Ready to true. It never reverts.
	SetReady()
	// Reset moves to the signed-out, ready state.
	Reset()
}

// Reader is the read-only surface consumed by views.
type Reader interface {
	State() domainauth.State
	Subscribe(fn func(domainauth.State)) (unsubscribe func())
}

// Store is the in-memory auth state container. Safe for concurrent use.
// Subscribers run synchronously after the write, outside the lock, and only
// when the state changed.
type Store struct {
	mu     sync.Mutex
	state  domainauth.State
	subs   map[int]func(domainauth.State)
	nextID int
}

var (
	_ Writer = (*Store)(nil)
	_ Reader = (*Store)(nil)
)

// NewStore returns a store in the initial, not-ready state.
func NewStore() *Store {
	return &Store{
		state: domainauth.InitialState(),
		subs:  make(map[int]func(domainauth.State)),
	}
}

// State returns a copy of the current state.
func (s *Store) State() domainauth.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Subscribe registers fn for state changes.
func (s *Store) Subscribe(fn func(domainauth.State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SetIdentitySession implements Writer.
func (s *Store) SetIdentitySession(sess *domainauth.Session) {
	s.update(func(st *domainauth.State) {
		if sess == nil {
			st.Identity = nil
			st.Session = nil
			st.Role = domainauth.RoleStudent
			return
		}
		cp := *sess
		id := cp.Identity
		if st.Identity == nil || st.Identity.ID != id.ID {
			st.Role = domainauth.RoleStudent
		}
		st.Session = &cp
		st.Identity = &id
	})
}

// SetRole implements Writer. Without an identity the role stays student.
func (s *Store) SetRole(role domainauth.Role) {
	s.update(func(st *domainauth.State) {
		if st.Identity == nil {
			st.Role = domainauth.RoleStudent
			return
		}
		st.Role = role
	})
}

// SetReady implements Writer.
func (s *Store) SetReady() {
	s.update(func(st *domainauth.State) { st.Ready = true })
}

// Reset implements Writer.
func (s *Store) Reset() {
	s.update(func(st *domainauth.State) {
		*st = domainauth.State{Role: domainauth.RoleStudent, Ready: true}
	})
}

func (s *Store) update(mutate func(*domainauth.State)) {
	s.mu.Lock()
	before := s.state
	next := cloneState(before)
	mutate(&next)
	if statesEqual(before, next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	subs := make([]func(domainauth.State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cloneState(next))
	}
}

func cloneState(st domainauth.State) domainauth.State {
	out := st
	if st.Identity != nil {
		id := *st.Identity
		out.Identity = &id
	}
	if st.Session != nil {
		sess := *st.Session
		out.Session = &sess
	}
	return out
}

func statesEqual(a, b domainauth.State) bool {
	if a.Role != b.Role || a.Ready != b.Ready {
		return false
	}
	if (a.Identity == nil) != (b.Identity == nil) {
		return false
	}
	if a.Identity != nil && (a.Identity.ID != b.Identity.ID || a.Identity.Email != b.Identity.Email) {
		return false
	}
	return sessionsEqual(a.Session, b.Session)
}

func sessionsEqual(a, b *domainauth.Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
