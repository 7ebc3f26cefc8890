// Package session tracks the authentication state of the current user.
package session

import (
	"sync"
)

// Kind tells which of the three session states a State holds
type Kind int

const (
	// Unknown is the state before the stored credentials were checked
	Unknown Kind = iota
	// LoggedIn means a user id is known
	LoggedIn
	// LoggedOut means there is no authenticated user
	LoggedOut
)

func (k Kind) String() string {
	switch k {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// State is the current authentication state. The zero value is Unknown.
type State struct {
	kind   Kind
	userID string
}

// NewLoggedIn returns the state of an authenticated user
func NewLoggedIn(userID string) State {
	return State{kind: LoggedIn, userID: userID}
}

// NewLoggedOut returns the state of a device with no user
func NewLoggedOut() State {
	return State{kind: LoggedOut}
}

func (s State) Kind() Kind { return s.kind }

// UserID returns the user id and true only for the LoggedIn state
func (s State) UserID() (string, bool) {
	if s.kind != LoggedIn {
		return "", false
	}
	return s.userID, true
}

func (s State) String() string {
	if s.kind == LoggedIn {
		return s.kind.String() + "(" + s.userID + ")"
	}
	return s.kind.String()
}

// Provider holds the current State and notifies subscribers about transitions.
// Subscribers are called synchronously, in subscription order, outside of the state lock.
// Deliveries never overlap, so every subscriber sees transitions in the order they were stored.
// A subscriber must not call Set, Login or Logout.
type Provider struct {
	// notifyMu serializes a state change together with its delivery
	notifyMu sync.Mutex

	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(State)
	order  []int
}

// NewProvider returns a Provider in the Unknown state
func NewProvider() *Provider {
	return &Provider{subs: make(map[int]func(State))}
}

// Current returns the current State
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Set stores s and notifies subscribers if it differs from the current State
func (p *Provider) Set(s State) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if s.kind == LoggedIn && s.userID == "" {
		s = NewLoggedOut()
	}
	if s == p.state {
		p.mu.Unlock()
		return
	}
	p.state = s
	subs := p.snapshot()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Login switches to the LoggedIn state for userID. An empty userID logs out.
func (p *Provider) Login(userID string) {
	p.Set(NewLoggedIn(userID))
}

// Logout switches to the LoggedOut state
func (p *Provider) Logout() {
	p.Set(NewLoggedOut())
}

// Subscribe registers fn, immediately delivers the current State to it and returns a function removing it
func (p *Provider) Subscribe(fn func(State)) (unsubscribe func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.order = append(p.order, id)
	current := p.state
	p.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			for i, v := range p.order {
				if v == id {
					p.order = append(p.order[:i], p.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (p *Provider) snapshot() []func(State) {
	out := make([]func(State), 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.subs[id])
	}
	return out
}
