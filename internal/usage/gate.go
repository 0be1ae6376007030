// Package usage enforces the free-tier limit on recommendations.
package usage

import (
	"fmt"
	"net/url"
	"sync"
)

// Limit is the number of free recommendations before the gate closes.
const Limit = 3

// ShareText is posted by the share action that resets the counter.
const ShareText = "Just found my perfect yoga flow with ZenFlow AI! It analyzes your calendar to recommend a personalized practice. 🧘‍♀️✨ #ZenFlowAI #Yoga"

// State is the usage counter and subscription flag.
type State struct {
	Count      int  `json:"usageCount"`
	Subscribed bool `json:"isSubscribed"`
}

// Remaining returns the free runs left, or -1 when subscribed.
func (s State) Remaining() int {
	if s.Subscribed {
		return -1
	}
	if s.Count >= Limit {
		return 0
	}
	return Limit - s.Count
}

// CanProceed reports whether another run is allowed.
func CanProceed(s State) bool {
	return s.Subscribed || s.Count < Limit
}

// ShareURL returns the intent URL for posting ShareText.
func ShareURL() string {
	return "https://twitter.com/intent/tweet?text=" + url.PathEscape(ShareText)
}

// Store persists usage state.
type Store interface {
	UsageCount() (int, error)
	SetUsageCount(n int) error
	Subscribed() (bool, error)
	SetSubscribed(v bool) error
}

// Gate holds the in-memory usage state and writes every change through to
// the store before returning.
type Gate struct {
	mu    sync.Mutex
	store Store
	state State
}

// NewGate loads the current state from store.
func NewGate(store Store) (*Gate, error) {
	count, err := store.UsageCount()
	if err != nil {
		return nil, fmt.Errorf("loading usage: %w", err)
	}
	sub, err := store.Subscribed()
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	return &Gate{store: store, state: State{Count: count, Subscribed: sub}}, nil
}

// State returns a copy of the current usage state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanProceed reports whether another recommendation may run now.
func (g *Gate) CanProceed() bool {
	return CanProceed(g.State())
}

// RecordUsage increments the counter by one. Calling it twice counts twice.
func (g *Gate) RecordUsage() (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.state
	next.Count++
	if err := g.store.SetUsageCount(next.Count); err != nil {
		return g.state, fmt.Errorf("recording usage: %w", err)
	}
	g.state = next
	return next, nil
}

// ResetUsage sets the counter back to zero. It backs the share action.
func (g *Gate) ResetUsage() (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.state
	next.Count = 0
	if err := g.store.SetUsageCount(0); err != nil {
		return g.state, fmt.Errorf("resetting usage: %w", err)
	}
	g.state = next
	return next, nil
}

// GrantSubscription permanently lifts the limit.
func (g *Gate) GrantSubscription() (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.state
	next.Subscribed = true
	if err := g.store.SetSubscribed(true); err != nil {
		return g.state, fmt.Errorf("granting subscription: %w", err)
	}
	g.state = next
	return next, nil
}
