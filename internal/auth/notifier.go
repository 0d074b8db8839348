package auth

import (
	"sync"

	userdomain "tanklink/backend/internal/user/domain"
)

// SessionListener is called with the new principal on sign-in and with nil on
// sign-out.
type SessionListener func(principal *userdomain.User)

// Notifier fans session-change events out to subscribers. Publishing is
// synchronous: every listener runs to completion before the auth operation
// that triggered the change returns, so downstream caches can never be
// observed holding the previous principal's data.
type Notifier struct {
	mu        sync.Mutex
	listeners []SessionListener
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn for all future session changes.
func (n *Notifier) Subscribe(fn SessionListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *Notifier) publish(principal *userdomain.User) {
	n.mu.Lock()
	listeners := make([]SessionListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(principal)
	}
}
