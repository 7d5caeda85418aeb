// Package presence tracks which users have at least one live connection and
// reports the moments a user's live-connection count crosses zero.
package presence

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Transition describes the effect of an Admit or Remove on a user's presence.
type Transition int

const (
	// None means the user's online state did not change.
	None Transition = iota
	// Online means the user's first live connection was admitted.
	Online
	// Offline means the user's last live connection was removed.
	Offline
)

func (t Transition) String() string {
	switch t {
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return "none"
}

// Event is passed to the transition observer.
type Event struct {
	UserID     string
	Transition Transition
}

// shard owns the entries of every user hashed to it. Admits and removals for
// the same user always land on the same shard and therefore serialize.
type shard struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

// Registry maps user ids to their live connection ids.
type Registry struct {
	shards [shardCount]*shard

	ownersMu sync.Mutex
	owners   map[string]string // connection id -> user id

	onTransition func(Event)
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver registers fn to be called once per boundary crossing. fn runs
// while the user's shard is locked, so events for one user are observed in
// order; it must not call back into the Registry and should not block.
func WithObserver(fn func(Event)) Option {
	return func(r *Registry) {
		r.onTransition = fn
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{owners: make(map[string]string)}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]struct{})}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Admit registers connID under userID. Admitting a connection id that is
// already registered is a no-op. Callers must not Remove a connection id
// before its Admit has returned.
func (r *Registry) Admit(userID, connID string) Transition {
	if userID == "" || connID == "" {
		return None
	}

	r.ownersMu.Lock()
	if _, exists := r.owners[connID]; exists {
		r.ownersMu.Unlock()
		return None
	}
	r.owners[connID] = userID
	r.ownersMu.Unlock()

	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		s.users[userID] = conns
	}
	conns[connID] = struct{}{}

	if len(conns) != 1 {
		return None
	}
	r.notify(userID, Online)
	return Online
}

// Remove unregisters connID. Removing an unknown connection id is a no-op.
// The user entry is deleted together with its last connection.
func (r *Registry) Remove(connID string) (string, Transition) {
	r.ownersMu.Lock()
	userID, ok := r.owners[connID]
	if ok {
		delete(r.owners, connID)
	}
	r.ownersMu.Unlock()
	if !ok {
		return "", None
	}

	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		return userID, None
	}
	if _, member := conns[connID]; !member {
		return userID, None
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return userID, None
	}

	delete(s.users, userID)
	r.notify(userID, Offline)
	return userID, Offline
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[userID]) > 0
}

// OnlineCount returns the number of users currently online.
func (r *Registry) OnlineCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.users)
		s.mu.Unlock()
	}
	return total
}

func (r *Registry) notify(userID string, t Transition) {
	if r.onTransition != nil {
		r.onTransition(Event{UserID: userID, Transition: t})
	}
}
