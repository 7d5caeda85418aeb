package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/duochat/internal/domain"
)

// Memory is a process-local Store.
type Memory struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[string]domain.User
	conversations map[string]*domain.Conversation
	pairs         map[[2]string]string
	messages      map[string][]*domain.Message // conversation id -> messages in insertion order
	subscriptions map[string][]domain.PushSubscription
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		users:         make(map[string]domain.User),
		conversations: make(map[string]*domain.Conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string][]*domain.Message),
		subscriptions: make(map[string][]domain.PushSubscription),
	}
}

// PutUser inserts or replaces a user profile.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = u
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) ListContacts(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var contacts []string
	for _, c := range m.conversations {
		if other, ok := c.OtherParticipant(userID); ok {
			contacts = append(contacts, other)
		}
	}
	sort.Strings(contacts)
	return contacts, nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *Memory) FindConversation(_ context.Context, a, b string) (*domain.Conversation, error) {
	pair, err := domain.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[pair]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(m.conversations[id]), nil
}

func (m *Memory) CreateConversation(_ context.Context, a, b string) (*domain.Conversation, error) {
	conv, err := domain.NewConversation(uuid.NewString(), a, b, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.pairs[conv.ParticipantIDs]; ok {
		return cloneConversation(m.conversations[id]), nil
	}
	m.conversations[conv.ID] = conv
	m.pairs[conv.ParticipantIDs] = conv.ID
	return cloneConversation(conv), nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	stored := *msg
	stored.Attachments = append([]string(nil), msg.Attachments...)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)

	snapshot := msg.Snapshot()
	conv.LastMessage = &snapshot
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Message, 0, len(all))
	for _, msg := range all {
		out = append(out, *msg)
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, conversationID, readerID string, messageIDs []string) (int, error) {
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for _, msg := range m.messages[conversationID] {
		if _, ok := wanted[msg.ID]; !ok {
			continue
		}
		if msg.RecipientID == readerID && !msg.IsRead {
			msg.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (m *Memory) MarkAllRead(_ context.Context, conversationID, readerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for _, msg := range m.messages[conversationID] {
		if msg.RecipientID == readerID && !msg.IsRead {
			msg.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (m *Memory) ListSubscriptions(_ context.Context, userID string) ([]domain.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.PushSubscription(nil), m.subscriptions[userID]...), nil
}

func (m *Memory) UpsertSubscription(_ context.Context, userID string, sub domain.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for owner := range m.subscriptions {
		m.removeLocked(owner, sub.Endpoint)
	}
	m.subscriptions[userID] = append(m.subscriptions[userID], sub)
	return nil
}

func (m *Memory) RemoveSubscription(_ context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if endpoint == "" {
		delete(m.subscriptions, userID)
		return nil
	}
	m.removeLocked(userID, endpoint)
	return nil
}

func (m *Memory) PruneSubscriptions(_ context.Context, userID string, endpoints []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, endpoint := range endpoints {
		m.removeLocked(userID, endpoint)
	}
	return nil
}

func (m *Memory) removeLocked(userID, endpoint string) {
	subs := m.subscriptions[userID]
	kept := subs[:0]
	for _, s := range subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(m.subscriptions, userID)
		return
	}
	m.subscriptions[userID] = kept
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return &out
}
