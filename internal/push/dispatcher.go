package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/store"
)

// FallbackName is shown when a user has no display name.
const FallbackName = "Someone"

var (
	// ErrPushDisabled is returned when no provider is configured.
	ErrPushDisabled = errors.New("push: push notifications are not available")
	// ErrNotificationsDisabled is returned when the user turned notifications off.
	ErrNotificationsDisabled = errors.New("push: notifications are disabled for this user")
	// ErrInvalidSubscription is returned for a subscription without endpoint or keys.
	ErrInvalidSubscription = errors.New("push: subscription needs endpoint, p256dh and auth")
)

// Result counts the outcome of one notification batch.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Pruned int `json:"pruned"`
}

// Stats are the dispatcher's lifetime counters.
type Stats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
	Pruned int64 `json:"pruned"`
}

// Options tunes a Dispatcher.
type Options struct {
	// Parallelism bounds concurrent deliveries within one batch.
	Parallelism int
	// Timeout bounds each delivery.
	Timeout time.Duration
	// PresenceNotifications enables online/offline notices to contacts.
	PresenceNotifications bool
	// Online reports whether a user currently has a live connection.
	Online func(userID string) bool
	Logger *slog.Logger
}

// Dispatcher sends message and presence notifications to every subscription
// of a user and prunes endpoints that fail permanently.
type Dispatcher struct {
	provider Provider
	users    store.Users
	subs     store.Subscriptions
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	sent   atomic.Int64
	failed atomic.Int64
	pruned atomic.Int64
}

// NewDispatcher creates a dispatcher. A nil provider disables delivery and
// subscription management.
func NewDispatcher(provider Provider, users store.Users, subs store.Subscriptions, opts Options) *Dispatcher {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Online == nil {
		opts.Online = func(string) bool { return false }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provider: provider,
		users:    users,
		subs:     subs,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether a provider is configured.
func (d *Dispatcher) Enabled() bool { return d != nil && d.provider != nil }

// PublicKey returns the VAPID public key.
func (d *Dispatcher) PublicKey() (string, error) {
	if !d.Enabled() {
		return "", ErrPushDisabled
	}
	return d.provider.PublicKey(), nil
}

// Stats returns a snapshot of the lifetime counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load(), Pruned: d.pruned.Load()}
}

// Subscribe stores sub for userID and returns the user's subscription count.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string, sub domain.PushSubscription) (int, error) {
	if !d.Enabled() {
		return 0, ErrPushDisabled
	}
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return 0, ErrInvalidSubscription
	}
	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.NotificationsEnabled {
		if user, err = d.freshUser(ctx, user); err != nil {
			return 0, err
		}
		if !user.NotificationsEnabled {
			return 0, ErrNotificationsDisabled
		}
	}
	sub.CreatedAt = d.now().UTC()
	if err := d.subs.UpsertSubscription(ctx, userID, sub); err != nil {
		return 0, fmt.Errorf("push: subscribe: %w", err)
	}
	subs, err := d.subs.ListSubscriptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("push: subscribe: %w", err)
	}
	return len(subs), nil
}

// freshUser rereads a profile that may come from a cache, so a settings
// change is seen before the cached entry expires.
func (d *Dispatcher) freshUser(ctx context.Context, cached *domain.User) (*domain.User, error) {
	inv, ok := d.users.(store.Invalidator)
	if !ok {
		return cached, nil
	}
	if err := inv.Invalidate(ctx, cached.ID); err != nil {
		d.logger.Warn("invalidate cached user", "user_id", cached.ID, "err", err)
		return cached, nil
	}
	return d.users.GetUser(ctx, cached.ID)
}

// Unsubscribe removes one endpoint, or every subscription when endpoint is empty.
func (d *Dispatcher) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if !d.Enabled() {
		return ErrPushDisabled
	}
	if err := d.subs.RemoveSubscription(ctx, userID, strings.TrimSpace(endpoint)); err != nil {
		return fmt.Errorf("push: unsubscribe: %w", err)
	}
	return nil
}

// NotifyMessage tells recipient about a message they have not seen live.
func (d *Dispatcher) NotifyMessage(ctx context.Context, recipient *domain.User, senderName, conversationID, snippet string) Result {
	if !d.Enabled() || recipient == nil || !recipient.NotificationsEnabled {
		return Result{}
	}
	if senderName == "" {
		senderName = FallbackName
	}
	payload, err := messagePayload(senderName, conversationID, snippet, d.now())
	if err != nil {
		d.logger.Error("encode message notification", "err", err)
		return Result{}
	}
	return d.broadcast(ctx, recipient.ID, payload)
}

// NotifyPresence tells recipient that subjectName came online or went offline.
func (d *Dispatcher) NotifyPresence(ctx context.Context, recipient *domain.User, subjectName string, isOnline bool) Result {
	if !d.Enabled() || recipient == nil || !recipient.NotificationsEnabled {
		return Result{}
	}
	if subjectName == "" {
		subjectName = FallbackName
	}
	payload, err := presencePayload(recipient.ID, subjectName, isOnline, d.now())
	if err != nil {
		d.logger.Error("encode presence notification", "err", err)
		return Result{}
	}
	return d.broadcast(ctx, recipient.ID, payload)
}

// Process runs a queued job, resolving the users it references.
func (d *Dispatcher) Process(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if !d.Enabled() {
		return nil
	}
	switch job.Kind {
	case KindMessage:
		return d.processMessage(ctx, job)
	case KindPresence:
		return d.processPresence(ctx, job)
	}
	return nil
}

func (d *Dispatcher) processMessage(ctx context.Context, job Job) error {
	recipient, err := d.users.GetUser(ctx, job.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("push: load recipient: %w", err)
	}
	res := d.NotifyMessage(ctx, recipient, d.displayName(ctx, job.SenderID), job.ConversationID,
		messageBody(job.Snippet, job.HasAttachment))
	d.logger.Debug("message notification processed",
		"recipient_id", job.RecipientID, "conversation_id", job.ConversationID,
		"sent", res.Sent, "failed", res.Failed, "pruned", res.Pruned)
	return nil
}

func (d *Dispatcher) processPresence(ctx context.Context, job Job) error {
	if !d.opts.PresenceNotifications {
		return nil
	}
	contacts, err := d.users.ListContacts(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("push: list contacts: %w", err)
	}
	name := d.displayName(ctx, job.SubjectID)
	for _, contactID := range contacts {
		if contactID == job.SubjectID || d.opts.Online(contactID) {
			continue
		}
		contact, err := d.users.GetUser(ctx, contactID)
		if err != nil {
			d.logger.Warn("skip presence notification", "contact_id", contactID, "err", err)
			continue
		}
		d.NotifyPresence(ctx, contact, name, job.IsOnline)
	}
	return nil
}

func (d *Dispatcher) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return FallbackName
	}
	u, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return FallbackName
	}
	return u.DisplayName(FallbackName)
}

// broadcast delivers payload to every subscription of userID with bounded
// parallelism, then prunes the endpoints that failed permanently.
func (d *Dispatcher) broadcast(ctx context.Context, userID string, payload []byte) Result {
	subs, err := d.subs.ListSubscriptions(ctx, userID)
	if err != nil {
		d.logger.Warn("list push subscriptions", "user_id", userID, "err", err)
		return Result{}
	}
	if len(subs) == 0 {
		return Result{}
	}

	var (
		res  Result
		mu   sync.Mutex
		dead []string
		g    errgroup.Group
	)
	g.SetLimit(d.opts.Parallelism)
	for _, sub := range subs {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
			err := d.provider.Deliver(dctx, sub, payload)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				res.Sent++
				return nil
			}
			res.Failed++
			if IsPermanent(err) {
				dead = append(dead, sub.Endpoint)
			}
			d.logger.Warn("push delivery failed", "user_id", userID, "permanent", IsPermanent(err), "err", err)
			return nil
		})
	}
	_ = g.Wait()

	if len(dead) > 0 {
		if err := d.subs.PruneSubscriptions(ctx, userID, dead); err != nil {
			d.logger.Error("prune push subscriptions", "user_id", userID, "err", err)
		} else {
			res.Pruned = len(dead)
			d.logger.Info("pruned push subscriptions", "user_id", userID, "count", len(dead))
		}
	}

	d.sent.Add(int64(res.Sent))
	d.failed.Add(int64(res.Failed))
	d.pruned.Add(int64(res.Pruned))
	return res
}
