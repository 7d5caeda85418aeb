package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/store"
)

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	return &Store{pool: pool}, nil
}

const conversationColumns = `id, participant_a, participant_b, last_message_text, last_message_sender_id, last_message_at, created_at, updated_at`

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *Store) FindConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	pair, err := domain.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE participant_a = $1 AND participant_b = $2`,
		pair[0], pair[1])
	return scanConversation(row)
}

func (s *Store) CreateConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	conv, err := domain.NewConversation(uuid.NewString(), a, b, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, conv.ID, conv.ParticipantIDs[0], conv.ParticipantIDs[1], conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: create conversation: %w", err)
	}
	return s.FindConversation(ctx, a, b)
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_text = $2,
			    last_message_sender_id = $3,
			    last_message_at = $4,
			    updated_at = $4
			WHERE id = $1
		`, msg.ConversationID, msg.Text, msg.SenderID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: update last message: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return store.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, recipient_id, text, attachments, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Text, attachments, msg.IsRead, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert message: %w", err)
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, recipient_id, text, attachments, is_read, created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) newest
		ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID, &msg.Text, &msg.Attachments, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND NOT is_read AND id = ANY($3)
	`, conversationID, readerID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark read: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND NOT is_read
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark all read: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, notifications_enabled, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.NotificationsEnabled, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListContacts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT CASE WHEN participant_a = $1 THEN participant_b ELSE participant_a END AS contact
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY contact
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contacts: %w", err)
	}
	contacts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list contacts: %w", err)
	}
	return contacts, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, userID string, sub domain.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint)
		DO UPDATE SET user_id = EXCLUDED.user_id,
		              p256dh = EXCLUDED.p256dh,
		              auth = EXCLUDED.auth,
		              created_at = EXCLUDED.created_at
	`, sub.Endpoint, userID, sub.Keys.P256dh, sub.Keys.Auth, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	var err error
	if endpoint == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	}
	if err != nil {
		return fmt.Errorf("postgres: remove subscription: %w", err)
	}
	return nil
}

func (s *Store) PruneSubscriptions(ctx context.Context, userID string, endpoints []string) error {
	if len(endpoints) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = ANY($2)`, userID, endpoints)
	if err != nil {
		return fmt.Errorf("postgres: prune subscriptions: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		c          domain.Conversation
		lastText   *string
		lastSender *string
		lastAt     *time.Time
	)
	err := row.Scan(&c.ID, &c.ParticipantIDs[0], &c.ParticipantIDs[1], &lastText, &lastSender, &lastAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan conversation: %w", err)
	}
	if lastText != nil && lastSender != nil && lastAt != nil {
		c.LastMessage = &domain.LastMessage{Text: *lastText, SenderID: *lastSender, CreatedAt: *lastAt}
	}
	return &c, nil
}
