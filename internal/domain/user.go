package domain

import "time"

// User is the subset of the user profile the real-time core needs.
type User struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	Name                 string    `json:"name"`
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	CreatedAt            time.Time `json:"createdAt"`
}

// DisplayName returns the user's name, or fallback when it is empty.
func (u *User) DisplayName(fallback string) string {
	if u == nil || u.Name == "" {
		return fallback
	}
	return u.Name
}

// SubscriptionKeys is the key pair a push service uses to encrypt payloads.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is one browser push endpoint owned by a user. Endpoint is
// unique across all users.
type PushSubscription struct {
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	CreatedAt time.Time        `json:"createdAt"`
}
