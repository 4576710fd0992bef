package model

import (
	"time"
)

// User is the authenticated owner of a device fleet. Only the hash of
// the API token is stored.
type User struct {
	ID              string     `db:"id" json:"id"`
	Email           *string    `db:"email" json:"email,omitempty"`
	APITokenHash    string     `db:"api_token_hash" json:"-"`
	RateLimitPerMin int        `db:"rate_limit_per_min" json:"rateLimitPerMin"`
	LastSeenAt      *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
}
