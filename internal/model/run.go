package model

import (
	"time"
)

// Run is one executor-produced coding session that viewers can observe.
// Only the hash of the run bearer token is ever persisted.
type Run struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	ExecutorDeviceID string     `db:"executor_device_id" json:"executorDeviceId"`
	CodingSessionID  *string    `db:"coding_session_id" json:"codingSessionId,omitempty"`
	RunTokenHash     string     `db:"run_token_hash" json:"-"`
	Status           RunStatus  `db:"status" json:"status"`
	StartedAt        time.Time  `db:"started_at" json:"startedAt"`
	EndedAt          *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	LastActivityAt   time.Time  `db:"last_activity_at" json:"lastActivityAt"`
}

type CreateRunParams struct {
	UserID           string
	ExecutorDeviceID string
	CodingSessionID  *string
	RunTokenHash     string
}
