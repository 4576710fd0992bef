package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

type WebSessionRepository interface {
	Create(ctx context.Context, params model.CreateWebSessionParams) (*model.WebSession, error)
	FindByID(ctx context.Context, userID, id string) (*model.WebSession, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.WebSession, error)
	// Authorize transitions pending -> active, binding the approving
	// device and its long-term public key into the row. Reports whether
	// a row changed; a false result means the session was not pending.
	Authorize(ctx context.Context, userID string, params model.AuthorizeWebSessionParams, devicePublicKey string) (bool, error)
	// MarkExpired transitions pending/active -> expired.
	MarkExpired(ctx context.Context, userID, id string) (bool, error)
	// Revoke transitions pending/active -> revoked with a reason.
	Revoke(ctx context.Context, userID, id, reason string) (bool, error)
	// Touch refreshes last_activity_at for an active, unexpired session.
	Touch(ctx context.Context, userID, id string) (bool, error)
	// ExpireDue expires sessions past their absolute TTL or idle window.
	ExpireDue(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) WebSessionRepository
}

type webSessionRepo struct {
	db queryer
}

func NewWebSessionRepository(db *sqlx.DB) WebSessionRepository {
	return &webSessionRepo{db: db}
}

func (r *webSessionRepo) WithTx(tx *sqlx.Tx) WebSessionRepository {
	return &webSessionRepo{db: tx}
}

func (r *webSessionRepo) Create(ctx context.Context, params model.CreateWebSessionParams) (*model.WebSession, error) {
	var session model.WebSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO web_sessions (
			user_id, session_token_hash, web_public_key, permission, status,
			session_ttl_seconds, max_idle_seconds
		)
		VALUES ($1, $2, $3, 'view_only', 'pending', $4, $5)
		RETURNING *
	`, params.UserID, params.SessionTokenHash, params.WebPublicKey,
		params.TTLSeconds, params.MaxIdleSeconds)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *webSessionRepo) FindByID(ctx context.Context, userID, id string) (*model.WebSession, error) {
	var session model.WebSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM web_sessions WHERE user_id = $1 AND id = $2
	`, userID, id)
	return HandleNotFound(&session, err)
}

func (r *webSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.WebSession, error) {
	var session model.WebSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM web_sessions
		WHERE session_token_hash = $1 AND status IN ('pending', 'active')
	`, tokenHash)
	return HandleNotFound(&session, err)
}

func (r *webSessionRepo) Authorize(ctx context.Context, userID string, params model.AuthorizeWebSessionParams, devicePublicKey string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(params.TTLSeconds) * time.Second)
	result, err := r.db.ExecContext(ctx, `
		UPDATE web_sessions SET
			status = 'active',
			authorizing_device_id = $3,
			encrypted_session_key = $4,
			responder_public_key = $5,
			authorizing_device_public_key = $6,
			permission = $7,
			session_ttl_seconds = $8,
			max_idle_seconds = $9,
			expires_at = $10,
			last_activity_at = $11,
			updated_at = $11
		WHERE user_id = $1 AND id = $2 AND status = 'pending'
	`, userID, params.SessionID, params.ApprovingDeviceID,
		params.EncryptedSessionKey, params.ResponderPublicKey, devicePublicKey,
		params.Permission, params.TTLSeconds, params.MaxIdleSeconds,
		expiresAt, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *webSessionRepo) MarkExpired(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE web_sessions SET
			status = 'expired',
			updated_at = $3
		WHERE user_id = $1 AND id = $2 AND status IN ('pending', 'active')
	`, userID, id, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *webSessionRepo) Revoke(ctx context.Context, userID, id, reason string) (bool, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE web_sessions SET
			status = 'revoked',
			revoked_at = $4,
			revoked_reason = $3,
			updated_at = $4
		WHERE user_id = $1 AND id = $2 AND status IN ('pending', 'active')
	`, userID, id, reason, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *webSessionRepo) Touch(ctx context.Context, userID, id string) (bool, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE web_sessions SET
			last_activity_at = $3,
			updated_at = $3
		WHERE user_id = $1 AND id = $2 AND status = 'active'
		AND (expires_at IS NULL OR expires_at > $3)
	`, userID, id, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *webSessionRepo) ExpireDue(ctx context.Context) (int64, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE web_sessions SET
			status = 'expired',
			updated_at = $1
		WHERE status IN ('pending', 'active')
		AND (
			(expires_at IS NOT NULL AND expires_at <= $1)
			OR (status = 'active' AND max_idle_seconds > 0
				AND last_activity_at < $1 - (max_idle_seconds * INTERVAL '1 second'))
		)
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
