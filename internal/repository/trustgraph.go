package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

// TrustGraphRepository handles directed trust edges. State transitions
// are conditional updates: a transition that no longer applies affects
// zero rows instead of clobbering concurrent writers.
type TrustGraphRepository interface {
	Create(ctx context.Context, params model.CreateTrustEdgeParams) (*model.TrustEdge, error)
	FindByID(ctx context.Context, userID, id string) (*model.TrustEdge, error)
	FindByPair(ctx context.Context, userID, grantorID, granteeID string) (*model.TrustEdge, error)
	// Approve transitions pending -> active and reports whether a row changed.
	Approve(ctx context.Context, userID, id string) (bool, error)
	// ActiveIncoming returns traversable edges pointing at the device,
	// closest-to-root first.
	ActiveIncoming(ctx context.Context, userID, granteeID string) ([]model.TrustEdge, error)
	HasActiveIncoming(ctx context.Context, userID, granteeID string) (bool, error)
	// RevokeIncoming revokes every active edge naming the device as grantee.
	RevokeIncoming(ctx context.Context, userID, granteeID, reason string) (int64, error)
	// RevokeGrantedBy revokes every active edge the device granted and
	// returns the grantee ids of the revoked edges, for cascade traversal.
	RevokeGrantedBy(ctx context.Context, userID, grantorID, reason string) ([]string, error)
	// ExpireDue transitions pending/active edges past their expiry to expired.
	ExpireDue(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) TrustGraphRepository
}

type trustGraphRepo struct {
	db queryer
}

func NewTrustGraphRepository(db *sqlx.DB) TrustGraphRepository {
	return &trustGraphRepo{db: db}
}

func (r *trustGraphRepo) WithTx(tx *sqlx.Tx) TrustGraphRepository {
	return &trustGraphRepo{db: tx}
}

func (r *trustGraphRepo) Create(ctx context.Context, params model.CreateTrustEdgeParams) (*model.TrustEdge, error) {
	var edge model.TrustEdge
	err := r.db.GetContext(ctx, &edge, `
		INSERT INTO device_trust_graph (
			user_id, grantor_device_id, grantee_device_id, status, trust_level, expires_at
		)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING *
	`, params.UserID, params.GrantorDeviceID, params.GranteeDeviceID,
		params.TrustLevel, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *trustGraphRepo) FindByID(ctx context.Context, userID, id string) (*model.TrustEdge, error) {
	var edge model.TrustEdge
	err := r.db.GetContext(ctx, &edge, `
		SELECT * FROM device_trust_graph WHERE user_id = $1 AND id = $2
	`, userID, id)
	return HandleNotFound(&edge, err)
}

func (r *trustGraphRepo) FindByPair(ctx context.Context, userID, grantorID, granteeID string) (*model.TrustEdge, error) {
	var edge model.TrustEdge
	err := r.db.GetContext(ctx, &edge, `
		SELECT * FROM device_trust_graph
		WHERE user_id = $1 AND grantor_device_id = $2 AND grantee_device_id = $3
	`, userID, grantorID, granteeID)
	return HandleNotFound(&edge, err)
}

func (r *trustGraphRepo) Approve(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE device_trust_graph SET
			status = 'active',
			approved_at = $3,
			updated_at = $3
		WHERE user_id = $1 AND id = $2 AND status = 'pending'
	`, userID, id, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *trustGraphRepo) ActiveIncoming(ctx context.Context, userID, granteeID string) ([]model.TrustEdge, error) {
	edges := []model.TrustEdge{}
	err := r.db.SelectContext(ctx, &edges, `
		SELECT * FROM device_trust_graph
		WHERE user_id = $1 AND grantee_device_id = $2
		AND status = 'active'
		AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY trust_level, created_at
	`, userID, granteeID, time.Now())
	return edges, err
}

func (r *trustGraphRepo) HasActiveIncoming(ctx context.Context, userID, granteeID string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM device_trust_graph
		WHERE user_id = $1 AND grantee_device_id = $2
		AND status = 'active'
		AND (expires_at IS NULL OR expires_at > $3)
	`, userID, granteeID, time.Now())
	return count > 0, err
}

func (r *trustGraphRepo) RevokeIncoming(ctx context.Context, userID, granteeID, reason string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE device_trust_graph SET
			status = 'revoked',
			revoked_at = $4,
			revoked_reason = $3,
			updated_at = $4
		WHERE user_id = $1 AND grantee_device_id = $2 AND status = 'active'
	`, userID, granteeID, reason, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *trustGraphRepo) RevokeGrantedBy(ctx context.Context, userID, grantorID, reason string) ([]string, error) {
	grantees := []string{}
	err := r.db.SelectContext(ctx, &grantees, `
		UPDATE device_trust_graph SET
			status = 'revoked',
			revoked_at = $4,
			revoked_reason = $3,
			updated_at = $4
		WHERE user_id = $1 AND grantor_device_id = $2 AND status = 'active'
		RETURNING grantee_device_id
	`, userID, grantorID, reason, time.Now())
	return grantees, err
}

func (r *trustGraphRepo) ExpireDue(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE device_trust_graph SET
			status = 'expired',
			updated_at = $1
		WHERE status IN ('pending', 'active')
		AND expires_at IS NOT NULL AND expires_at <= $1
	`, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
