package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

// PairwiseSecretRepository stores the two encrypted copies of each
// pair's shared secret. The canonical ordering (device_a_id < device_b_id)
// is validated here as well as by the table's CHECK constraint, because
// the unique-pair index depends on it.
type PairwiseSecretRepository interface {
	Upsert(ctx context.Context, params model.UpsertPairwiseSecretParams) (*model.PairwiseSecret, error)
	FindByPair(ctx context.Context, userID, deviceAID, deviceBID string) (*model.PairwiseSecret, error)
	DeleteForDevice(ctx context.Context, userID, deviceID string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PairwiseSecretRepository
}

type pairwiseSecretRepo struct {
	db queryer
}

func NewPairwiseSecretRepository(db *sqlx.DB) PairwiseSecretRepository {
	return &pairwiseSecretRepo{db: db}
}

func (r *pairwiseSecretRepo) WithTx(tx *sqlx.Tx) PairwiseSecretRepository {
	return &pairwiseSecretRepo{db: tx}
}

func (r *pairwiseSecretRepo) Upsert(ctx context.Context, params model.UpsertPairwiseSecretParams) (*model.PairwiseSecret, error) {
	if params.DeviceAID >= params.DeviceBID {
		return nil, fmt.Errorf("pairwise secret pair not in canonical order: %q >= %q",
			params.DeviceAID, params.DeviceBID)
	}

	var secret model.PairwiseSecret
	err := r.db.GetContext(ctx, &secret, `
		INSERT INTO device_pairwise_secrets (
			user_id, device_a_id, device_b_id,
			encrypted_secret_for_a, encrypted_secret_for_b,
			ephemeral_key_for_a, ephemeral_key_for_b,
			key_algorithm
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_a_id, device_b_id) DO UPDATE SET
			encrypted_secret_for_a = EXCLUDED.encrypted_secret_for_a,
			encrypted_secret_for_b = EXCLUDED.encrypted_secret_for_b,
			ephemeral_key_for_a = EXCLUDED.ephemeral_key_for_a,
			ephemeral_key_for_b = EXCLUDED.ephemeral_key_for_b,
			key_algorithm = EXCLUDED.key_algorithm,
			updated_at = $9
		RETURNING *
	`, params.UserID, params.DeviceAID, params.DeviceBID,
		params.EncryptedSecretForA, params.EncryptedSecretForB,
		params.EphemeralKeyForA, params.EphemeralKeyForB,
		params.KeyAlgorithm, time.Now())
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

func (r *pairwiseSecretRepo) FindByPair(ctx context.Context, userID, deviceAID, deviceBID string) (*model.PairwiseSecret, error) {
	var secret model.PairwiseSecret
	err := r.db.GetContext(ctx, &secret, `
		SELECT * FROM device_pairwise_secrets
		WHERE user_id = $1 AND device_a_id = $2 AND device_b_id = $3
	`, userID, deviceAID, deviceBID)
	return HandleNotFound(&secret, err)
}

func (r *pairwiseSecretRepo) DeleteForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM device_pairwise_secrets
		WHERE user_id = $1 AND (device_a_id = $2 OR device_b_id = $2)
	`, userID, deviceID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
