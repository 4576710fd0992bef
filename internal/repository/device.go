package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

// DeviceRepository handles device rows. Every query is scoped by the
// owning user: a row belonging to another user behaves as if it did
// not exist.
type DeviceRepository interface {
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	FindByID(ctx context.Context, userID, id string) (*model.Device, error)
	FindTrustRoot(ctx context.Context, userID string) (*model.Device, error)
	ListByUser(ctx context.Context, userID string) ([]model.Device, error)
	SetTrusted(ctx context.Context, userID, id string, trusted bool) error
	Deactivate(ctx context.Context, userID, id string) error
	UpdateLastSeen(ctx context.Context, userID, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db queryer
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices (
			user_id, name, device_type, device_role, public_key,
			is_primary_trust_root, is_trusted, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING *
	`, params.UserID, params.Name, params.DeviceType, params.DeviceRole,
		params.PublicKey, params.IsPrimaryTrustRoot, params.IsPrimaryTrustRoot)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) FindByID(ctx context.Context, userID, id string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE user_id = $1 AND id = $2
	`, userID, id)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindTrustRoot(ctx context.Context, userID string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices
		WHERE user_id = $1 AND is_primary_trust_root = TRUE AND is_active = TRUE
	`, userID)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	devices := []model.Device{}
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices WHERE user_id = $1 ORDER BY created_at
	`, userID)
	return devices, err
}

// SetTrusted flips the persistent trust flag. The device_type guard
// mirrors the database trigger: web-originated devices can never carry
// the flag, whatever the caller attempts.
func (r *deviceRepo) SetTrusted(ctx context.Context, userID, id string, trusted bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			is_trusted = $3,
			verified_at = CASE WHEN $3 THEN $4 ELSE verified_at END,
			updated_at = $4
		WHERE user_id = $1 AND id = $2
		AND ($3 = FALSE OR device_type <> 'web-browser')
	`, userID, id, trusted, time.Now())
	return err
}

func (r *deviceRepo) Deactivate(ctx context.Context, userID, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			is_active = FALSE,
			is_trusted = FALSE,
			updated_at = $3
		WHERE user_id = $1 AND id = $2
	`, userID, id, time.Now())
	return err
}

func (r *deviceRepo) UpdateLastSeen(ctx context.Context, userID, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = $3 WHERE user_id = $1 AND id = $2
	`, userID, id, time.Now())
	return err
}
