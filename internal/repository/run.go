package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

type RunRepository interface {
	Create(ctx context.Context, params model.CreateRunParams) (*model.Run, error)
	FindByID(ctx context.Context, userID, id string) (*model.Run, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Run, error)
	// Heartbeat refreshes last_activity_at; only active runs accept one.
	Heartbeat(ctx context.Context, userID, id string) (bool, error)
	// End transitions active/paused -> ended and reports whether a row changed.
	End(ctx context.Context, userID, id string) (bool, error)
	// SweepStale ends every active run silent for longer than threshold.
	SweepStale(ctx context.Context, threshold time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) RunRepository
}

type runRepo struct {
	db queryer
}

func NewRunRepository(db *sqlx.DB) RunRepository {
	return &runRepo{db: db}
}

func (r *runRepo) WithTx(tx *sqlx.Tx) RunRepository {
	return &runRepo{db: tx}
}

func (r *runRepo) Create(ctx context.Context, params model.CreateRunParams) (*model.Run, error) {
	var run model.Run
	err := r.db.GetContext(ctx, &run, `
		INSERT INTO claude_runs (
			user_id, executor_device_id, coding_session_id, run_token_hash, status
		)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING *
	`, params.UserID, params.ExecutorDeviceID, params.CodingSessionID, params.RunTokenHash)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) FindByID(ctx context.Context, userID, id string) (*model.Run, error) {
	var run model.Run
	err := r.db.GetContext(ctx, &run, `
		SELECT * FROM claude_runs WHERE user_id = $1 AND id = $2
	`, userID, id)
	return HandleNotFound(&run, err)
}

func (r *runRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Run, error) {
	var run model.Run
	err := r.db.GetContext(ctx, &run, `
		SELECT * FROM claude_runs
		WHERE run_token_hash = $1 AND status IN ('active', 'paused')
	`, tokenHash)
	return HandleNotFound(&run, err)
}

func (r *runRepo) Heartbeat(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE claude_runs SET last_activity_at = $3
		WHERE user_id = $1 AND id = $2 AND status = 'active'
	`, userID, id, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *runRepo) End(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE claude_runs SET
			status = 'ended',
			ended_at = $3
		WHERE user_id = $1 AND id = $2 AND status IN ('active', 'paused')
	`, userID, id, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *runRepo) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE claude_runs SET
			status = 'ended',
			ended_at = $1
		WHERE status = 'active' AND last_activity_at < $2
	`, now, now.Add(-threshold))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
