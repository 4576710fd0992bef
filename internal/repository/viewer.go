package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unbound/trust-relay-go/internal/model"
)

// ViewerRepository handles run_viewers rows. Run ownership is checked
// through the joined claude_runs row so a viewer of another user's run
// is unreachable.
type ViewerRepository interface {
	Insert(ctx context.Context, userID string, params model.JoinRunParams) (*model.Viewer, error)
	FindActive(ctx context.Context, userID, runID string, viewer model.ViewerRef) (*model.Viewer, error)
	ListActive(ctx context.Context, userID, runID string) ([]model.Viewer, error)
	// Deactivate stamps left_at; the row is kept for the audit trail.
	Deactivate(ctx context.Context, userID, runID string, viewer model.ViewerRef) (bool, error)
	DeactivateAllForRun(ctx context.Context, userID, runID string) (int64, error)
	TouchLastSeen(ctx context.Context, userID, runID string, viewer model.ViewerRef) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ViewerRepository
}

type viewerRepo struct {
	db queryer
}

func NewViewerRepository(db *sqlx.DB) ViewerRepository {
	return &viewerRepo{db: db}
}

func (r *viewerRepo) WithTx(tx *sqlx.Tx) ViewerRepository {
	return &viewerRepo{db: tx}
}

func (r *viewerRepo) Insert(ctx context.Context, userID string, params model.JoinRunParams) (*model.Viewer, error) {
	deviceID, webSessionID := params.Viewer.Columns()
	var viewer model.Viewer
	err := r.db.GetContext(ctx, &viewer, `
		INSERT INTO run_viewers (
			run_id, viewer_device_id, viewer_web_session_id,
			permission, is_active, viewer_session_public_key
		)
		SELECT $2, $3, $4, $5, TRUE, $6
		FROM claude_runs WHERE id = $2 AND user_id = $1
		RETURNING *
	`, userID, params.RunID, deviceID, webSessionID,
		params.Permission, params.ViewerSessionPublicKey)
	if err != nil {
		return nil, err
	}
	return &viewer, nil
}

func (r *viewerRepo) FindActive(ctx context.Context, userID, runID string, ref model.ViewerRef) (*model.Viewer, error) {
	deviceID, webSessionID := ref.Columns()
	var viewer model.Viewer
	err := r.db.GetContext(ctx, &viewer, `
		SELECT v.* FROM run_viewers v
		JOIN claude_runs r ON r.id = v.run_id
		WHERE r.user_id = $1 AND v.run_id = $2 AND v.is_active = TRUE
		AND (($3::uuid IS NOT NULL AND v.viewer_device_id = $3)
			OR ($4::uuid IS NOT NULL AND v.viewer_web_session_id = $4))
	`, userID, runID, deviceID, webSessionID)
	return HandleNotFound(&viewer, err)
}

func (r *viewerRepo) ListActive(ctx context.Context, userID, runID string) ([]model.Viewer, error) {
	viewers := []model.Viewer{}
	err := r.db.SelectContext(ctx, &viewers, `
		SELECT v.* FROM run_viewers v
		JOIN claude_runs r ON r.id = v.run_id
		WHERE r.user_id = $1 AND v.run_id = $2 AND v.is_active = TRUE
		ORDER BY v.joined_at
	`, userID, runID)
	return viewers, err
}

func (r *viewerRepo) Deactivate(ctx context.Context, userID, runID string, ref model.ViewerRef) (bool, error) {
	deviceID, webSessionID := ref.Columns()
	result, err := r.db.ExecContext(ctx, `
		UPDATE run_viewers v SET
			is_active = FALSE,
			left_at = $5
		FROM claude_runs r
		WHERE r.id = v.run_id AND r.user_id = $1
		AND v.run_id = $2 AND v.is_active = TRUE
		AND (($3::uuid IS NOT NULL AND v.viewer_device_id = $3)
			OR ($4::uuid IS NOT NULL AND v.viewer_web_session_id = $4))
	`, userID, runID, deviceID, webSessionID, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *viewerRepo) DeactivateAllForRun(ctx context.Context, userID, runID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE run_viewers v SET
			is_active = FALSE,
			left_at = $3
		FROM claude_runs r
		WHERE r.id = v.run_id AND r.user_id = $1
		AND v.run_id = $2 AND v.is_active = TRUE
	`, userID, runID, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *viewerRepo) TouchLastSeen(ctx context.Context, userID, runID string, ref model.ViewerRef) error {
	deviceID, webSessionID := ref.Columns()
	_, err := r.db.ExecContext(ctx, `
		UPDATE run_viewers v SET last_seen_at = $5
		FROM claude_runs r
		WHERE r.id = v.run_id AND r.user_id = $1
		AND v.run_id = $2 AND v.is_active = TRUE
		AND (($3::uuid IS NOT NULL AND v.viewer_device_id = $3)
			OR ($4::uuid IS NOT NULL AND v.viewer_web_session_id = $4))
	`, userID, runID, deviceID, webSessionID, time.Now())
	return err
}
