package postgres

import (
	"context"
	"fmt"
	"time"
)

// Campaign status values stored in projects.status.
const (
	CampaignOpen   = 0
	CampaignClosed = 2
)

// CampaignRepo maintains funding campaign state.
type CampaignRepo struct {
	db *DB
}

func NewCampaignRepo(db *DB) *CampaignRepo { return &CampaignRepo{db: db} }

const qCampaignCloseEnded = `
UPDATE projects
SET status     = $2,
    updated_at = NOW()
WHERE fund_end_at <= $1 AND status <> $2;`

// CloseEnded marks every campaign whose funding window ended at or before now
// as closed and returns how many changed.
func (r *CampaignRepo) CloseEnded(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qCampaignCloseEnded, now.UTC(), CampaignClosed)
	if err != nil {
		return 0, fmt.Errorf("close ended campaigns: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
