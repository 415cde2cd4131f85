package repository

import (
	"database/sql"
	"fmt"

	"github.com/dialwave/dialwave-backend/internal/model"
)

// ItemRepositoryInterface is the item store: atomic lease, release and
// terminal-transition operations over campaign_items.
type ItemRepositoryInterface interface {
	AcquireBatch(campaignID, limit int) ([]*model.CampaignItem, error)
	Resolve(itemID int, status model.ItemStatus, providerRef, failReason string) (bool, error)
	Release(itemID int) (bool, error)
	ResetStaleInProgress(campaignID int) (int64, error)
	CountByStatus(campaignID int) (model.StatusCounts, error)
	ListByCampaign(campaignID, offset, limit int) ([]*model.CampaignItem, int, error)
}

type ItemRepository struct {
	DB *sql.DB
}

const itemColumns = `id, campaign_id, phone, status, leased_at, provider_ref, fail_reason, created_at, updated_at`

// AcquireBatch leases up to limit pending items in one statement. The
// subquery with FOR UPDATE SKIP LOCKED makes concurrent callers (an
// overlapping tick, a second worker started by mistake) skip each other's
// rows instead of double-leasing them.
func (r *ItemRepository) AcquireBatch(campaignID, limit int) ([]*model.CampaignItem, error) {
	query := fmt.Sprintf(`
        UPDATE campaign_items
        SET status='in_progress', leased_at=NOW(), updated_at=NOW()
        WHERE id IN (
            SELECT id FROM campaign_items
            WHERE campaign_id=$1 AND status='pending'
            ORDER BY id
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING %s
    `, itemColumns)

	rows, err := r.DB.Query(query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*model.CampaignItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Resolve moves an in_progress item to its terminal status. Returns false
// when the item was not in_progress anymore, which callers treat as a
// duplicate resolution and skip.
func (r *ItemRepository) Resolve(itemID int, status model.ItemStatus, providerRef, failReason string) (bool, error) {
	if status != model.ItemSent && status != model.ItemFailed {
		return false, fmt.Errorf("resolve requires a terminal status, got %s", status)
	}

	query := `
        UPDATE campaign_items
        SET status=$2, provider_ref=$3, fail_reason=$4, updated_at=NOW()
        WHERE id=$1 AND status='in_progress'
    `
	res, err := r.DB.Exec(query, itemID, status, providerRef, failReason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Release returns a leased item to pending without recording an attempt
// outcome. Used for transient failures and for items skipped after a
// campaign-fatal error aborted their batch.
func (r *ItemRepository) Release(itemID int) (bool, error) {
	query := `
        UPDATE campaign_items
        SET status='pending', leased_at=NULL, updated_at=NOW()
        WHERE id=$1 AND status='in_progress'
    `
	res, err := r.DB.Exec(query, itemID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetStaleInProgress reclaims every lease of a campaign. Only run during
// startup recovery; terminal items are never touched.
func (r *ItemRepository) ResetStaleInProgress(campaignID int) (int64, error) {
	query := `
        UPDATE campaign_items
        SET status='pending', leased_at=NULL, updated_at=NOW()
        WHERE campaign_id=$1 AND status='in_progress'
    `
	res, err := r.DB.Exec(query, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ItemRepository) CountByStatus(campaignID int) (model.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM campaign_items WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return model.StatusCounts{}, err
	}
	defer rows.Close()

	var counts model.StatusCounts
	for rows.Next() {
		var status model.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.StatusCounts{}, err
		}
		switch status {
		case model.ItemPending:
			counts.Pending = n
		case model.ItemInProgress:
			counts.InProgress = n
		case model.ItemSent:
			counts.Sent = n
		case model.ItemFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (r *ItemRepository) ListByCampaign(campaignID, offset, limit int) ([]*model.CampaignItem, int, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM campaign_items
        WHERE campaign_id=$1
        ORDER BY id
        LIMIT $2 OFFSET $3
    `, itemColumns)

	rows, err := r.DB.Query(query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*model.CampaignItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM campaign_items WHERE campaign_id=$1`, campaignID).Scan(&total); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func scanItem(rows *sql.Rows) (*model.CampaignItem, error) {
	item := &model.CampaignItem{}
	var providerRef, failReason sql.NullString
	if err := rows.Scan(
		&item.ID, &item.CampaignID, &item.Phone, &item.Status,
		&item.LeasedAt, &providerRef, &failReason,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.ProviderRef = providerRef.String
	item.FailReason = failReason.String
	return item, nil
}

var _ ItemRepositoryInterface = (*ItemRepository)(nil)
