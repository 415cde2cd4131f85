package repository

import (
	"database/sql"
	"time"

	"github.com/dialwave/dialwave-backend/internal/model"
)

// ExecutionLogRepositoryInterface is the append-only record of dispatch
// attempts. The engine only writes; reads exist for diagnostics.
type ExecutionLogRepositoryInterface interface {
	Append(rec *model.ExecutionRecord) error
	ListByCampaign(campaignID, offset, limit int) ([]*model.ExecutionRecord, int, error)
}

type ExecutionLogRepository struct {
	DB *sql.DB
}

func (r *ExecutionLogRepository) Append(rec *model.ExecutionRecord) error {
	rec.CreatedAt = time.Now()
	query := `
        INSERT INTO execution_records (campaign_id, item_id, channel, success, client_ref, provider_ref, error_detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		rec.CampaignID, rec.ItemID, rec.Channel, rec.Success,
		rec.ClientRef, rec.ProviderRef, rec.ErrorDetail, rec.CreatedAt,
	).Scan(&rec.ID)
}

func (r *ExecutionLogRepository) ListByCampaign(campaignID, offset, limit int) ([]*model.ExecutionRecord, int, error) {
	query := `
        SELECT id, campaign_id, item_id, channel, success, client_ref, provider_ref, error_detail, created_at
        FROM execution_records
        WHERE campaign_id=$1
        ORDER BY id DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.DB.Query(query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []*model.ExecutionRecord{}
	for rows.Next() {
		rec := &model.ExecutionRecord{}
		var providerRef, errorDetail sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.ItemID, &rec.Channel, &rec.Success,
			&rec.ClientRef, &providerRef, &errorDetail, &rec.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		rec.ProviderRef = providerRef.String
		rec.ErrorDetail = errorDetail.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM execution_records WHERE campaign_id=$1`, campaignID).Scan(&total); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

var _ ExecutionLogRepositoryInterface = (*ExecutionLogRepository)(nil)
