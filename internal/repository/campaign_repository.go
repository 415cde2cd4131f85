package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/dialwave/dialwave-backend/internal/errors"
	"github.com/dialwave/dialwave-backend/internal/model"
)

// CampaignRepositoryInterface is the campaign store: creation with items in
// one transaction, conditional status transitions, and atomic stat deltas.
type CampaignRepositoryInterface interface {
	CreateWithItems(c *model.Campaign, phones []string) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	ListRunning() ([]*model.Campaign, error)
	SetStatus(campaignID int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ApplyDelta(campaignID int, d model.StatsDelta) error
	SyncStats(campaignID int, counts model.StatusCounts) error
	SetLastError(campaignID int, msg string) error
	SoftDelete(campaignID int) error
	PromoteDue() (int64, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, channel, status, sender_id, message_template, prompt_ref, scheduled_at,
        total, pending, in_progress, sent, failed, progress_percent, last_error, created_at, updated_at`

// CreateWithItems inserts the campaign and its items in one transaction so
// a partially-created campaign can never become running-eligible.
func (r *CampaignRepository) CreateWithItems(c *model.Campaign, phones []string) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	c.Total = len(phones)
	c.Pending = len(phones)

	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns (name, channel, status, sender_id, message_template, prompt_ref, scheduled_at,
                               total, pending, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	err = tx.QueryRow(query,
		c.Name, c.Channel, c.Status, c.SenderID, c.MessageTemplate, c.PromptRef, c.ScheduledAt,
		c.Total, c.Pending, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return err
	}

	if len(phones) > 0 {
		values := make([]string, 0, len(phones))
		args := make([]interface{}, 0, len(phones)+1)
		args = append(args, c.ID)
		for i, phone := range phones {
			values = append(values, fmt.Sprintf("($1, $%d, 'pending', NOW())", i+2))
			args = append(args, phone)
		}
		itemQuery := `INSERT INTO campaign_items (campaign_id, phone, status, created_at) VALUES ` + strings.Join(values, ", ")
		if _, err := tx.Exec(itemQuery, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id=$1 AND deleted_at IS NULL`, campaignColumns)
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE deleted_at IS NULL`, campaignColumns)
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE deleted_at IS NULL`
	argsCount := []interface{}{}
	argPosCount := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListRunning discovers the worker's candidates. Soft-deleted campaigns are
// invisible here, which is what makes delete safe while running.
func (r *CampaignRepository) ListRunning() ([]*model.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE status='running' AND deleted_at IS NULL ORDER BY id`, campaignColumns)
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// SetStatus performs a compare-and-swap transition: the update applies only
// if the current status is one of from. Returns false when the swap lost.
func (r *CampaignRepository) SetStatus(campaignID int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := `
        UPDATE campaigns
        SET status=$2, updated_at=NOW()
        WHERE id=$1 AND status = ANY($3) AND deleted_at IS NULL
    `
	res, err := r.DB.Exec(query, campaignID, to, pq.Array(fromStrs))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApplyDelta moves the stat counters and recomputes progress in a single
// update. When the movement drains pending and in_progress to zero, the
// same statement flips running to completed.
func (r *CampaignRepository) ApplyDelta(campaignID int, d model.StatsDelta) error {
	query := `
        UPDATE campaigns
        SET pending     = pending + $2,
            in_progress = in_progress + $3,
            sent        = sent + $4,
            failed      = failed + $5,
            progress_percent = CASE WHEN total > 0
                THEN ROUND((sent + $4 + failed + $5)::numeric / total * 100, 1)
                ELSE 0 END,
            status = CASE WHEN status='running' AND pending + $2 = 0 AND in_progress + $3 = 0
                THEN 'completed' ELSE status END,
            updated_at = NOW()
        WHERE id=$1 AND deleted_at IS NULL
    `
	_, err := r.DB.Exec(query, campaignID, d.Pending, d.InProgress, d.Sent, d.Failed)
	return err
}

// SyncStats overwrites the counters from item-level truth. Only used by
// crash recovery, where increments cannot be trusted.
func (r *CampaignRepository) SyncStats(campaignID int, counts model.StatusCounts) error {
	query := `
        UPDATE campaigns
        SET pending     = $2,
            in_progress = $3,
            sent        = $4,
            failed      = $5,
            progress_percent = CASE WHEN total > 0
                THEN ROUND(($4 + $5)::numeric / total * 100, 1)
                ELSE 0 END,
            updated_at = NOW()
        WHERE id=$1 AND deleted_at IS NULL
    `
	_, err := r.DB.Exec(query, campaignID, counts.Pending, counts.InProgress, counts.Sent, counts.Failed)
	return err
}

func (r *CampaignRepository) SetLastError(campaignID int, msg string) error {
	query := `UPDATE campaigns SET last_error=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	_, err := r.DB.Exec(query, campaignID, msg)
	return err
}

func (r *CampaignRepository) SoftDelete(campaignID int) error {
	query := `UPDATE campaigns SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	res, err := r.DB.Exec(query, campaignID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

// PromoteDue flips scheduled campaigns whose time has come to running.
// Called by the cron job in the server process.
func (r *CampaignRepository) PromoteDue() (int64, error) {
	query := `
        UPDATE campaigns
        SET status='running', updated_at=NOW()
        WHERE status='scheduled' AND scheduled_at <= NOW() AND deleted_at IS NULL
    `
	res, err := r.DB.Exec(query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	c := &model.Campaign{}
	var messageTemplate, promptRef, lastError sql.NullString
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.Status, &c.SenderID,
		&messageTemplate, &promptRef, &c.ScheduledAt,
		&c.Total, &c.Pending, &c.InProgress, &c.Sent, &c.Failed,
		&c.ProgressPercent, &lastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.MessageTemplate = messageTemplate.String
	c.PromptRef = promptRef.String
	c.LastError = lastError.String
	return c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
