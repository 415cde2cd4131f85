package model

import "time"

// ExecutionRecord is one dispatch attempt. Records are append-only and never
// mutated; they are the audit trail behind the campaign stats.
type ExecutionRecord struct {
	ID          int64     `db:"id" json:"id"`
	CampaignID  int       `db:"campaign_id" json:"campaign_id"`
	ItemID      int       `db:"item_id" json:"item_id"`
	Channel     Channel   `db:"channel" json:"channel"`
	Success     bool      `db:"success" json:"success"`
	ClientRef   string    `db:"client_ref" json:"client_ref"`
	ProviderRef string    `db:"provider_ref" json:"provider_ref,omitempty"`
	ErrorDetail string    `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
