package model

import "time"

// ItemStatus is the state of a single recipient's unit of work.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemSent       ItemStatus = "sent"
	ItemFailed     ItemStatus = "failed"
)

// CampaignItem is one recipient inside a campaign. The in_progress status
// plus LeasedAt acts as the worker's lease on the item.
type CampaignItem struct {
	ID          int        `db:"id" json:"id"`
	CampaignID  int        `db:"campaign_id" json:"campaign_id"`
	Phone       string     `db:"phone" json:"phone"`
	Status      ItemStatus `db:"status" json:"status"`
	LeasedAt    *time.Time `db:"leased_at" json:"leased_at,omitempty"`
	ProviderRef string     `db:"provider_ref" json:"provider_ref,omitempty"`
	FailReason  string     `db:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
