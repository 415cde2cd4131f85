package model

import "time"

// Channel is the outbound channel a campaign sends over.
type Channel string

const (
	ChannelVoice    Channel = "voice"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// ValidChannel reports whether ch is one of the supported channels.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelVoice, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusFailed    CampaignStatus = "failed"
)

type Campaign struct {
	ID              int            `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Channel         Channel        `db:"channel" json:"channel"`
	Status          CampaignStatus `db:"status" json:"status"`
	SenderID        string         `db:"sender_id" json:"sender_id"`
	MessageTemplate string         `db:"message_template" json:"message_template,omitempty"`
	PromptRef       string         `db:"prompt_ref" json:"prompt_ref,omitempty"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`

	Total           int     `db:"total" json:"total"`
	Pending         int     `db:"pending" json:"pending"`
	InProgress      int     `db:"in_progress" json:"in_progress"`
	Sent            int     `db:"sent" json:"sent"`
	Failed          int     `db:"failed" json:"failed"`
	ProgressPercent float64 `db:"progress_percent" json:"progress_percent"`

	LastError string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// StatsDelta is a set of counter movements applied atomically to a campaign.
type StatsDelta struct {
	Pending    int
	InProgress int
	Sent       int
	Failed     int
}

// StatusCounts is the item-level truth for a campaign, keyed by item status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

func (c StatusCounts) Total() int {
	return c.Pending + c.InProgress + c.Sent + c.Failed
}
