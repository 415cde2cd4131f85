// internal/service/campaign_service.go
package service

import (
	"fmt"
	"time"

	appErrors "github.com/dialwave/dialwave-backend/internal/errors"
	"github.com/dialwave/dialwave-backend/internal/model"
	"github.com/dialwave/dialwave-backend/internal/phone"
	"github.com/dialwave/dialwave-backend/internal/repository"
)

// CampaignService is the command surface the API layer exposes over the
// engine: create, start, pause, delete and progress reads. Item status is
// never written here; that belongs to the worker alone.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	ItemRepo      repository.ItemRepositoryInterface
	ExecLogRepo   repository.ExecutionLogRepositoryInterface
	DefaultRegion string
}

type CreateCampaignInput struct {
	Name            string   `json:"name"`
	Channel         string   `json:"channel"`
	SenderID        string   `json:"sender_id"`
	MessageTemplate string   `json:"message_template"`
	PromptRef       string   `json:"prompt_ref"`
	ScheduledAt     *string  `json:"scheduled_at,omitempty"`
	Recipients      []string `json:"recipients"`
}

// Progress is the read-only snapshot surfaced to the dashboard.
type Progress struct {
	CampaignID      int                  `json:"campaign_id"`
	Status          model.CampaignStatus `json:"status"`
	Total           int                  `json:"total"`
	Pending         int                  `json:"pending"`
	InProgress      int                  `json:"in_progress"`
	Sent            int                  `json:"sent"`
	Failed          int                  `json:"failed"`
	ProgressPercent float64              `json:"progress_percent"`
	LastError       string               `json:"last_error,omitempty"`
}

// CreateCampaign validates the request, normalizes every recipient to E.164
// and inserts the campaign together with its items in one unit.
func (s *CampaignService) CreateCampaign(in CreateCampaignInput) (*model.Campaign, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("campaign name is required")
	}

	channel := model.Channel(in.Channel)
	if !model.ValidChannel(channel) {
		return nil, fmt.Errorf("unsupported channel: %q", in.Channel)
	}
	if in.SenderID == "" {
		return nil, fmt.Errorf("sender identity is required")
	}

	switch channel {
	case model.ChannelVoice:
		if in.PromptRef == "" {
			return nil, fmt.Errorf("voice campaigns require a prompt reference")
		}
	default:
		if in.MessageTemplate == "" {
			return nil, fmt.Errorf("%s campaigns require a message template", channel)
		}
	}

	if len(in.Recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	phones := make([]string, 0, len(in.Recipients))
	seen := map[string]bool{}
	for _, raw := range in.Recipients {
		normalized, err := phone.Normalize(raw, s.DefaultRegion)
		if err != nil {
			return nil, appErrors.NewInvalidRecipient(raw, err.Error())
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		phones = append(phones, normalized)
	}

	c := &model.Campaign{
		Name:            in.Name,
		Channel:         channel,
		SenderID:        in.SenderID,
		MessageTemplate: in.MessageTemplate,
		PromptRef:       in.PromptRef,
		Status:          model.StatusDraft,
	}

	if in.ScheduledAt != nil && *in.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled_at: %w", err)
		}
		c.ScheduledAt = &t
		c.Status = model.StatusScheduled
	}

	if err := s.CampaignRepo.CreateWithItems(c, phones); err != nil {
		return nil, err
	}

	return c, nil
}

// StartCampaign moves draft, scheduled or paused campaigns to running.
func (s *CampaignService) StartCampaign(id int) error {
	return s.transition(id,
		[]model.CampaignStatus{model.StatusDraft, model.StatusScheduled, model.StatusPaused},
		model.StatusRunning)
}

// PauseCampaign stops new leasing at the next tick boundary. Items already
// leased by the worker are dispatched to completion.
func (s *CampaignService) PauseCampaign(id int) error {
	return s.transition(id,
		[]model.CampaignStatus{model.StatusRunning},
		model.StatusPaused)
}

func (s *CampaignService) transition(id int, from []model.CampaignStatus, to model.CampaignStatus) error {
	ok, err := s.CampaignRepo.SetStatus(id, from, to)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// the swap lost; distinguish missing campaign from a bad from-state
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidTransition(id, string(c.Status), string(to))
}

// DeleteCampaign soft-deletes. Safe while running: the worker's ListRunning
// no longer sees the campaign on its next tick.
func (s *CampaignService) DeleteCampaign(id int) error {
	return s.CampaignRepo.SoftDelete(id)
}

func (s *CampaignService) GetProgress(id int) (*Progress, error) {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return nil, err
	}

	return &Progress{
		CampaignID:      c.ID,
		Status:          c.Status,
		Total:           c.Total,
		Pending:         c.Pending,
		InProgress:      c.InProgress,
		Sent:            c.Sent,
		Failed:          c.Failed,
		ProgressPercent: c.ProgressPercent,
		LastError:       c.LastError,
	}, nil
}

func (s *CampaignService) GetCampaignDetails(id int) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(id)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// ListItems pages through a campaign's items. Read-only; item status writes
// belong to the worker.
func (s *CampaignService) ListItems(campaignID, page, pageSize int) ([]*model.CampaignItem, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	offset := (page - 1) * pageSize

	items, total, err := s.ItemRepo.ListByCampaign(campaignID, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return items, pagination, nil
}

// ListExecutions pages through the execution log for diagnostics.
func (s *CampaignService) ListExecutions(campaignID, page, pageSize int) ([]*model.ExecutionRecord, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	offset := (page - 1) * pageSize

	records, total, err := s.ExecLogRepo.ListByCampaign(campaignID, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return records, pagination, nil
}
