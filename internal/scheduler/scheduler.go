package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"
)

// CampaignPromoter is the slice of the campaign store the scheduler needs.
type CampaignPromoter interface {
	PromoteDue() (int64, error)
}

// Scheduler promotes scheduled campaigns whose time has come to running.
// The worker picks them up on its next tick.
type Scheduler struct {
	cron      *cron.Cron
	campaigns CampaignPromoter
}

func New(campaigns CampaignPromoter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		campaigns: campaigns,
	}
}

func (s *Scheduler) Start() error {
	// every minute, cheap conditional update
	_, err := s.cron.AddFunc("* * * * *", s.PromoteDue)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Println("Campaign scheduler started")
	return nil
}

func (s *Scheduler) PromoteDue() {
	n, err := s.campaigns.PromoteDue()
	if err != nil {
		log.Println("⚠️ failed to promote scheduled campaigns:", err)
		return
	}
	if n > 0 {
		log.Printf("🕐 promoted %d scheduled campaign(s) to running", n)
	}
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
