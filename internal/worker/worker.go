package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dialwave/dialwave-backend/internal/dispatch"
	"github.com/dialwave/dialwave-backend/internal/model"
)

// CampaignStore defines the campaign-level operations the worker needs.
type CampaignStore interface {
	ListRunning() ([]*model.Campaign, error)
	ApplyDelta(campaignID int, d model.StatsDelta) error
	SyncStats(campaignID int, counts model.StatusCounts) error
	SetLastError(campaignID int, msg string) error
}

// ItemStore defines the item-level operations the worker needs.
type ItemStore interface {
	AcquireBatch(campaignID, limit int) ([]*model.CampaignItem, error)
	Resolve(itemID int, status model.ItemStatus, providerRef, failReason string) (bool, error)
	Release(itemID int) (bool, error)
	ResetStaleInProgress(campaignID int) (int64, error)
	CountByStatus(campaignID int) (model.StatusCounts, error)
}

// ExecutionLog records every dispatch attempt.
type ExecutionLog interface {
	Append(rec *model.ExecutionRecord) error
}

type Config struct {
	TickInterval  time.Duration
	BatchSize     int
	BatchesPerSec float64
}

// Worker drives running campaigns to completion: it leases bounded batches
// of pending items, fans them out to the channel dispatcher, persists
// outcomes and keeps the campaign counters consistent. One Worker instance
// runs per data store.
type Worker struct {
	Campaigns     CampaignStore
	Items         ItemStore
	ExecLog       ExecutionLog
	DispatcherFor func(ch model.Channel) (dispatch.Dispatcher, error)
	Limiter       *rate.Limiter
	Config        Config
}

func New(campaigns CampaignStore, items ItemStore, execLog ExecutionLog, deps dispatch.Deps, cfg Config) *Worker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchesPerSec <= 0 {
		cfg.BatchesPerSec = 1.0
	}

	return &Worker{
		Campaigns: campaigns,
		Items:     items,
		ExecLog:   execLog,
		DispatcherFor: func(ch model.Channel) (dispatch.Dispatcher, error) {
			return dispatch.ForChannel(ch, deps)
		},
		Limiter: rate.NewLimiter(rate.Limit(cfg.BatchesPerSec), 1),
		Config:  cfg,
	}
}

// Recover reclaims leases orphaned by a previous process death and rebuilds
// the campaign counters from item-level truth. Must run before the first
// tick. Safe because items that finished before the crash are terminal and
// untouched; at-least-once delivery is the accepted semantics for items
// that were mid-dispatch.
func (w *Worker) Recover() error {
	campaigns, err := w.Campaigns.ListRunning()
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		n, err := w.Items.ResetStaleInProgress(c.ID)
		if err != nil {
			return fmt.Errorf("reset stale items for campaign %d: %w", c.ID, err)
		}
		if n > 0 {
			log.Printf("♻️ campaign %d: reclaimed %d orphaned leases", c.ID, n)
		}

		counts, err := w.Items.CountByStatus(c.ID)
		if err != nil {
			return err
		}
		if err := w.Campaigns.SyncStats(c.ID, counts); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks on a fixed interval until ctx is cancelled. The in-flight batch
// is joined before Tick returns, so cancellation waits for it.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Config.TickInterval)
	defer ticker.Stop()

	log.Println("🚀 Campaign worker running, tick interval:", w.Config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Campaign worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one full discovery/lease/dispatch/reconcile pass. Exported so
// tests can drive the worker synchronously instead of sleeping.
func (w *Worker) Tick(ctx context.Context) {
	campaigns, err := w.Campaigns.ListRunning()
	if err != nil {
		log.Println("⚠️ failed to list running campaigns:", err)
		return
	}

	for _, c := range campaigns {
		if ctx.Err() != nil {
			return
		}
		if err := w.processCampaign(ctx, c); err != nil {
			log.Printf("⚠️ campaign %d: batch aborted: %v", c.ID, err)
		}
	}
}

func (w *Worker) processCampaign(ctx context.Context, c *model.Campaign) error {
	dispatcher, err := w.DispatcherFor(c.Channel)
	if err != nil {
		return err
	}

	items, err := w.Items.AcquireBatch(c.ID, w.Config.BatchSize)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		counts, err := w.Items.CountByStatus(c.ID)
		if err != nil {
			return err
		}
		if counts.Pending == 0 && counts.InProgress == 0 {
			// zero-movement delta lets the store flip running -> completed
			return w.Campaigns.ApplyDelta(c.ID, model.StatsDelta{})
		}
		// leases still outstanding from an earlier tick, nothing to do
		return nil
	}

	if err := w.Campaigns.ApplyDelta(c.ID, model.StatsDelta{Pending: -len(items), InProgress: len(items)}); err != nil {
		return err
	}

	if err := w.Limiter.Wait(ctx); err != nil {
		w.releaseAll(c, items)
		return err
	}

	// Parallel fan-out: batch size is the concurrency bound. A campaign-fatal
	// outcome cancels the group context so unstarted siblings skip dispatch
	// and go back to pending.
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return w.dispatchOne(gctx, c, dispatcher, item)
		})
	}

	if err := g.Wait(); err != nil {
		if lastErr := w.Campaigns.SetLastError(c.ID, err.Error()); lastErr != nil {
			log.Printf("⚠️ campaign %d: failed to record last error: %v", c.ID, lastErr)
		}
		return err
	}
	return nil
}

// dispatchOne performs one attempt and reconciles it. Per-item failures are
// contained here; only a campaign-fatal outcome propagates an error.
func (w *Worker) dispatchOne(ctx context.Context, c *model.Campaign, d dispatch.Dispatcher, item *model.CampaignItem) error {
	if ctx.Err() != nil {
		// a sibling hit a campaign-fatal error, skip the attempt entirely
		w.releaseItem(c, item)
		return nil
	}

	outcome := d.Dispatch(ctx, c, item)

	rec := &model.ExecutionRecord{
		CampaignID:  c.ID,
		ItemID:      item.ID,
		Channel:     c.Channel,
		Success:     outcome.OK,
		ClientRef:   outcome.ClientRef,
		ProviderRef: outcome.ProviderRef,
		ErrorDetail: outcome.Reason,
	}
	if err := w.ExecLog.Append(rec); err != nil {
		log.Printf("⚠️ item %d: failed to append execution record: %v", item.ID, err)
	}

	switch {
	case outcome.OK:
		w.resolveItem(c, item, model.ItemSent, outcome.ProviderRef, "")
	case outcome.Fatal:
		w.releaseItem(c, item)
		return fmt.Errorf("fatal dispatch error: %s", outcome.Reason)
	case outcome.Retryable:
		// transient: back to pending, retried on a later tick
		w.releaseItem(c, item)
	default:
		w.resolveItem(c, item, model.ItemFailed, "", outcome.Reason)
	}
	return nil
}

func (w *Worker) resolveItem(c *model.Campaign, item *model.CampaignItem, status model.ItemStatus, providerRef, failReason string) {
	ok, err := w.Items.Resolve(item.ID, status, providerRef, failReason)
	if err != nil {
		log.Printf("⚠️ item %d: failed to resolve: %v", item.ID, err)
		return
	}
	if !ok {
		log.Printf("item %d already resolved, skipping", item.ID)
		return
	}

	delta := model.StatsDelta{InProgress: -1}
	if status == model.ItemSent {
		delta.Sent = 1
	} else {
		delta.Failed = 1
	}
	if err := w.Campaigns.ApplyDelta(c.ID, delta); err != nil {
		log.Printf("⚠️ campaign %d: failed to apply delta: %v", c.ID, err)
	}
}

func (w *Worker) releaseItem(c *model.Campaign, item *model.CampaignItem) {
	ok, err := w.Items.Release(item.ID)
	if err != nil {
		log.Printf("⚠️ item %d: failed to release: %v", item.ID, err)
		return
	}
	if !ok {
		return
	}
	if err := w.Campaigns.ApplyDelta(c.ID, model.StatsDelta{Pending: 1, InProgress: -1}); err != nil {
		log.Printf("⚠️ campaign %d: failed to apply delta: %v", c.ID, err)
	}
}

func (w *Worker) releaseAll(c *model.Campaign, items []*model.CampaignItem) {
	for _, item := range items {
		w.releaseItem(c, item)
	}
}
