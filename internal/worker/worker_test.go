package worker_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dialwave/dialwave-backend/internal/dispatch"
	"github.com/dialwave/dialwave-backend/internal/model"
	"github.com/dialwave/dialwave-backend/internal/worker"
)

// memStore is an in-memory stand-in for the campaign and item repositories.
// It reproduces the conditional transitions of the SQL layer (lease CAS,
// resolve guarded by in_progress, completion flip inside ApplyDelta) so the
// worker can be exercised without a database.
type memStore struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	items     map[int]*model.CampaignItem
	nextItem  int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[int]*model.Campaign{},
		items:     map[int]*model.CampaignItem{},
		nextItem:  1,
	}
}

func (s *memStore) addCampaign(id int, ch model.Channel, status model.CampaignStatus, recipients int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.campaigns[id] = &model.Campaign{
		ID:       id,
		Name:     fmt.Sprintf("campaign-%d", id),
		Channel:  ch,
		Status:   status,
		SenderID: "+15550001111",
		Total:    recipients,
		Pending:  recipients,
	}
	for i := 0; i < recipients; i++ {
		itemID := s.nextItem
		s.nextItem++
		s.items[itemID] = &model.CampaignItem{
			ID:         itemID,
			CampaignID: id,
			Phone:      fmt.Sprintf("+1555123%04d", itemID),
			Status:     model.ItemPending,
		}
	}
}

func (s *memStore) setStatus(id int, status model.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *memStore) campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

// --- worker.CampaignStore ---

func (s *memStore) ListRunning() ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Status == model.StatusRunning && c.DeletedAt == nil {
			copied := *c
			running = append(running, &copied)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].ID < running[j].ID })
	return running, nil
}

func (s *memStore) ApplyDelta(campaignID int, d model.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.campaigns[campaignID]
	c.Pending += d.Pending
	c.InProgress += d.InProgress
	c.Sent += d.Sent
	c.Failed += d.Failed
	if c.Total > 0 {
		c.ProgressPercent = float64(c.Sent+c.Failed) / float64(c.Total) * 100
	}
	if c.Status == model.StatusRunning && c.Pending == 0 && c.InProgress == 0 {
		c.Status = model.StatusCompleted
	}
	return nil
}

func (s *memStore) SyncStats(campaignID int, counts model.StatusCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.campaigns[campaignID]
	c.Pending = counts.Pending
	c.InProgress = counts.InProgress
	c.Sent = counts.Sent
	c.Failed = counts.Failed
	if c.Total > 0 {
		c.ProgressPercent = float64(c.Sent+c.Failed) / float64(c.Total) * 100
	}
	return nil
}

func (s *memStore) SetLastError(campaignID int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[campaignID].LastError = msg
	return nil
}

// --- worker.ItemStore ---

func (s *memStore) AcquireBatch(campaignID, limit int) ([]*model.CampaignItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []int{}
	for id, item := range s.items {
		if item.CampaignID == campaignID && item.Status == model.ItemPending {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	leased := []*model.CampaignItem{}
	now := time.Now()
	for _, id := range ids {
		if len(leased) == limit {
			break
		}
		item := s.items[id]
		item.Status = model.ItemInProgress
		item.LeasedAt = &now
		copied := *item
		leased = append(leased, &copied)
	}
	return leased, nil
}

func (s *memStore) Resolve(itemID int, status model.ItemStatus, providerRef, failReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.items[itemID]
	if item.Status != model.ItemInProgress {
		return false, nil
	}
	item.Status = status
	item.ProviderRef = providerRef
	item.FailReason = failReason
	return true, nil
}

func (s *memStore) Release(itemID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.items[itemID]
	if item.Status != model.ItemInProgress {
		return false, nil
	}
	item.Status = model.ItemPending
	item.LeasedAt = nil
	return true, nil
}

func (s *memStore) ResetStaleInProgress(campaignID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, item := range s.items {
		if item.CampaignID == campaignID && item.Status == model.ItemInProgress {
			item.Status = model.ItemPending
			item.LeasedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountByStatus(campaignID int) (model.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts model.StatusCounts
	for _, item := range s.items {
		if item.CampaignID != campaignID {
			continue
		}
		switch item.Status {
		case model.ItemPending:
			counts.Pending++
		case model.ItemInProgress:
			counts.InProgress++
		case model.ItemSent:
			counts.Sent++
		case model.ItemFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// memLog collects execution records.
type memLog struct {
	mu      sync.Mutex
	records []*model.ExecutionRecord
}

func (l *memLog) Append(rec *model.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *memLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// scriptedDispatcher returns the outcome decided by fn for each item.
type scriptedDispatcher struct {
	mu    sync.Mutex
	fn    func(item *model.CampaignItem) dispatch.Outcome
	calls int
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, c *model.Campaign, item *model.CampaignItem) dispatch.Outcome {
	d.mu.Lock()
	d.calls++
	fn := d.fn
	d.mu.Unlock()
	return fn(item)
}

func (d *scriptedDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func allSuccess(item *model.CampaignItem) dispatch.Outcome {
	return dispatch.Success("client-ref", "prov-"+item.Phone)
}

func newTestWorker(store *memStore, execLog *memLog, d dispatch.Dispatcher, batchSize int) *worker.Worker {
	return &worker.Worker{
		Campaigns: store,
		Items:     store,
		ExecLog:   execLog,
		DispatcherFor: func(ch model.Channel) (dispatch.Dispatcher, error) {
			return d, nil
		},
		Limiter: rate.NewLimiter(rate.Inf, 0),
		Config:  worker.Config{TickInterval: time.Second, BatchSize: batchSize},
	}
}

// checkInvariant asserts pending+in_progress+sent+failed == total, both on
// the campaign counters and on the underlying items.
func checkInvariant(t *testing.T, store *memStore, campaignID int) {
	t.Helper()

	c := store.campaign(campaignID)
	assert.Equal(t, c.Total, c.Pending+c.InProgress+c.Sent+c.Failed,
		"campaign counters must sum to total")

	counts, err := store.CountByStatus(campaignID)
	require.NoError(t, err)
	assert.Equal(t, c.Total, counts.Total(), "item statuses must sum to total")
	assert.Equal(t, counts.Pending, c.Pending)
	assert.Equal(t, counts.Sent, c.Sent)
	assert.Equal(t, counts.Failed, c.Failed)
}

func TestCompletionConvergence(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 25)
	execLog := &memLog{}
	w := newTestWorker(store, execLog, &scriptedDispatcher{fn: allSuccess}, 10)

	ctx := context.Background()

	w.Tick(ctx)
	c := store.campaign(1)
	assert.Equal(t, 10, c.Sent)
	assert.Equal(t, 15, c.Pending)
	checkInvariant(t, store, 1)

	w.Tick(ctx)
	c = store.campaign(1)
	assert.Equal(t, 20, c.Sent)
	assert.Equal(t, 5, c.Pending)
	checkInvariant(t, store, 1)

	w.Tick(ctx)
	c = store.campaign(1)
	assert.Equal(t, 25, c.Sent)
	assert.Equal(t, 0, c.Pending)
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.Equal(t, 100.0, c.ProgressPercent)
	checkInvariant(t, store, 1)

	assert.Equal(t, 25, execLog.count(), "one execution record per attempt")
}

func TestPauseStopsLeasingAtTickBoundary(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 25)
	execLog := &memLog{}
	d := &scriptedDispatcher{fn: allSuccess}
	w := newTestWorker(store, execLog, d, 10)

	ctx := context.Background()

	w.Tick(ctx)
	assert.Equal(t, 10, store.campaign(1).Sent)

	store.setStatus(1, model.StatusPaused)
	checkInvariant(t, store, 1)

	w.Tick(ctx)
	w.Tick(ctx)
	c := store.campaign(1)
	assert.Equal(t, 10, c.Sent, "no dispatches while paused")
	assert.Equal(t, 15, c.Pending)
	assert.Equal(t, 10, d.callCount())

	// resume: leasing continues from the remaining pending items
	store.setStatus(1, model.StatusRunning)
	w.Tick(ctx)
	w.Tick(ctx)
	c = store.campaign(1)
	assert.Equal(t, 25, c.Sent)
	assert.Equal(t, model.StatusCompleted, c.Status)
	checkInvariant(t, store, 1)
}

func TestPauseDoesNotCancelLeasedBatch(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 25)
	execLog := &memLog{}

	// pause lands while the batch is mid-dispatch; the leased items must
	// still resolve normally
	var once sync.Once
	d := &scriptedDispatcher{}
	d.fn = func(item *model.CampaignItem) dispatch.Outcome {
		once.Do(func() { store.setStatus(1, model.StatusPaused) })
		return allSuccess(item)
	}
	w := newTestWorker(store, execLog, d, 10)

	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, model.StatusPaused, c.Status)
	assert.Equal(t, 10, c.Sent)
	assert.Equal(t, 15, c.Pending)
	assert.Equal(t, 0, c.InProgress)
	checkInvariant(t, store, 1)
}

func TestRecoveryReclaimsOrphanedLeases(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelVoice, model.StatusRunning, 12)
	execLog := &memLog{}

	// simulate a crash: 7 items were leased and the counters moved, then
	// the process died before any resolution
	leased, err := store.AcquireBatch(1, 7)
	require.NoError(t, err)
	require.Len(t, leased, 7)
	require.NoError(t, store.ApplyDelta(1, model.StatsDelta{Pending: -7, InProgress: 7}))

	w := newTestWorker(store, execLog, &scriptedDispatcher{fn: allSuccess}, 10)
	require.NoError(t, w.Recover())

	counts, err := store.CountByStatus(1)
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Pending, "all leases reclaimed")
	assert.Equal(t, 0, counts.InProgress)
	assert.Equal(t, 0, counts.Sent)
	assert.Equal(t, 0, counts.Failed)

	c := store.campaign(1)
	assert.Equal(t, model.StatusRunning, c.Status, "recovery never changes campaign status")
	checkInvariant(t, store, 1)

	// subsequent ticks drive the reclaimed items to completion
	ctx := context.Background()
	w.Tick(ctx)
	w.Tick(ctx)
	c = store.campaign(1)
	assert.Equal(t, 12, c.Sent)
	assert.Equal(t, model.StatusCompleted, c.Status)
	checkInvariant(t, store, 1)
}

func TestRecoveryNeverTouchesTerminalItems(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 10)
	execLog := &memLog{}
	w := newTestWorker(store, execLog, &scriptedDispatcher{fn: allSuccess}, 5)

	w.Tick(context.Background())
	require.Equal(t, 5, store.campaign(1).Sent)

	// orphan the next batch
	_, err := store.AcquireBatch(1, 3)
	require.NoError(t, err)

	require.NoError(t, w.Recover())

	counts, err := store.CountByStatus(1)
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Sent, "sent items stay sent through recovery")
	assert.Equal(t, 5, counts.Pending)
	assert.Equal(t, 0, counts.InProgress)
	checkInvariant(t, store, 1)
}

func TestDuplicateResolutionIsNoop(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 1)
	execLog := &memLog{}

	// the item gets resolved out from under the worker mid-dispatch,
	// simulating duplicate processing; the worker's own resolve must then
	// be a no-op and the counters must not double-count
	d := &scriptedDispatcher{}
	d.fn = func(item *model.CampaignItem) dispatch.Outcome {
		ok, err := store.Resolve(item.ID, model.ItemSent, "prov-first", "")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.ApplyDelta(1, model.StatsDelta{InProgress: -1, Sent: 1}))
		return dispatch.Success("client-ref", "prov-second")
	}
	w := newTestWorker(store, execLog, d, 10)

	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, 1, c.Sent, "second resolution must not double-count")
	assert.Equal(t, 0, c.Pending)
	assert.Equal(t, 0, c.InProgress)
	checkInvariant(t, store, 1)

	counts, _ := store.CountByStatus(1)
	assert.Equal(t, 1, counts.Sent)
}

func TestTransientFailureLeavesItemPending(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 3)
	execLog := &memLog{}

	d := &scriptedDispatcher{fn: func(item *model.CampaignItem) dispatch.Outcome {
		return dispatch.Failure("client-ref", "provider returned 429 (rate_limited): slow down", true)
	}}
	w := newTestWorker(store, execLog, d, 10)

	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, 3, c.Pending, "transient failures go back to pending")
	assert.Equal(t, 0, c.Failed)
	assert.Equal(t, 0, c.Sent)
	assert.Equal(t, model.StatusRunning, c.Status)
	checkInvariant(t, store, 1)

	assert.Equal(t, 3, execLog.count(), "attempts are logged even when retried")

	// provider recovered: the same items complete on a later tick
	d.mu.Lock()
	d.fn = allSuccess
	d.mu.Unlock()
	w.Tick(context.Background())
	c = store.campaign(1)
	assert.Equal(t, 3, c.Sent)
	assert.Equal(t, model.StatusCompleted, c.Status)
	checkInvariant(t, store, 1)
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 4)
	execLog := &memLog{}

	// two numbers are unreachable, the rest succeed
	d := &scriptedDispatcher{fn: func(item *model.CampaignItem) dispatch.Outcome {
		if item.ID%2 == 0 {
			return dispatch.Failure("client-ref", "provider returned 400 (invalid_number): unreachable", false)
		}
		return allSuccess(item)
	}}
	w := newTestWorker(store, execLog, d, 10)

	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, 2, c.Sent)
	assert.Equal(t, 2, c.Failed)
	assert.Equal(t, model.StatusCompleted, c.Status, "failed items still complete the campaign")
	assert.Equal(t, 100.0, c.ProgressPercent)
	checkInvariant(t, store, 1)

	// one failure must not have prevented resolution of its siblings
	assert.Equal(t, 4, d.callCount())
}

func TestFatalErrorAbortsBatchWithoutFailingItems(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelVoice, model.StatusRunning, 10)
	execLog := &memLog{}

	d := &scriptedDispatcher{fn: func(item *model.CampaignItem) dispatch.Outcome {
		return dispatch.FatalFailure("client-ref", "provider returned 401 (bad_credentials): sender rejected")
	}}
	w := newTestWorker(store, execLog, d, 10)

	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, 0, c.Failed, "a provider outage must not mass-fail the campaign")
	assert.Equal(t, 0, c.Sent)
	assert.Equal(t, 10, c.Pending, "aborted items return to pending for a later tick")
	assert.Equal(t, model.StatusRunning, c.Status)
	assert.Contains(t, c.LastError, "bad_credentials")
	checkInvariant(t, store, 1)
}

func TestEmptyBatchWithOutstandingLeasesIsNoop(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 5)
	execLog := &memLog{}

	// every item is leased by a prior tick still being dispatched
	_, err := store.AcquireBatch(1, 5)
	require.NoError(t, err)
	require.NoError(t, store.ApplyDelta(1, model.StatsDelta{Pending: -5, InProgress: 5}))

	d := &scriptedDispatcher{fn: allSuccess}
	w := newTestWorker(store, execLog, d, 10)
	w.Tick(context.Background())

	c := store.campaign(1)
	assert.Equal(t, model.StatusRunning, c.Status, "campaign with outstanding leases is not completed")
	assert.Equal(t, 5, c.InProgress)
	assert.Equal(t, 0, d.callCount())
}

func TestLeaseExclusivityUnderConcurrency(t *testing.T) {
	store := newMemStore()
	store.addCampaign(1, model.ChannelSMS, model.StatusRunning, 50)

	var mu sync.Mutex
	leasedBy := map[int]int{}

	var wg sync.WaitGroup
	for caller := 0; caller < 10; caller++ {
		wg.Add(1)
		go func(caller int) {
			defer wg.Done()
			for {
				batch, err := store.AcquireBatch(1, 5)
				require.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, item := range batch {
					if _, taken := leasedBy[item.ID]; taken {
						t.Errorf("item %d leased twice", item.ID)
					}
					leasedBy[item.ID] = caller
				}
				mu.Unlock()
			}
		}(caller)
	}
	wg.Wait()

	assert.Len(t, leasedBy, 50, "every item leased exactly once")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	execLog := &memLog{}
	w := newTestWorker(store, execLog, &scriptedDispatcher{fn: allSuccess}, 10)
	w.Config.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
