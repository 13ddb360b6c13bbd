package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	defaultRetryCeiling  = 3
	defaultRetryAfterCap = 10 * time.Second
)

// Pacing spreads a broadcast out so the platform's flood limits are never
// hit in the first place. Zero values disable the delays.
type Pacing struct {
	RoomDelay      time.Duration
	RoomBatch      int
	RoomBatchPause time.Duration
	DMDelay        time.Duration
	DMBatch        int
	DMBatchPause   time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{
		RoomDelay:      100 * time.Millisecond,
		RoomBatch:      20,
		RoomBatchPause: time.Second,
		DMDelay:        150 * time.Millisecond,
		DMBatch:        15,
		DMBatchPause:   1500 * time.Millisecond,
	}
}

type BroadcastCounts struct {
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type BroadcastJob struct {
	ID         string          `json:"id"`
	Total      int             `json:"total"`
	Counts     BroadcastCounts `json:"counts"`
	Done       bool            `json:"done"`
	Cancelled  bool            `json:"cancelled"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

type broadcastRun struct {
	job    BroadcastJob
	cancel context.CancelFunc
}

// Dispatcher fans one payload out to every known room and then every known
// account. Each job runs as a cancellable background goroutine queryable by
// id. Permanent delivery failures are skipped, transient ones retried up to
// the ceiling with exponential backoff, honoring the platform's retry-after
// hint when one is supplied.
type Dispatcher struct {
	store  Store
	sender Sender

	pacing        Pacing
	retryCeiling  uint64
	retryAfterCap time.Duration

	mu   sync.Mutex
	jobs map[string]*broadcastRun
}

func NewDispatcher(store Store, sender Sender, pacing Pacing) *Dispatcher {
	return &Dispatcher{
		store:         store,
		sender:        sender,
		pacing:        pacing,
		retryCeiling:  defaultRetryCeiling,
		retryAfterCap: defaultRetryAfterCap,
		jobs:          make(map[string]*broadcastRun),
	}
}

// Start snapshots the recipient set and launches the delivery goroutine.
// The job id is returned immediately.
func (d *Dispatcher) Start(ctx context.Context, p Payload) (string, error) {
	recipients, err := d.recipients(ctx)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &broadcastRun{
		job: BroadcastJob{
			ID:        uuid.NewString(),
			Total:     len(recipients),
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}

	d.mu.Lock()
	d.jobs[run.job.ID] = run
	d.mu.Unlock()

	logger.Infof("broadcast started: job=%s recipients=%d", run.job.ID, len(recipients))
	go d.run(runCtx, run, recipients, p)
	return run.job.ID, nil
}

// recipients lists every known room, then every known account as a direct
// conversation, deduplicated with order preserved.
func (d *Dispatcher) recipients(ctx context.Context) ([]Recipient, error) {
	roomIDs, err := d.store.ListRoomIDs(ctx)
	if err != nil {
		return nil, err
	}
	accountIDs, err := d.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[Recipient]bool, len(roomIDs)+len(accountIDs))
	out := make([]Recipient, 0, len(roomIDs)+len(accountIDs))
	for _, id := range roomIDs {
		r := Recipient{ID: id}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, id := range accountIDs {
		r := Recipient{ID: id, Direct: true}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *Dispatcher) run(ctx context.Context, run *broadcastRun, recipients []Recipient, p Payload) {
	var roomsSent, dmsSent int
	for _, r := range recipients {
		if ctx.Err() != nil {
			break
		}

		err := d.deliverOne(ctx, r.ID, p)

		d.mu.Lock()
		switch {
		case err == nil:
			run.job.Counts.Delivered++
		case isPermanentDelivery(err):
			run.job.Counts.Skipped++
		default:
			run.job.Counts.Failed++
		}
		d.mu.Unlock()

		if err != nil && !isPermanentDelivery(err) {
			logger.Warningf("broadcast delivery failed: job=%s target=%s err=%v", run.job.ID, r.ID, err)
		}

		if r.Direct {
			dmsSent++
			d.pause(ctx, d.pacing.DMDelay, dmsSent, d.pacing.DMBatch, d.pacing.DMBatchPause)
		} else {
			roomsSent++
			d.pause(ctx, d.pacing.RoomDelay, roomsSent, d.pacing.RoomBatch, d.pacing.RoomBatchPause)
		}
	}

	d.mu.Lock()
	run.job.Done = true
	run.job.Cancelled = ctx.Err() != nil
	run.job.FinishedAt = time.Now().UTC()
	counts := run.job.Counts
	d.mu.Unlock()

	logger.Infof("broadcast done: job=%s delivered=%d skipped=%d failed=%d",
		run.job.ID, counts.Delivered, counts.Skipped, counts.Failed)
}

func (d *Dispatcher) pause(ctx context.Context, delay time.Duration, sent, batch int, batchPause time.Duration) {
	if batch > 0 && sent%batch == 0 {
		delay += batchPause
	}
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// rateLimitBackOff follows the exponential curve unless the last failure
// carried a retry-after hint, which takes precedence. Either way the wait
// never exceeds the cap.
type rateLimitBackOff struct {
	base backoff.BackOff
	hint time.Duration
	cap  time.Duration
}

func (b *rateLimitBackOff) NextBackOff() time.Duration {
	d := b.base.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	if b.hint > 0 {
		d = b.hint
		b.hint = 0
	}
	if d > b.cap {
		d = b.cap
	}
	return d
}

func (b *rateLimitBackOff) Reset() {
	b.hint = 0
	b.base.Reset()
}

func (d *Dispatcher) deliverOne(ctx context.Context, target string, p Payload) error {
	rl := &rateLimitBackOff{base: backoff.NewExponentialBackOff(), cap: d.retryAfterCap}
	bo := backoff.WithContext(backoff.WithMaxRetries(rl, d.retryCeiling-1), ctx)

	op := func() error {
		err := d.sender.Send(ctx, target, p)
		if err == nil {
			return nil
		}
		var de *DeliveryError
		if errors.As(err, &de) {
			if de.Permanent {
				return backoff.Permanent(err)
			}
			if de.RetryAfter > 0 {
				rl.hint = de.RetryAfter
			}
		}
		return err
	}
	return backoff.Retry(op, bo)
}

func isPermanentDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// Status returns a snapshot of the job, or false when the id is unknown.
func (d *Dispatcher) Status(jobID string) (BroadcastJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	run, ok := d.jobs[jobID]
	if !ok {
		return BroadcastJob{}, false
	}
	return run.job, true
}

// Cancel stops an in-flight job. Already-delivered messages stand.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	run, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}
