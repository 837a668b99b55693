package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/models"
)

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	Claim(ctx context.Context) (*db.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, job db.Job, cause error) error
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n models.Notification) (bool, error)
}

type staleRequeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

const (
	jobTimeout      = 30 * time.Second
	staleAfter      = 5 * time.Minute
	staleSweepEvery = time.Minute
)

// Pool runs background workers that turn queued match events into
// notification rows.
type Pool struct {
	queue     JobQueue
	store     NotificationStore
	log       *zap.Logger
	workers   int
	interval  time.Duration
	sanitizer *bluemonday.Policy

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a worker pool.
//
// Parameters:
//   - queue: where jobs are claimed from
//   - store: where notifications are written
//   - workers: number of concurrent workers (minimum 1)
//   - interval: how long an idle worker waits before polling again
func NewPool(queue JobQueue, store NotificationStore, logger *zap.Logger, workers int, interval time.Duration) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Pool{
		queue:     queue,
		store:     store,
		log:       logger,
		workers:   workers,
		interval:  interval,
		sanitizer: bluemonday.StrictPolicy(),
		stopCh:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	if r, ok := p.queue.(staleRequeuer); ok {
		p.wg.Add(1)
		go p.sweep(r)
	}
	p.log.Info("notification workers started",
		zap.Int("workers", p.workers),
		zap.Duration("interval", p.interval))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.log.Info("notification workers stopped")
}

func (p *Pool) run(worker int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.drain(worker)
		}
	}
}

// drain processes jobs until the queue is empty or the pool is stopping.
func (p *Pool) drain(worker int) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		processed, err := p.ProcessNext(context.Background())
		if err != nil {
			p.log.Error("notification worker error", zap.Int("worker", worker), zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

func (p *Pool) sweep(r staleRequeuer) {
	defer p.wg.Done()

	ticker := time.NewTicker(staleSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			count, err := r.RequeueStale(ctx, staleAfter)
			cancel()
			if err != nil {
				p.log.Error("failed to requeue stale jobs", zap.Error(err))
				continue
			}
			if count > 0 {
				p.log.Warn("requeued stale jobs", zap.Int64("count", count))
			}
		}
	}
}

// ProcessNext claims and handles a single job. It reports false when the
// queue had nothing ready.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	if herr := p.handle(jobCtx, *job); herr != nil {
		p.log.Warn("notification job failed",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(herr))
		if err := p.queue.Fail(ctx, *job, herr); err != nil {
			return true, err
		}
		return true, nil
	}

	if err := p.queue.Complete(ctx, job.ID); err != nil {
		return true, err
	}
	return true, nil
}

func (p *Pool) handle(ctx context.Context, job db.Job) error {
	if job.Kind != JobKindMatchNotification {
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}

	var event matching.MatchEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return fmt.Errorf("decode match event: %w", err)
	}

	inserted, err := p.store.InsertNotification(ctx, p.BuildNotification(event))
	if err != nil {
		return err
	}
	if !inserted {
		p.log.Debug("notification already delivered",
			zap.String("event_id", event.EventID.String()),
			zap.String("volunteer_id", event.VolunteerID.String()))
	}
	return nil
}

// BuildNotification renders the stored notification for a match event.
// Opportunity and organization names are stripped of markup.
func (p *Pool) BuildNotification(event matching.MatchEvent) models.Notification {
	title := strings.TrimSpace(p.sanitizer.Sanitize(event.OpportunityTitle))
	org := strings.TrimSpace(p.sanitizer.Sanitize(event.OrganizationName))
	if org == "" {
		org = "An organization"
	}

	return models.Notification{
		VolunteerID:   event.VolunteerID,
		OpportunityID: event.OpportunityID,
		EventID:       event.EventID,
		Type:          models.NotificationOpportunityMatch,
		Title:         "New match: " + title,
		Message:       fmt.Sprintf("%s is looking for volunteers for %s. Match score: %.0f%%.", org, title, event.Score),
		Score:         event.Score,
	}
}
