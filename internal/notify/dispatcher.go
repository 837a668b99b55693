package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/matching"
)

const (
	JobKindMatchNotification = "match_notification"
	defaultMaxAttempts       = 5
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte, maxAttempts int) (uuid.UUID, error)
}

// Dispatcher turns match events into queued delivery jobs.
type Dispatcher struct {
	queue       Enqueuer
	log         *zap.Logger
	maxAttempts int
}

func NewDispatcher(queue Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, log: logger, maxAttempts: defaultMaxAttempts}
}

func (d *Dispatcher) NotifyMatch(ctx context.Context, event matching.MatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode match event: %w", err)
	}

	jobID, err := d.queue.Enqueue(ctx, JobKindMatchNotification, payload, d.maxAttempts)
	if err != nil {
		return err
	}

	d.log.Debug("match notification queued",
		zap.String("job_id", jobID.String()),
		zap.String("volunteer_id", event.VolunteerID.String()),
		zap.String("opportunity_id", event.OpportunityID.String()),
	)
	return nil
}
