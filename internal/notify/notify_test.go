package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/models"
)

type memQueue struct {
	jobs      []*db.Job
	completed []uuid.UUID
	failed    []uuid.UUID
	enqErr    error
}

func (q *memQueue) Enqueue(_ context.Context, kind string, payload []byte, maxAttempts int) (uuid.UUID, error) {
	if q.enqErr != nil {
		return uuid.Nil, q.enqErr
	}
	job := &db.Job{ID: uuid.New(), Kind: kind, Payload: payload, Status: db.JobQueued, MaxAttempts: maxAttempts}
	q.jobs = append(q.jobs, job)
	return job.ID, nil
}

func (q *memQueue) Claim(_ context.Context) (*db.Job, error) {
	for _, j := range q.jobs {
		if j.Status == db.JobQueued {
			j.Status = db.JobRunning
			j.Attempts++
			copied := *j
			return &copied, nil
		}
	}
	return nil, nil
}

func (q *memQueue) Complete(_ context.Context, id uuid.UUID) error {
	q.completed = append(q.completed, id)
	for _, j := range q.jobs {
		if j.ID == id {
			j.Status = db.JobDone
		}
	}
	return nil
}

func (q *memQueue) Fail(_ context.Context, job db.Job, _ error) error {
	q.failed = append(q.failed, job.ID)
	for _, j := range q.jobs {
		if j.ID == job.ID {
			if j.Attempts >= j.MaxAttempts {
				j.Status = db.JobFailed
			} else {
				j.Status = db.JobQueued
			}
		}
	}
	return nil
}

type memStore struct {
	rows map[string]models.Notification
	err  error
}

func (s *memStore) InsertNotification(_ context.Context, n models.Notification) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.rows == nil {
		s.rows = map[string]models.Notification{}
	}
	key := n.VolunteerID.String() + n.OpportunityID.String() + n.EventID.String()
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	s.rows[key] = n
	return true, nil
}

func testEvent() matching.MatchEvent {
	return matching.MatchEvent{
		EventID:          uuid.New(),
		VolunteerID:      uuid.New(),
		OpportunityID:    uuid.New(),
		OpportunityTitle: "<b>Beach Cleanup</b>",
		OrganizationName: "Ocean Friends",
		Score:            80,
	}
}

func TestDispatcher_EnqueuesEvent(t *testing.T) {
	q := &memQueue{}
	d := NewDispatcher(q, nil)
	ev := testEvent()

	if err := d.NotifyMatch(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(q.jobs))
	}
	job := q.jobs[0]
	if job.Kind != JobKindMatchNotification || job.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected job: %+v", job)
	}

	var decoded matching.MatchEvent
	if err := json.Unmarshal(job.Payload, &decoded); err != nil {
		t.Fatalf("payload is not a match event: %v", err)
	}
	if decoded != ev {
		t.Fatalf("expected %+v, got %+v", ev, decoded)
	}
}

func TestDispatcher_PropagatesQueueError(t *testing.T) {
	q := &memQueue{enqErr: errors.New("db down")}
	if err := NewDispatcher(q, nil).NotifyMatch(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPool_ProcessNext_WritesNotification(t *testing.T) {
	q := &memQueue{}
	store := &memStore{}
	if err := NewDispatcher(q, nil).NotifyMatch(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(q, store, nil, 1, 0)
	processed, err := pool.ProcessNext(context.Background())
	if err != nil || !processed {
		t.Fatalf("expected job processed, got processed=%v err=%v", processed, err)
	}
	if len(q.completed) != 1 || len(store.rows) != 1 {
		t.Fatalf("expected completed job and one notification, got %d/%d", len(q.completed), len(store.rows))
	}

	processed, err = pool.ProcessNext(context.Background())
	if err != nil || processed {
		t.Fatalf("expected empty queue, got processed=%v err=%v", processed, err)
	}
}

func TestPool_RedeliveryIsIdempotent(t *testing.T) {
	q := &memQueue{}
	store := &memStore{}
	pool := NewPool(q, store, nil, 1, 0)
	ev := testEvent()

	// The same event delivered twice (at-least-once) yields one row.
	for i := 0; i < 2; i++ {
		if err := NewDispatcher(q, nil).NotifyMatch(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
		if _, err := pool.ProcessNext(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected one notification, got %d", len(store.rows))
	}
	if len(q.completed) != 2 {
		t.Fatalf("expected both jobs completed, got %d", len(q.completed))
	}
}

func TestPool_FailedJobIsRetriedThenGivesUp(t *testing.T) {
	q := &memQueue{}
	store := &memStore{err: errors.New("insert failed")}
	pool := NewPool(q, store, nil, 1, 0)

	if _, err := q.Enqueue(context.Background(), JobKindMatchNotification, mustJSON(t, testEvent()), 2); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := pool.ProcessNext(context.Background()); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if len(q.failed) != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", len(q.failed))
	}
	if q.jobs[0].Status != db.JobFailed {
		t.Fatalf("expected job to end failed, got %s", q.jobs[0].Status)
	}
}

func TestPool_UnknownKindFails(t *testing.T) {
	q := &memQueue{}
	pool := NewPool(q, &memStore{}, nil, 1, 0)
	if _, err := q.Enqueue(context.Background(), "mystery", []byte(`{}`), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.ProcessNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(q.failed) != 1 || len(q.completed) != 0 {
		t.Fatalf("expected failure, got failed=%d completed=%d", len(q.failed), len(q.completed))
	}
}

func TestBuildNotification_StripsMarkup(t *testing.T) {
	pool := NewPool(&memQueue{}, &memStore{}, nil, 1, 0)
	n := pool.BuildNotification(testEvent())

	if n.Title != "New match: Beach Cleanup" {
		t.Fatalf("unexpected title %q", n.Title)
	}
	if strings.Contains(n.Message, "<b>") || !strings.Contains(n.Message, "Ocean Friends") || !strings.Contains(n.Message, "80%") {
		t.Fatalf("unexpected message %q", n.Message)
	}
	if n.Type != models.NotificationOpportunityMatch {
		t.Fatalf("unexpected type %q", n.Type)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
