package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/models"
)

// Repository loads fully materialized records: volunteers come with their
// applications and preferences attached. Missing records yield ErrNotFound.
type Repository interface {
	GetVolunteer(ctx context.Context, id uuid.UUID) (*models.Volunteer, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	ListPublishedOpportunities(ctx context.Context, now time.Time) ([]models.Opportunity, error)
	ListCandidateVolunteers(ctx context.Context, o models.Opportunity) ([]models.Volunteer, error)
	GetPreferences(ctx context.Context, volunteerID uuid.UUID) (*models.Preferences, error)
	SavePreferences(ctx context.Context, volunteerID uuid.UUID, prefs models.Preferences) error
}

// MatchEvent is one "this opportunity suits you" message for one volunteer.
type MatchEvent struct {
	EventID          uuid.UUID `json:"event_id"`
	VolunteerID      uuid.UUID `json:"volunteer_id"`
	OpportunityID    uuid.UUID `json:"opportunity_id"`
	OpportunityTitle string    `json:"opportunity_title"`
	OrganizationName string    `json:"organization_name"`
	Score            float64   `json:"score"`
}

// Notifier hands a match event to asynchronous delivery.
type Notifier interface {
	NotifyMatch(ctx context.Context, event MatchEvent) error
}

type Engine struct {
	repo     Repository
	notifier Notifier
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(repo Repository, notifier Notifier, policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:     repo,
		notifier: notifier,
		policy:   policy,
		log:      logger,
		now:      time.Now,
	}
}

func (e *Engine) Policy() Policy { return e.policy }

// FindMatchingOpportunities recommends open opportunities for a volunteer.
func (e *Engine) FindMatchingOpportunities(ctx context.Context, volunteerID uuid.UUID, limit int) ([]MatchResult, error) {
	v, err := e.repo.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("load volunteer %s: %w", volunteerID, err)
	}

	now := e.now()
	catalog, err := e.repo.ListPublishedOpportunities(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}

	results := RankOpportunities(e.policy, *v, catalog, now, limit)
	e.log.Debug("matched opportunities",
		zap.String("volunteer_id", volunteerID.String()),
		zap.Int("catalog", len(catalog)),
		zap.Int("returned", len(results)),
	)
	return results, nil
}

func (e *Engine) CalculateMatchScore(ctx context.Context, volunteerID, opportunityID uuid.UUID) (float64, error) {
	ex, err := e.GetMatchExplanation(ctx, volunteerID, opportunityID)
	if err != nil {
		return 0, err
	}
	return ex.Score, nil
}

func (e *Engine) GetMatchExplanation(ctx context.Context, volunteerID, opportunityID uuid.UUID) (*Explanation, error) {
	v, err := e.repo.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("load volunteer %s: %w", volunteerID, err)
	}
	o, err := e.repo.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("load opportunity %s: %w", opportunityID, err)
	}

	ex := GetMatchExplanation(e.policy, *v, *o)
	return &ex, nil
}

// FindMatchingVolunteers lists volunteers who have not applied yet, best fit first.
func (e *Engine) FindMatchingVolunteers(ctx context.Context, opportunityID uuid.UUID, limit int) ([]VolunteerMatch, error) {
	o, err := e.repo.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("load opportunity %s: %w", opportunityID, err)
	}
	return e.matchVolunteers(ctx, *o, e.policy.normalizeLimit(limit))
}

func (e *Engine) matchVolunteers(ctx context.Context, o models.Opportunity, limit int) ([]VolunteerMatch, error) {
	volunteers, err := e.repo.ListCandidateVolunteers(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("list candidate volunteers: %w", err)
	}
	return RankVolunteers(e.policy, o, volunteers, limit), nil
}

func (e *Engine) GetUserPreferences(ctx context.Context, volunteerID uuid.UUID) (*models.Preferences, error) {
	if _, err := e.repo.GetVolunteer(ctx, volunteerID); err != nil {
		return nil, fmt.Errorf("load volunteer %s: %w", volunteerID, err)
	}
	prefs, err := e.repo.GetPreferences(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

// UpdateUserPreferences validates and stores the volunteer's matching
// preferences, returning what was saved. A *ValidationError means the payload
// was rejected and nothing was written.
func (e *Engine) UpdateUserPreferences(ctx context.Context, volunteerID uuid.UUID, prefs models.Preferences) (models.Preferences, error) {
	clean, err := ValidatePreferences(prefs)
	if err != nil {
		return models.Preferences{}, err
	}
	if _, err := e.repo.GetVolunteer(ctx, volunteerID); err != nil {
		return models.Preferences{}, fmt.Errorf("load volunteer %s: %w", volunteerID, err)
	}

	clean.UpdatedAt = e.now().UTC()
	if err := e.repo.SavePreferences(ctx, volunteerID, clean); err != nil {
		return models.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	return clean, nil
}

// SendMatchingNotifications queues one notification per opted-in matching
// volunteer and returns how many were queued. Failures for individual
// volunteers are logged and skipped.
func (e *Engine) SendMatchingNotifications(ctx context.Context, opportunityID uuid.UUID) (int, error) {
	o, err := e.repo.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return 0, fmt.Errorf("load opportunity %s: %w", opportunityID, err)
	}
	if !o.IsEligible(e.now()) {
		return 0, ErrNotEligible
	}

	ranked, err := e.matchVolunteers(ctx, *o, 0)
	if err != nil {
		return 0, err
	}

	// Opt-in is applied before the cap so opted-out volunteers never take a slot.
	matches := make([]VolunteerMatch, 0, len(ranked))
	for _, m := range ranked {
		if m.Volunteer.WantsMatchNotifications() {
			matches = append(matches, m)
		}
	}
	if len(matches) > e.policy.NotifyLimit {
		matches = matches[:e.policy.NotifyLimit]
	}

	eventID := uuid.New()
	sent := 0
	for _, m := range matches {
		event := MatchEvent{
			EventID:          eventID,
			VolunteerID:      m.Volunteer.ID,
			OpportunityID:    o.ID,
			OpportunityTitle: o.Title,
			OrganizationName: o.OrganizationName,
			Score:            m.Score,
		}
		if err := e.notifier.NotifyMatch(ctx, event); err != nil {
			e.log.Warn("queueing match notification failed",
				zap.String("opportunity_id", o.ID.String()),
				zap.String("volunteer_id", m.Volunteer.ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	e.log.Info("match notifications queued",
		zap.String("opportunity_id", o.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.Int("candidates", len(ranked)),
		zap.Int("opted_in", len(matches)),
		zap.Int("queued", sent),
	)
	return sent, nil
}
