package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/volunteer-match/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const opportunityCols = `o.id, o.title, o.organization_id, COALESCE(org.name, ''), o.category,
	o.required_skills, o.city, o.country, o.time_commitment, o.max_volunteers, o.current_volunteers,
	o.application_deadline, o.is_urgent, o.status, o.created_at, o.updated_at`

const opportunityFrom = `FROM opportunities o LEFT JOIN organizations org ON org.id = o.organization_id`

const volunteerCols = `v.id, v.name, v.email, v.city, v.country, v.interests, v.skills, v.availability, v.created_at,
	p.max_distance_km, p.preferred_time_commitment, p.notification_frequency, p.categories, p.skills, p.updated_at`

const volunteerFrom = `FROM volunteers v LEFT JOIN volunteer_preferences p ON p.volunteer_id = v.id`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var city, country, commitment *string

	err := scan(
		&o.ID, &o.Title, &o.OrganizationID, &o.OrganizationName, &o.Category,
		&o.RequiredSkills, &city, &country, &commitment, &o.MaxVolunteers, &o.CurrentVolunteers,
		&o.ApplicationDeadline, &o.IsUrgent, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	if city != nil {
		o.Location.City = *city
	}
	if country != nil {
		o.Location.Country = *country
	}
	if commitment != nil {
		o.TimeCommitment = *commitment
	}

	return o, nil
}

func scanVolunteer(scan func(dest ...interface{}) error) (models.Volunteer, error) {
	var v models.Volunteer
	var city, country *string
	var maxDistance *int
	var commitment, frequency *string
	var prefCategories, prefSkills []string
	var prefUpdated *time.Time

	err := scan(
		&v.ID, &v.Name, &v.Email, &city, &country, &v.Interests, &v.Skills, &v.Availability, &v.CreatedAt,
		&maxDistance, &commitment, &frequency, &prefCategories, &prefSkills, &prefUpdated,
	)
	if err != nil {
		return v, err
	}

	if city != nil {
		v.Location.City = *city
	}
	if country != nil {
		v.Location.Country = *country
	}

	// A NULL frequency means the LEFT JOIN found no preferences row.
	if frequency != nil {
		prefs := &models.Preferences{
			NotificationFrequency: *frequency,
			Categories:            prefCategories,
			Skills:                prefSkills,
		}
		if maxDistance != nil {
			prefs.MaxDistanceKm = *maxDistance
		}
		if commitment != nil {
			prefs.PreferredTimeCommitment = *commitment
		}
		if prefUpdated != nil {
			prefs.UpdatedAt = *prefUpdated
		}
		v.Preferences = prefs
	}

	return v, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	sql := fmt.Sprintf("SELECT %s %s WHERE o.id = $1", opportunityCols, opportunityFrom)

	o, err := scanOpportunity(s.pool.QueryRow(ctx, sql, id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get opportunity: %w", err)
	}

	return &o, nil
}

// buildEligibleConstraint restricts opportunities to those a volunteer can
// still apply for. $1 is the reference time.
func buildEligibleConstraint() string {
	return " AND o.status = 'published' AND (o.application_deadline IS NULL OR o.application_deadline > $1) AND o.current_volunteers < o.max_volunteers"
}

func (s *Store) ListPublishedOpportunities(ctx context.Context, now time.Time) ([]models.Opportunity, error) {
	sql := fmt.Sprintf("SELECT %s %s WHERE 1=1%s ORDER BY o.created_at DESC", opportunityCols, opportunityFrom, buildEligibleConstraint())

	rows, err := s.pool.Query(ctx, sql, now)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return opps, nil
}

func (s *Store) UpdateOpportunityStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update opportunity status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) GetVolunteer(ctx context.Context, id uuid.UUID) (*models.Volunteer, error) {
	sql := fmt.Sprintf("SELECT %s %s WHERE v.id = $1", volunteerCols, volunteerFrom)

	v, err := scanVolunteer(s.pool.QueryRow(ctx, sql, id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get volunteer: %w", err)
	}

	apps, err := s.loadApplications(ctx, []uuid.UUID{v.ID})
	if err != nil {
		return nil, err
	}
	v.Applications = apps[v.ID]

	return &v, nil
}

// buildCandidateQuery selects volunteers sharing the category ($1, lowercased)
// or any required skill ($2, lowercased) who hold no live application for
// opportunity $3.
func buildCandidateQuery() string {
	return fmt.Sprintf(`SELECT %s %s
		WHERE (
			EXISTS (SELECT 1 FROM unnest(v.interests) i WHERE lower(btrim(i)) = $1)
			OR EXISTS (SELECT 1 FROM unnest(v.skills) sk WHERE lower(btrim(sk)) = ANY($2))
		)
		AND NOT EXISTS (
			SELECT 1 FROM applications a
			WHERE a.volunteer_id = v.id AND a.opportunity_id = $3 AND a.status <> 'withdrawn'
		)
		ORDER BY v.created_at`, volunteerCols, volunteerFrom)
}

func (s *Store) ListCandidateVolunteers(ctx context.Context, o models.Opportunity) ([]models.Volunteer, error) {
	category := strings.ToLower(strings.TrimSpace(o.Category))
	skills := lowerAll(o.RequiredSkills)

	rows, err := s.pool.Query(ctx, buildCandidateQuery(), category, skills, o.ID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var volunteers []models.Volunteer
	var ids []uuid.UUID
	for rows.Next() {
		v, err := scanVolunteer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		volunteers = append(volunteers, v)
		ids = append(ids, v.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	apps, err := s.loadApplications(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range volunteers {
		volunteers[i].Applications = apps[volunteers[i].ID]
	}

	return volunteers, nil
}

// loadApplications fetches applications for many volunteers in one query.
func (s *Store) loadApplications(ctx context.Context, volunteerIDs []uuid.UUID) (map[uuid.UUID][]models.Application, error) {
	result := make(map[uuid.UUID][]models.Application, len(volunteerIDs))
	if len(volunteerIDs) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(volunteerIDs))
	for _, id := range volunteerIDs {
		ids = append(ids, id.String())
	}

	rows, err := s.pool.Query(ctx, `
		SELECT volunteer_id, opportunity_id, status, applied_at
		FROM applications
		WHERE volunteer_id = ANY($1::uuid[])
		ORDER BY applied_at
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var volunteerID uuid.UUID
		var a models.Application
		if err := rows.Scan(&volunteerID, &a.OpportunityID, &a.Status, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		result[volunteerID] = append(result[volunteerID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return result, nil
}

func (s *Store) GetPreferences(ctx context.Context, volunteerID uuid.UUID) (*models.Preferences, error) {
	var p models.Preferences
	err := s.pool.QueryRow(ctx, `
		SELECT max_distance_km, preferred_time_commitment, notification_frequency, categories, skills, updated_at
		FROM volunteer_preferences
		WHERE volunteer_id = $1
	`, volunteerID).Scan(&p.MaxDistanceKm, &p.PreferredTimeCommitment, &p.NotificationFrequency, &p.Categories, &p.Skills, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences upserts; the last write wins.
func (s *Store) SavePreferences(ctx context.Context, volunteerID uuid.UUID, p models.Preferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO volunteer_preferences (
			volunteer_id, max_distance_km, preferred_time_commitment, notification_frequency, categories, skills, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (volunteer_id) DO UPDATE SET
			max_distance_km = EXCLUDED.max_distance_km,
			preferred_time_commitment = EXCLUDED.preferred_time_commitment,
			notification_frequency = EXCLUDED.notification_frequency,
			categories = EXCLUDED.categories,
			skills = EXCLUDED.skills,
			updated_at = EXCLUDED.updated_at
	`, volunteerID, p.MaxDistanceKm, p.PreferredTimeCommitment, p.NotificationFrequency,
		nonNil(p.Categories), nonNil(p.Skills), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// InsertNotification stores a notification once per (volunteer, opportunity,
// event). It reports false when the row already existed.
func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (volunteer_id, opportunity_id, event_id, type, title, message, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (volunteer_id, opportunity_id, event_id) DO NOTHING
	`, n.VolunteerID, n.OpportunityID, n.EventID, n.Type, n.Title, n.Message, n.Score)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListNotifications(ctx context.Context, volunteerID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, volunteer_id, opportunity_id, event_id, type, title, message, score, created_at, read_at
		FROM notifications
		WHERE volunteer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, volunteerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.VolunteerID, &n.OpportunityID, &n.EventID, &n.Type, &n.Title, &n.Message, &n.Score, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(v)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
