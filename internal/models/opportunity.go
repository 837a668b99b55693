package models

import (
	"time"

	"github.com/google/uuid"
)

// Opportunity lifecycle states.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusPaused    = "paused"
	StatusClosed    = "closed"
	StatusArchived  = "archived"
)

type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

type Opportunity struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	OrganizationID      uuid.UUID  `json:"organization_id"`
	OrganizationName    string     `json:"organization_name"`
	Category            string     `json:"category"`
	RequiredSkills      []string   `json:"required_skills"`
	Location            Location   `json:"location"`
	TimeCommitment      string     `json:"time_commitment"`
	MaxVolunteers       int        `json:"max_volunteers"`
	CurrentVolunteers   int        `json:"current_volunteers"`
	ApplicationDeadline *time.Time `json:"application_deadline"`
	IsUrgent            bool       `json:"is_urgent"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsFull reports whether every volunteer slot is taken.
func (o Opportunity) IsFull() bool {
	return o.CurrentVolunteers >= o.MaxVolunteers
}

// IsEligible reports whether the opportunity can be offered to volunteers at now.
func (o Opportunity) IsEligible(now time.Time) bool {
	if o.Status != StatusPublished {
		return false
	}
	if o.ApplicationDeadline != nil && !o.ApplicationDeadline.After(now) {
		return false
	}
	return !o.IsFull()
}
