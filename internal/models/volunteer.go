package models

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses.
const (
	ApplicationPending   = "pending"
	ApplicationApproved  = "approved"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// Notification frequencies accepted in Preferences.
const (
	FrequencyImmediate = "immediate"
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyNever     = "never"
)

type Application struct {
	OpportunityID uuid.UUID `json:"opportunity_id"`
	Status        string    `json:"status"`
	AppliedAt     time.Time `json:"applied_at"`
}

type Preferences struct {
	MaxDistanceKm           int       `json:"max_distance_km"`
	PreferredTimeCommitment string    `json:"preferred_time_commitment"`
	NotificationFrequency   string    `json:"notification_frequency"`
	Categories              []string  `json:"categories"`
	Skills                  []string  `json:"skills"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type Volunteer struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Location     Location      `json:"location"`
	Interests    []string      `json:"interests"`
	Skills       []string      `json:"skills"`
	Availability []string      `json:"availability"`
	Applications []Application `json:"applications,omitempty"`
	Preferences  *Preferences  `json:"preferences,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HasApplied reports whether the volunteer holds a non-withdrawn application
// for the given opportunity.
func (v Volunteer) HasApplied(opportunityID uuid.UUID) bool {
	for _, a := range v.Applications {
		if a.OpportunityID == opportunityID && a.Status != ApplicationWithdrawn {
			return true
		}
	}
	return false
}

// WantsMatchNotifications reports whether the volunteer opted in to match alerts.
// Volunteers who never saved preferences are treated as opted out.
func (v Volunteer) WantsMatchNotifications() bool {
	return v.Preferences != nil && v.Preferences.NotificationFrequency != "" &&
		v.Preferences.NotificationFrequency != FrequencyNever
}
