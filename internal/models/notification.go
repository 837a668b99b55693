package models

import (
	"time"

	"github.com/google/uuid"
)

const NotificationOpportunityMatch = "opportunity_match"

type Notification struct {
	ID            uuid.UUID  `json:"id"`
	VolunteerID   uuid.UUID  `json:"volunteer_id"`
	OpportunityID uuid.UUID  `json:"opportunity_id"`
	EventID       uuid.UUID  `json:"event_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Score         float64    `json:"score"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at"`
}
