package matching

import (
	"fmt"
	"strings"

	"github.com/david/volunteer-match/internal/models"
)

const (
	maxDistanceKm       = 1000
	maxCategories       = 20
	maxSkills           = 50
	maxTagLength        = 100
	maxCommitmentLength = 50
)

var validFrequencies = map[string]bool{
	models.FrequencyImmediate: true,
	models.FrequencyDaily:     true,
	models.FrequencyWeekly:    true,
	models.FrequencyNever:     true,
}

// ValidatePreferences checks a preferences payload and returns a cleaned copy:
// trimmed strings, lowercased enums and de-duplicated lists.
func ValidatePreferences(in models.Preferences) (models.Preferences, error) {
	verr := &ValidationError{}
	out := models.Preferences{}

	if in.MaxDistanceKm < 0 || in.MaxDistanceKm > maxDistanceKm {
		verr.add("max_distance_km", fmt.Sprintf("must be between 0 and %d", maxDistanceKm))
	}
	out.MaxDistanceKm = in.MaxDistanceKm

	out.PreferredTimeCommitment = normalize(in.PreferredTimeCommitment)
	if len(out.PreferredTimeCommitment) > maxCommitmentLength {
		verr.add("preferred_time_commitment", fmt.Sprintf("must be at most %d characters", maxCommitmentLength))
	}

	out.NotificationFrequency = normalize(in.NotificationFrequency)
	if out.NotificationFrequency == "" {
		verr.add("notification_frequency", "is required")
	} else if !validFrequencies[out.NotificationFrequency] {
		verr.add("notification_frequency", "must be one of immediate, daily, weekly, never")
	}

	var err string
	out.Categories, err = cleanTags(in.Categories, maxCategories)
	if err != "" {
		verr.add("categories", err)
	}
	out.Skills, err = cleanTags(in.Skills, maxSkills)
	if err != "" {
		verr.add("skills", err)
	}

	if len(verr.Fields) > 0 {
		return models.Preferences{}, verr
	}
	return out, nil
}

func cleanTags(values []string, limit int) ([]string, string) {
	seen := make(map[string]bool, len(values))
	clean := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, "must not contain empty values"
		}
		if len(trimmed) > maxTagLength {
			return nil, fmt.Sprintf("values must be at most %d characters", maxTagLength)
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		clean = append(clean, trimmed)
	}
	if len(clean) > limit {
		return nil, fmt.Sprintf("must contain at most %d values", limit)
	}
	return clean, ""
}
