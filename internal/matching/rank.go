package matching

import (
	"sort"
	"time"

	"github.com/david/volunteer-match/internal/models"
)

type MatchResult struct {
	Opportunity models.Opportunity `json:"opportunity"`
	Score       float64            `json:"score"`
	Reasons     []Reason           `json:"reasons,omitempty"`
}

type VolunteerMatch struct {
	Volunteer models.Volunteer `json:"volunteer"`
	Score     float64          `json:"score"`
	Reasons   []Reason         `json:"reasons,omitempty"`
}

// RankOpportunities filters the catalog down to what the volunteer can still
// apply for, scores it and returns at most limit results, best first.
func RankOpportunities(p Policy, v models.Volunteer, catalog []models.Opportunity, now time.Time, limit int) []MatchResult {
	limit = p.normalizeLimit(limit)

	results := make([]MatchResult, 0, len(catalog))
	for _, o := range catalog {
		if !o.IsEligible(now) || v.HasApplied(o.ID) {
			continue
		}
		ex := GetMatchExplanation(p, v, o)
		if ex.Score < p.MinScore {
			continue
		}
		results = append(results, MatchResult{Opportunity: o, Score: ex.Score, Reasons: ex.Reasons})
	}

	sortMatchResults(p, results)

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// sortMatchResults orders by score, counting urgent opportunities as
// UrgencyBoost points higher. Equal keys put urgent first, then the earlier
// deadline, then the lower ID so the order is stable across calls.
func sortMatchResults(p Policy, results []MatchResult) {
	rankKey := func(r MatchResult) float64 {
		if r.Opportunity.IsUrgent {
			return r.Score + p.UrgencyBoost
		}
		return r.Score
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ka, kb := rankKey(a), rankKey(b); ka != kb {
			return ka > kb
		}
		if a.Opportunity.IsUrgent != b.Opportunity.IsUrgent {
			return a.Opportunity.IsUrgent
		}
		da, db := a.Opportunity.ApplicationDeadline, b.Opportunity.ApplicationDeadline
		switch {
		case da != nil && db == nil:
			return true
		case da == nil && db != nil:
			return false
		case da != nil && db != nil && !da.Equal(*db):
			return da.Before(*db)
		}
		return a.Opportunity.ID.String() < b.Opportunity.ID.String()
	})
}

// IsCandidate reports whether a volunteer is worth considering for an
// opportunity: a shared category interest or at least one required skill.
func IsCandidate(v models.Volunteer, o models.Opportunity) bool {
	if category := normalize(o.Category); category != "" && containsFold(v.Interests, category) {
		return true
	}
	matched, _ := skillOverlap(v.Skills, o.RequiredSkills)
	return len(matched) > 0
}

// RankVolunteers is the inverse of RankOpportunities.
func RankVolunteers(p Policy, o models.Opportunity, volunteers []models.Volunteer, limit int) []VolunteerMatch {
	matches := make([]VolunteerMatch, 0, len(volunteers))
	for _, v := range volunteers {
		if !IsCandidate(v, o) || v.HasApplied(o.ID) {
			continue
		}
		ex := GetMatchExplanation(p, v, o)
		if ex.Score < p.MinScore {
			continue
		}
		matches = append(matches, VolunteerMatch{Volunteer: v, Score: ex.Score, Reasons: ex.Reasons})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Volunteer.ID.String() < matches[j].Volunteer.ID.String()
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
