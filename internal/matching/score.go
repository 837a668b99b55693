package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/david/volunteer-match/internal/models"
)

// Reason kinds reported in an Explanation.
const (
	ReasonCategory     = "category"
	ReasonSkills       = "skills"
	ReasonLocation     = "location"
	ReasonAvailability = "availability"
)

type Reason struct {
	Kind   string  `json:"kind"`
	Text   string  `json:"text"`
	Points float64 `json:"points"`
}

type Explanation struct {
	Score   float64  `json:"score"`
	Reasons []Reason `json:"reasons"`
}

// CalculateMatchScore scores how well an opportunity fits a volunteer, in [0, 100].
func CalculateMatchScore(p Policy, v models.Volunteer, o models.Opportunity) float64 {
	return GetMatchExplanation(p, v, o).Score
}

// GetMatchExplanation returns the signals behind CalculateMatchScore.
func GetMatchExplanation(p Policy, v models.Volunteer, o models.Opportunity) Explanation {
	reasons := make([]Reason, 0, 4)
	w := p.Weights

	if category := normalize(o.Category); category != "" && containsFold(v.Interests, category) {
		reasons = append(reasons, Reason{
			Kind:   ReasonCategory,
			Text:   fmt.Sprintf("Interested in %s", strings.TrimSpace(o.Category)),
			Points: w.Category,
		})
	}

	if matched, required := skillOverlap(v.Skills, o.RequiredSkills); len(matched) > 0 {
		reasons = append(reasons, Reason{
			Kind:   ReasonSkills,
			Text:   fmt.Sprintf("Has %d of %d required skills: %s", len(matched), required, strings.Join(matched, ", ")),
			Points: w.Skills * float64(len(matched)) / float64(required),
		})
	}

	if r, ok := locationReason(w, v.Location, o.Location); ok {
		reasons = append(reasons, r)
	}

	if tag := normalize(o.TimeCommitment); tag != "" && containsFold(v.Availability, tag) {
		reasons = append(reasons, Reason{
			Kind:   ReasonAvailability,
			Text:   fmt.Sprintf("Available for %s", strings.TrimSpace(o.TimeCommitment)),
			Points: w.Availability,
		})
	}

	var total float64
	for i := range reasons {
		reasons[i].Points = round2(reasons[i].Points)
		total += reasons[i].Points
	}

	return Explanation{Score: clampScore(total), Reasons: reasons}
}

func locationReason(w Weights, vl, ol models.Location) (Reason, bool) {
	vCountry, oCountry := normalize(vl.Country), normalize(ol.Country)
	if vCountry == "" || vCountry != oCountry {
		return Reason{}, false
	}

	vCity, oCity := normalize(vl.City), normalize(ol.City)
	if vCity != "" && vCity == oCity {
		return Reason{
			Kind:   ReasonLocation,
			Text:   fmt.Sprintf("Located in %s, %s", strings.TrimSpace(ol.City), strings.TrimSpace(ol.Country)),
			Points: w.LocationCity,
		}, true
	}

	return Reason{
		Kind:   ReasonLocation,
		Text:   fmt.Sprintf("Same country: %s", strings.TrimSpace(ol.Country)),
		Points: w.LocationCountry,
	}, true
}

// skillOverlap returns the required skills the volunteer has (as spelled on the
// opportunity) and the number of distinct required skills.
func skillOverlap(have, required []string) ([]string, int) {
	haveSet := foldSet(have)
	seen := make(map[string]bool, len(required))
	var matched []string
	for _, skill := range required {
		key := normalize(skill)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if haveSet[key] {
			matched = append(matched, strings.TrimSpace(skill))
		}
	}
	return matched, len(seen)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func foldSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if key := normalize(v); key != "" {
			set[key] = true
		}
	}
	return set
}

func containsFold(values []string, normalized string) bool {
	for _, v := range values {
		if normalize(v) == normalized {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 100:
		return 100
	}
	return round2(score)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
