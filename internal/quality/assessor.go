// Package quality scores the environmental data behind a recommendation and
// identifies risk factors for the zone.
package quality

import (
	"fmt"
	"strings"

	"github.com/kassym/agrozone/internal/features"
)

// CriticalFields are the sensor fields whose absence degrades the score.
var CriticalFields = []string{
	features.FieldNitrogen,
	features.FieldPhosphorus,
	features.FieldPotassium,
	features.FieldPH,
	features.FieldSoilMoisture,
}

const (
	missingFieldPenalty = 20
	outOfRangePenalty   = 15
)

// Assessment is the data-quality result for one feature vector.
type Assessment struct {
	Score  int      `json:"score"`
	Grade  string   `json:"grade"`
	Issues []string `json:"issues"`
}

// Risk is one identified risk with its mitigation.
type Risk struct {
	Description string `json:"risk"`
	Mitigation  string `json:"mitigation"`
}

// RiskReport aggregates the fired risk rules for a zone.
type RiskReport struct {
	Risks []Risk `json:"risks"`
	// Level is High when more than 3 risks fire, Medium when more than 1,
	// otherwise Low.
	Level string `json:"risk_level"`
}

// Assess scores the vector starting from 100: −20 per missing critical
// field, −15 for a present pH outside [3.0, 11.0], −15 for a present
// moisture outside [0, 100], floored at 0.
func Assess(vec features.Vector) Assessment {
	score := 100
	var issues []string

	for _, field := range CriticalFields {
		if _, ok := vec.Stat(field); !ok {
			score -= missingFieldPenalty
			issues = append(issues, "Missing "+field)
		}
	}

	if fs, ok := vec.Stat(features.FieldPH); ok {
		if fs.Mean < 3.0 || fs.Mean > 11.0 {
			score -= outOfRangePenalty
			issues = append(issues, "pH out of reasonable range")
		}
	}
	if fs, ok := vec.Stat(features.FieldSoilMoisture); ok {
		if fs.Mean < 0 || fs.Mean > 100 {
			score -= outOfRangePenalty
			issues = append(issues, "Soil moisture out of reasonable range")
		}
	}

	if score < 0 {
		score = 0
	}
	return Assessment{Score: score, Grade: grade(score), Issues: issues}
}

// DegradeForDefaults records the schema fields the ranker substituted with
// defaults, so degraded classifier input is visible on the assessment. The
// score itself was already reduced by Assess for the missing sensor fields;
// only fields that are also critical sensor fields are recorded.
func DegradeForDefaults(a Assessment, defaultedFields []string) Assessment {
	critical := map[string]bool{"N": true, "P": true, "K": true, "ph": true}
	for _, f := range defaultedFields {
		if critical[f] {
			a.Issues = append(a.Issues, fmt.Sprintf("Defaulted %s for classification", f))
		}
	}
	return a
}

// grade maps a score onto the fixed four-bucket scale.
func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 70:
		return "B"
	case score >= 50:
		return "C"
	default:
		return "D"
	}
}

// IdentifyRisks evaluates the fixed rule set over the vector, the current
// season, and the recommended crop names.
func IdentifyRisks(vec features.Vector, season string, crops []string) RiskReport {
	var risks []Risk

	if fs, ok := vec.Stat(features.FieldPH); ok {
		if fs.Mean < 5.5 {
			risks = append(risks, Risk{
				Description: "Acidic soil may limit crop growth",
				Mitigation:  "Apply lime to raise pH",
			})
		} else if fs.Mean > 8.5 {
			risks = append(risks, Risk{
				Description: "Alkaline soil may cause nutrient deficiencies",
				Mitigation:  "Apply sulfur or organic matter to lower pH",
			})
		}
	}

	if fs, ok := vec.Stat(features.FieldNitrogen); ok && fs.Mean < 30 {
		risks = append(risks, Risk{
			Description: "Low nitrogen may reduce crop yield",
			Mitigation:  "Apply nitrogen fertilizer",
		})
	}
	if fs, ok := vec.Stat(features.FieldPhosphorus); ok && fs.Mean < 20 {
		risks = append(risks, Risk{
			Description: "Low phosphorus may affect root development",
			Mitigation:  "Apply phosphorus fertilizer",
		})
	}

	if season == "Winter" && cropListed(crops, "rice") {
		risks = append(risks, Risk{
			Description: "Winter conditions may affect rice growth",
			Mitigation:  "Ensure proper winter protection",
		})
	}
	if season == "Summer" && cropListed(crops, "wheat") {
		risks = append(risks, Risk{
			Description: "Summer heat may stress wheat plants",
			Mitigation:  "Ensure adequate irrigation and shading",
		})
	}

	return RiskReport{Risks: risks, Level: riskLevel(len(risks))}
}

func riskLevel(n int) string {
	switch {
	case n > 3:
		return "High"
	case n > 1:
		return "Medium"
	default:
		return "Low"
	}
}

func cropListed(crops []string, name string) bool {
	for _, c := range crops {
		if strings.Contains(strings.ToLower(c), name) {
			return true
		}
	}
	return false
}
