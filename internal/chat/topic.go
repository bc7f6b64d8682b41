package chat

import "strings"

// TopicClassifier decides whether a message belongs to the assistant's
// agricultural domain. It sits behind an interface so the keyword rule table
// can later be swapped for a trained classifier without touching callers.
type TopicClassifier interface {
	IsAgricultural(message string) bool
}

// KeywordTopicClassifier scores a message against fixed keyword sets.
type KeywordTopicClassifier struct{}

// agriculturalKeywords is the inclusion rule table, grouped by concern.
var agriculturalKeywords = []string{
	// Core farming terms
	"crop", "soil", "water", "fertilizer", "pest", "weather", "harvest",
	"plant", "seed", "irrigation", "drainage", "nutrient", "ph", "npk",
	"farming", "agriculture", "farm", "field", "yield", "disease",
	"weed", "organic", "sustainable", "rotation", "season", "climate",
	// Crop management
	"planting", "sowing", "growing", "cultivation", "tillage",
	// Soil and nutrients
	"nitrogen", "phosphorus", "potassium", "compost", "manure", "mulch",
	// Water
	"moisture", "humidity", "rainfall", "drought", "flood",
	// Weather
	"temperature", "frost", "forecast",
	// Equipment
	"tractor", "harvester", "sensor", "iot", "drone",
	// Market
	"price", "market", "demand", "supply",
	// Sustainability
	"conservation", "biodiversity", "pollination",
	// Zone terms
	"zone", "recommendation",
}

// nonAgriculturalKeywords flag topics the assistant must redirect.
var nonAgriculturalKeywords = []string{
	"president", "politics", "election", "government", "law", "legal",
	"sports", "movie", "music", "celebrity",
	"computer", "software", "programming", "coding",
	"doctor", "hospital", "medicine",
}

// IsAgricultural reports whether the message should be answered. A message
// with a prominent non-agricultural keyword and fewer than two agricultural
// ones is rejected.
func (KeywordTopicClassifier) IsAgricultural(message string) bool {
	words := tokenize(strings.ToLower(message))

	agricultural := 0
	for _, kw := range agriculturalKeywords {
		if words[kw] {
			agricultural++
		}
	}

	for _, kw := range nonAgriculturalKeywords {
		if words[kw] && agricultural < 2 {
			return false
		}
	}

	// Short greetings and follow-up fragments carry no topical keywords at
	// all; those still route to the fallback responder rather than being
	// rejected.
	return true
}

// RedirectReply is the deterministic response for non-agricultural messages.
func RedirectReply() string {
	return "I'm specialized in agricultural topics. Try asking about crops, soil, weather, or farming practices for this zone instead."
}
