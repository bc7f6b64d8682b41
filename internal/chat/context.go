package chat

import (
	"strings"
	"time"

	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/quality"
	"github.com/kassym/agrozone/internal/suitability"
)

// MessageKind classifies how the reply should be framed. It never changes
// which handler runs.
type MessageKind int

const (
	// KindFresh is a standalone question.
	KindFresh MessageKind = iota
	// KindFollowUp continues the previous exchange.
	KindFollowUp
	// KindClarification asks for an explanation of the previous answer.
	KindClarification
)

// followUpIndicators is the fixed continuation/pronoun indicator set. A
// message containing any of these words refers back to earlier conversation.
var followUpIndicators = []string{
	"it", "that", "this", "them", "they", "those", "these",
	"also", "what about", "how about",
}

// clarificationPhrases is the fixed explanation-request set.
var clarificationPhrases = []string{
	"what do you mean", "what does that mean", "elaborate", "explain",
	"clarify", "don't understand", "do not understand", "confused",
	"in other words", "simpler terms",
}

// RecommendationView is the recommendation data exposed to chat handlers.
type RecommendationView struct {
	ID         string
	Status     string
	Crops      []suitability.CropSuitability
	Confidence float64
	CreatedAt  time.Time
}

// Context is the write-once aggregate handed to the generation collaborator
// or the fallback router. It is rebuilt per request and never persisted.
type Context struct {
	ZoneID   string
	ZoneName string
	Season   string

	// Recommendation is nil when the zone has none yet; Features then
	// carries the zone's most recent aggregated data instead.
	Recommendation *RecommendationView
	Features       *features.Vector

	Quality quality.Assessment
	Risks   quality.RiskReport

	ConversationSummary string

	// External is the opaque weather/news blob supplied by the caller.
	// The builder never fetches it.
	External map[string]any

	UserMessage string
	Kind        MessageKind
}

// BuildInput carries everything the builder composes into a Context.
type BuildInput struct {
	ZoneID              string
	ZoneName            string
	Recommendation      *RecommendationView
	Features            *features.Vector
	Quality             quality.Assessment
	Risks               quality.RiskReport
	ConversationSummary string
	External            map[string]any
	UserMessage         string
}

// Builder assembles chat contexts. It performs no I/O and calls no
// collaborators; the clock is injected for season derivation.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder; a nil clock falls back to time.Now.
func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now}
}

// Build composes one Context. The message is classified as a clarification
// request or a follow-up (at most one applies); a follow-up classification
// requires existing conversation history, otherwise the message is treated
// as a fresh query.
func (b *Builder) Build(in BuildInput) Context {
	return Context{
		ZoneID:              in.ZoneID,
		ZoneName:            in.ZoneName,
		Season:              Season(b.now().Month()),
		Recommendation:      in.Recommendation,
		Features:            in.Features,
		Quality:             in.Quality,
		Risks:               in.Risks,
		ConversationSummary: in.ConversationSummary,
		External:            in.External,
		UserMessage:         in.UserMessage,
		Kind:                Classify(in.UserMessage, in.ConversationSummary != ""),
	}
}

// Season maps a calendar month onto one of four fixed buckets.
func Season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Autumn"
	}
}

// Classify determines the message kind. Clarification requests win over
// follow-ups; follow-up indicators only count when the thread has history.
func Classify(message string, hasHistory bool) MessageKind {
	lower := strings.ToLower(message)

	for _, phrase := range clarificationPhrases {
		if strings.Contains(lower, phrase) {
			return KindClarification
		}
	}

	if hasHistory {
		words := tokenize(lower)
		for _, ind := range followUpIndicators {
			if strings.Contains(ind, " ") {
				if strings.Contains(lower, ind) {
					return KindFollowUp
				}
				continue
			}
			if words[ind] {
				return KindFollowUp
			}
		}
	}

	return KindFresh
}

// tokenize splits a lowered message into a word set, stripping punctuation,
// so short indicators like "it" match whole words only.
func tokenize(lower string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// CropNames returns the recommended crop names in rank order, or nil when no
// recommendation is present.
func (c Context) CropNames() []string {
	if c.Recommendation == nil {
		return nil
	}
	names := make([]string, 0, len(c.Recommendation.Crops))
	for _, crop := range c.Recommendation.Crops {
		names = append(names, crop.CropName)
	}
	return names
}
