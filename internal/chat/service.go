package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kassym/agrozone/internal/features"
)

// DefaultGenerationTimeout bounds one generation collaborator call.
const DefaultGenerationTimeout = 30 * time.Second

// historyDepth is how many thread messages feed the prompt summary.
const historyDepth = 10

// Generator is the text-generation collaborator contract. It may time out
// or fail; the service then falls back to the deterministic router.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Archiver persists chat exchanges durably. Optional.
type Archiver interface {
	ArchiveExchange(threadKey, userText, assistantText string) error
}

// Service answers chat messages: it builds the context, prefers the
// generation collaborator, falls back to the rule router on any collaborator
// failure, and appends the exchange to the bounded thread. Chat never
// surfaces a collaborator failure to the end user.
type Service struct {
	threads *ThreadStore
	builder *Builder
	router  *Router
	topics  TopicClassifier
	gen     Generator // nil disables generation entirely
	archive Archiver  // nil disables archiving
	timeout time.Duration
}

// NewService wires the chat service. gen and archive may be nil.
func NewService(threads *ThreadStore, builder *Builder, router *Router, topics TopicClassifier, gen Generator, archive Archiver, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if topics == nil {
		topics = KeywordTopicClassifier{}
	}
	return &Service{
		threads: threads,
		builder: builder,
		router:  router,
		topics:  topics,
		gen:     gen,
		archive: archive,
		timeout: timeout,
	}
}

// ZoneKey builds the thread key for zone-scoped chat.
func ZoneKey(zoneID string) string {
	return "zone:" + zoneID
}

// RecommendationKey builds the thread key for recommendation-scoped chat.
func RecommendationKey(recommendationID, userID string) string {
	return "rec:" + recommendationID + ":user:" + userID
}

// Handle answers one user message for the thread identified by key. The
// reply is always non-empty text; collaborator failures are recovered
// locally. If ctx is cancelled before a reply is produced, the error is
// returned and no partial message is appended to the thread.
func (s *Service) Handle(ctx context.Context, key string, in BuildInput) (string, error) {
	in.ConversationSummary = s.threads.Summary(key, historyDepth)
	chatCtx := s.builder.Build(in)

	reply, err := s.respond(ctx, chatCtx)
	if err != nil {
		// Only context cancellation propagates; discard without touching
		// the thread.
		return "", err
	}

	reply = frame(chatCtx.Kind, reply)

	s.threads.Append(key, RoleUser, in.UserMessage)
	s.threads.Append(key, RoleAssistant, reply)

	if s.archive != nil {
		if err := s.archive.ArchiveExchange(key, in.UserMessage, reply); err != nil {
			slog.Warn("chat: archiving exchange failed", "key", key, "error", err)
		}
	}

	return reply, nil
}

// respond produces the reply text: redirect for off-topic messages, then
// the generation collaborator, then the deterministic router.
func (s *Service) respond(ctx context.Context, chatCtx Context) (string, error) {
	if !s.topics.IsAgricultural(chatCtx.UserMessage) {
		return RedirectReply(), nil
	}

	if s.gen != nil {
		genCtx, cancel := context.WithTimeout(ctx, s.timeout)
		reply, err := s.gen.Generate(genCtx, BuildPrompt(chatCtx))
		cancel()
		switch {
		case err == nil && strings.TrimSpace(reply) != "":
			return reply, nil
		case ctx.Err() != nil:
			// The enclosing request was cancelled: abandon the call and
			// discard the partial context.
			return "", ctx.Err()
		default:
			slog.Warn("chat: generation failed, using fallback responder", "error", err)
		}
	}

	return s.router.Respond(chatCtx), nil
}

// frame prefixes the reply according to the message classification. The
// underlying answer is never rewritten.
func frame(kind MessageKind, reply string) string {
	switch kind {
	case KindFollowUp:
		return "Following up on that: " + reply
	case KindClarification:
		return "To clarify: " + reply
	default:
		return reply
	}
}

// BuildPrompt renders the chat context into the generation prompt.
func BuildPrompt(c Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an agronomy assistant for zone %s. Current season: %s.\n", zoneLabel(c), c.Season)

	if c.Recommendation != nil && len(c.Recommendation.Crops) > 0 {
		b.WriteString("Current crop recommendation:\n")
		for _, crop := range c.Recommendation.Crops {
			fmt.Fprintf(&b, "  %d. %s — %.1f%% suitability\n", crop.Rank, crop.CropName, crop.ScorePercent)
		}
	}

	if vec := c.Features; vec != nil && !vec.NoData {
		b.WriteString("Aggregated sensor data (field: mean):\n")
		for _, field := range features.NumericFields {
			if fs, ok := vec.Stat(field); ok {
				fmt.Fprintf(&b, "  %s: %.2f\n", field, fs.Mean)
			}
		}
	}

	fmt.Fprintf(&b, "Data quality: %d/100 (grade %s). Risk level: %s.\n", c.Quality.Score, c.Quality.Grade, c.Risks.Level)
	for _, r := range c.Risks.Risks {
		fmt.Fprintf(&b, "Risk: %s (mitigation: %s)\n", r.Description, r.Mitigation)
	}

	if len(c.External) > 0 {
		b.WriteString("External context:\n")
		keys := make([]string, 0, len(c.External))
		for k := range c.External {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, c.External[k])
		}
	}

	if c.ConversationSummary != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(c.ConversationSummary)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "User question: %s\n", c.UserMessage)
	b.WriteString("Answer only agricultural questions; politely redirect anything else to farming topics.")

	return b.String()
}
