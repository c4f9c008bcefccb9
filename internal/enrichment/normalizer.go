package enrichment

import (
	"strconv"
	"strings"

	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/kb"
)

// maxReplyWords is the hard word cap applied to suggested replies.
const maxReplyWords = 140

// truncationMarker is appended to a reply that was cut at the word cap.
const truncationMarker = "…"

type (
	// RawAnnotation is the LLM's parsed JSON output before normalization.
	// Risk is deliberately untyped: models occasionally emit it as a string
	// or omit it, and the normalizer coerces rather than rejects.
	//nolint:tagliatelle // keys match the LLM response contract
	RawAnnotation struct {
		Summary        string `json:"summary"`
		Category       string `json:"category"`
		Sentiment      string `json:"sentiment"`
		Risk           any    `json:"risk"`
		SuggestedReply string `json:"suggested_reply"`
	}

	// Annotation is the normalized enrichment: every field is guaranteed to
	// satisfy the committed-row invariants (enum closure, risk within [0,1]).
	Annotation struct {
		Summary        string
		Category       string
		Sentiment      string
		Risk           float64
		SuggestedReply string
	}

	// Normalizer maps raw LLM annotations into the closed vocabulary.
	// Thread-safe for concurrent use (immutable after construction).
	Normalizer struct {
		aliases map[string]string
	}
)

// categoryKeywordRules is the first-match keyword table applied to categories
// outside the enum. Order matters: rules are evaluated top to bottom and the
// first keyword hit wins.
var categoryKeywordRules = []struct {
	keywords []string
	category string
}{
	{[]string{"billing", "invoice", "refund", "charge"}, CategoryBilling},
	{[]string{"security", "breach", "incident"}, CategorySecurityIncident},
	{[]string{"refresh"}, CategoryDataRefresh},
	{[]string{"export"}, CategoryExports},
	{[]string{"feature", "roadmap"}, CategoryFeatureRequest},
	{[]string{"oauth", "api key", "integration"}, CategoryIntegration},
	{[]string{"alert", "notification", "slack"}, CategoryNotifications},
	{[]string{"login", "password", "account", "access"}, CategoryAccountAccess},
}

// negativeSentimentAliases and positiveSentimentAliases fold common
// off-vocabulary sentiment labels into the enum.
var (
	negativeSentimentAliases = map[string]bool{"frustrated": true, "angry": true, "upset": true}
	positiveSentimentAliases = map[string]bool{"happy": true, "satisfied": true}
)

// NewNormalizer creates a normalizer. cfg may be nil, in which case no
// deployment-specific category aliases are applied.
func NewNormalizer(cfg *AliasConfig) *Normalizer {
	n := &Normalizer{aliases: map[string]string{}}

	if cfg == nil {
		return n
	}

	for alias, canonical := range cfg.CategoryAliases {
		n.aliases[strings.ToLower(strings.TrimSpace(alias))] = canonical
	}

	return n
}

// Normalize coerces a raw LLM annotation into the committed vocabulary.
func (n *Normalizer) Normalize(raw *RawAnnotation) *Annotation {
	return &Annotation{
		Summary:        strings.TrimSpace(raw.Summary),
		Category:       n.NormalizeCategory(raw.Category),
		Sentiment:      NormalizeSentiment(raw.Sentiment),
		Risk:           NormalizeRisk(raw.Risk),
		SuggestedReply: TrimReply(raw.SuggestedReply),
	}
}

// NormalizeRisk coerces an arbitrary JSON value to a risk score in [0,1].
// Non-numeric values become 0.0; numeric values are clamped.
func NormalizeRisk(v any) float64 {
	var risk float64

	switch value := v.(type) {
	case float64:
		risk = value
	case int:
		risk = float64(value)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0.0
		}

		risk = parsed
	default:
		return 0.0
	}

	if risk < 0 {
		return 0.0
	}

	if risk > 1 {
		return 1.0
	}

	return risk
}

// NormalizeSentiment folds a free-form sentiment label into the enum.
func NormalizeSentiment(s string) string {
	sentiment := strings.ToLower(strings.TrimSpace(s))

	switch {
	case ValidSentiment(sentiment):
		return sentiment
	case negativeSentimentAliases[sentiment]:
		return SentimentNegative
	case positiveSentimentAliases[sentiment]:
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

// NormalizeCategory folds a free-form category label into the enum.
//
// Resolution order: exact enum match, then deployment-configured aliases,
// then the first-match keyword table, then "general".
func (n *Normalizer) NormalizeCategory(s string) string {
	category := strings.ToLower(strings.TrimSpace(s))

	if ValidCategory(category) {
		return category
	}

	if canonical, ok := n.aliases[category]; ok {
		return canonical
	}

	for _, rule := range categoryKeywordRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(category, keyword) {
				return rule.category
			}
		}
	}

	return CategoryGeneral
}

// TrimReply truncates a reply at maxReplyWords words (whitespace-split),
// appending a truncation marker. Replies within the cap are returned
// unmodified, preserving their newline structure.
func TrimReply(s string) string {
	words := strings.Fields(s)
	if len(words) <= maxReplyWords {
		return s
	}

	return strings.Join(words[:maxReplyWords], " ") + truncationMarker
}

// CitationsFrom derives outbound citations from the chunks that were
// presented to the LLM. Chunks without a persisted id are dropped; missing
// titles default to "Untitled".
func CitationsFrom(chunks []kb.Chunk) []event.Citation {
	var citations []event.Citation

	for _, chunk := range chunks {
		if chunk.ID == 0 {
			continue
		}

		title := chunk.Title
		if title == "" {
			title = "Untitled"
		}

		citations = append(citations, event.Citation{
			ChunkID:     chunk.ID,
			Title:       title,
			HeadingPath: chunk.HeadingPath,
		})
	}

	return citations
}
