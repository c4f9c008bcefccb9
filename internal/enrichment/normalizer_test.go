package enrichment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-intel/enricher/internal/kb"
)

func TestNormalizeRisk(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"float in range", 0.7, 0.7},
		{"zero", 0.0, 0.0},
		{"one", 1.0, 1.0},
		{"clamped above", 3.5, 1.0},
		{"clamped below", -0.2, 0.0},
		{"numeric string", "0.45", 0.45},
		{"numeric string with spaces", " 0.9 ", 0.9},
		{"non-numeric string", "high", 0.0},
		{"nil", nil, 0.0},
		{"bool", true, 0.0},
		{"int", 1, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeRisk(tt.in), 1e-9)
		})
	}
}

func TestNormalizeSentiment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"positive", SentimentPositive},
		{"neutral", SentimentNeutral},
		{"negative", SentimentNegative},
		{"  Negative ", SentimentNegative},
		{"frustrated", SentimentNegative},
		{"Angry", SentimentNegative},
		{"upset", SentimentNegative},
		{"happy", SentimentPositive},
		{"satisfied", SentimentPositive},
		{"mixed", SentimentNeutral},
		{"", SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSentiment(tt.in))
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"billing", CategoryBilling},
		{" Billing ", CategoryBilling},
		{"security_incident", CategorySecurityIncident},
		{"invoice dispute", CategoryBilling},
		{"refund request", CategoryBilling},
		{"possible data breach", CategorySecurityIncident},
		{"nightly refresh failed", CategoryDataRefresh},
		{"csv export broken", CategoryExports},
		{"feature idea", CategoryFeatureRequest},
		{"roadmap question", CategoryFeatureRequest},
		{"oauth token expired", CategoryIntegration},
		{"api key rotation", CategoryIntegration},
		{"slack alerts too noisy", CategoryNotifications},
		{"cannot login", CategoryAccountAccess},
		{"password reset loop", CategoryAccountAccess},
		{"something else entirely", CategoryGeneral},
		{"", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NormalizeCategory(tt.in))
		})
	}
}

func TestNormalizeCategoryFirstMatchOrder(t *testing.T) {
	n := NewNormalizer(nil)

	// "billing" appears before "account" in the rule table, so a label
	// containing both resolves to billing.
	assert.Equal(t, CategoryBilling, n.NormalizeCategory("account billing question"))

	// "security" outranks "login".
	assert.Equal(t, CategorySecurityIncident, n.NormalizeCategory("login security review"))
}

func TestNormalizeCategoryWithAliases(t *testing.T) {
	n := NewNormalizer(&AliasConfig{CategoryAliases: map[string]string{
		"payments": CategoryBilling,
		"SSO":      CategoryAccountAccess,
	}})

	assert.Equal(t, CategoryBilling, n.NormalizeCategory("payments"))
	assert.Equal(t, CategoryAccountAccess, n.NormalizeCategory("sso"))

	// Enum membership wins over aliases.
	assert.Equal(t, CategoryGeneral, n.NormalizeCategory("general"))

	// Unaliased labels still fall through to the keyword table.
	assert.Equal(t, CategoryExports, n.NormalizeCategory("export stuck"))
}

func TestTrimReply(t *testing.T) {
	t.Run("short reply unchanged", func(t *testing.T) {
		reply := "Thanks for reaching out.\n\n- Step one\n- Step two\n\nDoes that help?"
		assert.Equal(t, reply, TrimReply(reply))
	})

	t.Run("truncates at word cap", func(t *testing.T) {
		words := make([]string, 200)
		for i := range words {
			words[i] = "word"
		}

		got := TrimReply(strings.Join(words, " "))

		assert.True(t, strings.HasSuffix(got, truncationMarker))
		assert.Len(t, strings.Fields(strings.TrimSuffix(got, truncationMarker)), maxReplyWords)
	})

	t.Run("exactly at cap is unchanged", func(t *testing.T) {
		words := make([]string, maxReplyWords)
		for i := range words {
			words[i] = "w"
		}

		reply := strings.Join(words, " ")
		assert.Equal(t, reply, TrimReply(reply))
	})

	t.Run("empty reply", func(t *testing.T) {
		assert.Empty(t, TrimReply(""))
	})
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.Normalize(&RawAnnotation{
		Summary:        "  Customer locked out.  ",
		Category:       "Login problem",
		Sentiment:      "frustrated",
		Risk:           "0.8",
		SuggestedReply: "We can help with that.",
	})

	assert.Equal(t, "Customer locked out.", got.Summary)
	assert.Equal(t, CategoryAccountAccess, got.Category)
	assert.Equal(t, SentimentNegative, got.Sentiment)
	assert.InDelta(t, 0.8, got.Risk, 1e-9)
	assert.Equal(t, "We can help with that.", got.SuggestedReply)

	// Normalized annotations always satisfy the committed-row invariants.
	assert.True(t, ValidCategory(got.Category))
	assert.True(t, ValidSentiment(got.Sentiment))
	assert.GreaterOrEqual(t, got.Risk, 0.0)
	assert.LessOrEqual(t, got.Risk, 1.0)
}

func TestCitationsFrom(t *testing.T) {
	t.Run("derives citations in order", func(t *testing.T) {
		chunks := []kb.Chunk{
			{ID: 12, Title: "Password Reset Guide", HeadingPath: "Troubleshooting > Lockouts"},
			{ID: 0, Title: "Not persisted"},
			{ID: 15, Title: "", HeadingPath: ""},
		}

		citations := CitationsFrom(chunks)
		require.Len(t, citations, 2)

		assert.EqualValues(t, 12, citations[0].ChunkID)
		assert.Equal(t, "Password Reset Guide", citations[0].Title)
		assert.Equal(t, "Troubleshooting > Lockouts", citations[0].HeadingPath)

		assert.EqualValues(t, 15, citations[1].ChunkID)
		assert.Equal(t, "Untitled", citations[1].Title)
		assert.Empty(t, citations[1].HeadingPath)
	})

	t.Run("no chunks yields no citations", func(t *testing.T) {
		assert.Nil(t, CitationsFrom(nil))
	})
}
