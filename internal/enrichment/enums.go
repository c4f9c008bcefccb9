// Package enrichment normalizes raw LLM annotations into the closed
// vocabulary the pipeline commits: category and sentiment enums, a bounded
// risk score, a word-capped suggested reply, and citations derived from the
// retrieved knowledge base chunks.
package enrichment

// Ticket categories.
const (
	CategoryAccountAccess    = "account_access"
	CategoryBilling          = "billing"
	CategorySecurityIncident = "security_incident"
	CategoryDataRefresh      = "data_refresh"
	CategoryExports          = "exports"
	CategoryFeatureRequest   = "feature_request"
	CategoryIntegration      = "integration"
	CategoryNotifications    = "notifications"
	CategoryGeneral          = "general"
)

// Ticket sentiments.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// categoryOrder is the canonical presentation order of the category enum.
var categoryOrder = []string{
	CategoryAccountAccess,
	CategoryBilling,
	CategorySecurityIncident,
	CategoryDataRefresh,
	CategoryExports,
	CategoryFeatureRequest,
	CategoryIntegration,
	CategoryNotifications,
	CategoryGeneral,
}

var sentimentOrder = []string{SentimentPositive, SentimentNeutral, SentimentNegative}

var validCategories = func() map[string]bool {
	m := make(map[string]bool, len(categoryOrder))
	for _, c := range categoryOrder {
		m[c] = true
	}

	return m
}()

var validSentiments = map[string]bool{
	SentimentPositive: true,
	SentimentNeutral:  true,
	SentimentNegative: true,
}

// ValidCategory reports whether s is a member of the category enum.
func ValidCategory(s string) bool {
	return validCategories[s]
}

// ValidSentiment reports whether s is a member of the sentiment enum.
func ValidSentiment(s string) bool {
	return validSentiments[s]
}

// Categories returns the category enum in canonical order.
func Categories() []string {
	out := make([]string, len(categoryOrder))
	copy(out, categoryOrder)

	return out
}

// Sentiments returns the sentiment enum in canonical order.
func Sentiments() []string {
	out := make([]string, len(sentimentOrder))
	copy(out, sentimentOrder)

	return out
}
