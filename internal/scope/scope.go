// ABOUTME: Scope classifier that decides whether a message topic is one the assistant may address
// ABOUTME: Ordered regex matchers over redacted text plus a static capability table

package scope

import (
	"regexp"
	"strings"
)

// SupportLevel describes how far the assistant may go on a topic.
type SupportLevel string

const (
	Supported   SupportLevel = "supported"
	Unsupported SupportLevel = "unsupported"
	Partial     SupportLevel = "partial"
)

// Decision is the classifier's output for one user turn. It is derived once
// and drives a hard branch in the turn state machine.
type Decision struct {
	Topic      string
	Level      SupportLevel
	Confidence float64
}

// OutOfScopePolicy is the canned assistant response for unsupported topics.
// {{TOPIC}} is substituted with the matched topic before delivery.
const OutOfScopePolicy = "I can't help with {{TOPIC}} questions. I'm a personal finance assistant: I can summarize your spending, track budgets and goals, look up transactions, and set reminders. For {{TOPIC}} matters, please consult a qualified professional."

// capabilities is the static topic -> support level table. Topics absent from
// the table are treated as supported (the matcher set is closed, so this only
// affects the default decision).
var capabilities = map[string]SupportLevel{
	"spending_summary": Supported,
	"budgeting":        Supported,
	"transactions":     Supported,
	"receipts":         Supported,
	"reminders":        Supported,
	"goals":            Supported,
	"debt":             Supported,
	"forecasting":      Partial,
	"tax":              Unsupported,
	"investment":       Unsupported,
	"legal":            Unsupported,
	"medical":          Unsupported,
	"general_help":     Supported,
}

// matchers are evaluated in order; the highest-confidence match wins and
// equal confidence keeps the first-seen match.
var matchers = []struct {
	topic      string
	re         *regexp.Regexp
	confidence float64
}{
	{"tax", regexp.MustCompile(`(?i)\b(tax|taxes|deduction|cra|irs|gst|hst|pst|t4|t5|1099|w-?2|write[- ]?off|tax return)\b`), 0.95},
	{"investment", regexp.MustCompile(`(?i)\b(invest|investing|investment|stocks?|etf|crypto|bitcoin|portfolio|401k|rrsp|ira)\b`), 0.95},
	{"legal", regexp.MustCompile(`(?i)\b(lawsuit|sue|lawyer|attorney|legal advice|contract dispute)\b`), 0.95},
	{"medical", regexp.MustCompile(`(?i)\b(diagnos\w*|symptom|prescription|medical advice|treatment plan)\b`), 0.95},
	{"spending_summary", regexp.MustCompile(`(?i)(how much did i (make|earn|spend|pay)|what did i spend|(income|expense|spending) (summary|breakdown)|top (merchants|categories)|biggest (expenses|merchants))`), 0.9},
	{"debt", regexp.MustCompile(`(?i)\b(debt|loan|mortgage|line of credit|payday|interest rate|payoff|pay off|overdraft)\b`), 0.85},
	{"budgeting", regexp.MustCompile(`(?i)\b(budget\w*|spending (limit|cap)|allowance|save more|cut (back|costs|spending))\b`), 0.85},
	{"goals", regexp.MustCompile(`(?i)\b(goal|saving for|save up|target amount|milestone)\b`), 0.8},
	{"receipts", regexp.MustCompile(`(?i)\b(receipt|invoice|statement|upload|scan|ocr|pdf)\b`), 0.8},
	{"reminders", regexp.MustCompile(`(?i)\b(remind(er)?s?|due date|bill (due|coming)|notify me)\b`), 0.8},
	{"forecasting", regexp.MustCompile(`(?i)\b(forecast|projection|predict|trend|next (month|year))\b`), 0.7},
	{"transactions", regexp.MustCompile(`(?i)\b(transactions?|purchases?|charges?|payments?|spent at|paid (to|at))\b`), 0.7},
}

// Classify derives the scope decision for one redacted user message. It is a
// pure function of the text and the static tables above.
func Classify(redactedText string) Decision {
	best := Decision{Topic: "general_help", Level: Supported, Confidence: 0.3}
	matched := false

	text := strings.TrimSpace(redactedText)
	for _, m := range matchers {
		if !m.re.MatchString(text) {
			continue
		}
		// Strictly greater replaces; ties keep the first-seen match.
		if !matched || m.confidence > best.Confidence {
			best = Decision{Topic: m.topic, Level: levelFor(m.topic), Confidence: m.confidence}
			matched = true
		}
	}

	return best
}

// PolicyResponse renders the out-of-scope message for a topic.
func PolicyResponse(topic string) string {
	return strings.ReplaceAll(OutOfScopePolicy, "{{TOPIC}}", topic)
}

func levelFor(topic string) SupportLevel {
	if lvl, ok := capabilities[topic]; ok {
		return lvl
	}
	return Supported
}
