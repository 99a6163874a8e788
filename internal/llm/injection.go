// ABOUTME: Prompt injection screening applied to user input before a model request
// ABOUTME: Pattern table precompiled at startup; highest-confidence match wins

package llm

import "regexp"

var injectionPatterns = []struct {
	re         *regexp.Regexp
	confidence float32
	detail     string
}{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`), 0.95, "override: ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), 0.95, "override: disregard instructions"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`), 0.90, "override: forget instructions"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+`), 0.85, "identity override: you are now"},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), 0.85, "identity override: from now on"},
	{regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`), 0.85, "identity override: new role"},
	{regexp.MustCompile(`(?i)\[SYSTEM\]`), 0.90, "delimiter injection: [SYSTEM] tag"},
	{regexp.MustCompile(`(?i)<\|im_start\|>system`), 0.95, "delimiter injection: ChatML system tag"},
	{regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW INSTRUCTION)`), 0.90, "delimiter injection: markdown system header"},
	{regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`), 0.95, "explicit override attempt"},
	{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "explicit bypass attempt"},
	{regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)`), 0.90, "instruction negation"},
	{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},
	{regexp.MustCompile(`(?i)output\s+(your|the)\s+(system|initial|original)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},
}

// scanInjection checks text against the injection pattern table and returns
// the detail of the highest-confidence match, if any.
func scanInjection(text string) (string, bool) {
	var best float32
	var detail string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) && p.confidence > best {
			best = p.confidence
			detail = p.detail
		}
	}
	return detail, best > 0
}
