package verifier

import "strings"

// #region hedge-patterns

// hedgePatterns mark a sentence as a disclaimer/hedge rather than a factual
// assertion, so the grounding check doesn't penalize a draft for failing to
// anchor a sentence that was never making a claim in the first place.
// Grounded on the teacher's orchestrator/evaluator.go deflectionPatterns
// and rlhfPatterns keyword-list idiom, repurposed here to classify claims
// instead of scoring response quality.
var hedgePatterns = []string{
	"i'm not sure", "i am not sure", "i think", "i believe", "it's possible",
	"it is possible", "might be", "could be", "as an ai", "i cannot verify",
	"i don't have", "i do not have", "to my knowledge", "as far as i know",
}

// #endregion hedge-patterns

// #region claim-extraction

// extractClaims splits text into sentences and keeps the ones that look
// like factual assertions rather than hedges, questions, or filler too
// short to anchor meaningfully.
func extractClaims(text string) []string {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})

	var claims []string
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) < 15 {
			continue
		}
		lower := strings.ToLower(trimmed)
		if isHedge(lower) {
			continue
		}
		claims = append(claims, trimmed)
	}
	return claims
}

func isHedge(lower string) bool {
	for _, p := range hedgePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// #endregion claim-extraction
