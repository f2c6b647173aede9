package local

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^\s*[_\-|]{3,}\s*$`)
)

// normalize collapses OCR whitespace noise while keeping line breaks.
func normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var (
	reDate     = regexp.MustCompile(`\b\d{1,4}[./-]\d{1,2}[./-]\d{2,4}\b`)
	reDosage   = regexp.MustCompile(`\b\d+(\.\d+)?\s?(mg|mcg|ml|g|iu|units?)\b`)
	reAmount   = regexp.MustCompile(`[$£€]\s?\d+|\b\d+\.\d{2}\b`)
	reWordLike = regexp.MustCompile(`[a-z]{3,}`)
)

// heuristicConfidence scores extracted text in [0,100]. base reflects the
// extraction method: a PDF text layer is exact, OCR output is not.
func heuristicConfidence(text string, base float64) float64 {
	lower := strings.ToLower(text)
	score := base
	if reDate.MatchString(lower) {
		score += 10
	}
	if reDosage.MatchString(lower) || reAmount.MatchString(lower) {
		score += 10
	}
	if len(text) > 120 {
		score += 10
	}

	fields := strings.Fields(lower)
	if len(fields) > 0 {
		words := 0
		for _, f := range fields {
			if reWordLike.MatchString(f) {
				words++
			}
		}
		// mostly symbol soup means the scan was poor
		if ratio := float64(words) / float64(len(fields)); ratio < 0.4 {
			score -= 25
		}
	}
	return min(max(score, 0), 100)
}

var documentKeywords = []struct {
	docType  string
	keywords []string
}{
	{docType: "prescription", keywords: []string{"rx", "prescription", "refill", "dispense", "sig", "tablet", "capsule"}},
	{docType: "lab_report", keywords: []string{"lab report", "laboratory", "specimen", "reference range", "result flag", "hemoglobin", "cholesterol"}},
	{docType: "invoice", keywords: []string{"invoice", "amount due", "balance due", "statement", "billing", "payment"}},
	{docType: "referral", keywords: []string{"referral", "referred to", "refer to", "specialist"}},
	{docType: "discharge_summary", keywords: []string{"discharge summary", "discharged", "admission date", "hospital course"}},
	{docType: "appointment_letter", keywords: []string{"appointment", "scheduled for", "please arrive", "reschedule"}},
}

var reToken = regexp.MustCompile(`[a-z0-9]+`)

// classify returns the document type with the most keyword hits, or "" when
// nothing matches.
func classify(text string) string {
	lower := strings.ToLower(text)
	tokens := make(map[string]struct{})
	for _, tok := range reToken.FindAllString(lower, -1) {
		tokens[tok] = struct{}{}
	}

	best, bestHits := "", 0
	for _, candidate := range documentKeywords {
		hits := 0
		for _, kw := range candidate.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					hits++
				}
				continue
			}
			if _, ok := tokens[kw]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = candidate.docType, hits
		}
	}
	return best
}
