// Package taskpolicy holds task derivation heuristics for completed scans.
package taskpolicy

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

var (
	// "Amoxicillin 500 mg", "Vitamin D3 1000 IU"
	reMedication = regexp.MustCompile(`(?i)\b([a-z][a-z\-]{2,}(?:[ \t]+[a-z][a-z0-9\-]*)?)[ \t]+\d+(?:[.,]\d+)? ?(mg|mcg|µg|ml|iu|units?)\b`)
	reDosing     = regexp.MustCompile(`(?i)\b(take|apply|inhale|inject|use)\b.*\b(daily|once|twice|times|every|hours|morning|evening|bedtime|with food)\b`)
	reFollowUp   = regexp.MustCompile(`(?i)\b(follow[\s-]?up|return (?:visit|in)|next appointment|see (?:you|me) in|revisit)\b`)
	reLabWork    = regexp.MustCompile(`(?i)\b(blood (?:test|work|draw)|lab(?:oratory)? (?:work|test|order)s?|fasting|urinalysis|labs)\b`)
	reReferral   = regexp.MustCompile(`(?i)\b(referr(?:al|ed)|refer to)\b`)
	reAmountDue  = regexp.MustCompile(`(?i)\b(amount due|balance due|total due|please pay|payment due)\b`)
)

// stopWords never start a medication name.
var stopWords = map[string]struct{}{
	"take": {}, "dose": {}, "total": {}, "daily": {}, "with": {}, "each": {}, "per": {}, "and": {}, "the": {},
}

const maxInstructionLen = 120

// KeywordPolicy derives tasks from regular expressions over the extracted
// text. It is deterministic and never calls out.
type KeywordPolicy struct{}

func NewKeywordPolicy() KeywordPolicy {
	return KeywordPolicy{}
}

func (KeywordPolicy) Derive(_ context.Context, job domain.ScanJob) ([]domain.TaskDraft, error) {
	if job.Result == nil {
		return nil, nil
	}
	text := job.Result.ExtractedText
	docType := job.Result.DocumentType

	var drafts []domain.TaskDraft
	// lab values look like strengths
	if docType != "lab_report" {
		for _, name := range medications(text) {
			drafts = append(drafts, domain.TaskDraft{Title: "Refill prescription for " + name, Priority: domain.TaskPriorityHigh})
		}
	}
	for _, line := range dosingLines(text) {
		drafts = append(drafts, domain.TaskDraft{Title: "Follow dosing instructions: " + line, Priority: domain.TaskPriorityHigh})
	}
	if docType == "prescription" && len(drafts) == 0 {
		drafts = append(drafts, domain.TaskDraft{Title: "Review new prescription", Priority: domain.TaskPriorityMedium})
	}
	if reFollowUp.MatchString(text) || docType == "appointment_letter" {
		drafts = append(drafts, domain.TaskDraft{Title: "Book follow-up appointment", Priority: domain.TaskPriorityMedium})
	}
	if reLabWork.MatchString(text) {
		drafts = append(drafts, domain.TaskDraft{Title: "Schedule lab work", Priority: domain.TaskPriorityMedium})
	}
	if reReferral.MatchString(text) || docType == "referral" {
		drafts = append(drafts, domain.TaskDraft{Title: "Contact specialist about referral", Priority: domain.TaskPriorityMedium})
	}
	if reAmountDue.MatchString(text) || docType == "invoice" {
		drafts = append(drafts, domain.TaskDraft{Title: "Pay medical bill", Priority: domain.TaskPriorityLow})
	}
	return drafts, nil
}

func medications(text string) []string {
	var out []string
	for _, match := range reMedication.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(match[1])
		words := strings.Fields(name)
		for len(words) > 0 {
			if _, stop := stopWords[strings.ToLower(words[0])]; !stop {
				break
			}
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		out = append(out, titleCase(strings.Join(words, " ")))
	}
	return out
}

func dosingLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || !reDosing.MatchString(line) {
			continue
		}
		if runes := []rune(line); len(runes) > maxInstructionLen {
			line = strings.TrimSpace(string(runes[:maxInstructionLen])) + "…"
		}
		out = append(out, line)
	}
	return out
}

func titleCase(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
