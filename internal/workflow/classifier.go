// Package workflow turns natural-language requests into classified,
// decomposed, resumable task executions.
package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/factotum-ai/factotum/internal/oracle"
)

// ClassKind is the coarse routing decision for an inbound request.
type ClassKind string

const (
	ClassSimple  ClassKind = "simple"
	ClassComplex ClassKind = "complex"
	ClassClarify ClassKind = "clarify"
)

// Classification is the routing decision plus its free-text detail: the
// action kind for simple requests, a description for complex ones, the
// questions to ask for clarifications.
type Classification struct {
	Kind     ClassKind
	Detail   string
	Fallback bool // decided by the deterministic classifier, not the oracle
}

const classifyPrompt = `Classify the user request below. Answer with exactly one line:

SIMPLE:<action-kind>     when one direct tool call handles it (action-kind: email, calendar, crm, or unknown)
COMPLEX:<description>    when it needs several ordered steps or waits on someone else's reply
CLARIFY:<questions>      when the request cannot be acted on without more information

Request: `

// Classify asks the oracle for a routing decision and falls back to the
// deterministic classifier when the oracle fails or answers unparseably.
// It always returns a classification.
func Classify(ctx context.Context, o oracle.Oracle, request string) Classification {
	answer, err := o.Complete(ctx, "", classifyPrompt+request)
	if err != nil {
		slog.Warn("oracle classification failed, using fallback", "error", err)
		return FallbackClassify(request)
	}

	if c, ok := parseClassification(answer); ok {
		return c
	}
	slog.Warn("unparseable classification, using fallback", "answer", answer)
	return FallbackClassify(request)
}

// parseClassification extracts a SIMPLE/COMPLEX/CLARIFY line from oracle
// output. The output is untrusted text; scan line by line.
func parseClassification(answer string) (Classification, bool) {
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SIMPLE:"):
			return Classification{Kind: ClassSimple, Detail: strings.TrimSpace(line[len("SIMPLE:"):])}, true
		case strings.HasPrefix(upper, "COMPLEX:"):
			return Classification{Kind: ClassComplex, Detail: strings.TrimSpace(line[len("COMPLEX:"):])}, true
		case strings.HasPrefix(upper, "CLARIFY:"):
			return Classification{Kind: ClassClarify, Detail: strings.TrimSpace(line[len("CLARIFY:"):])}, true
		}
	}
	return Classification{}, false
}

// sequencing connectives that mark a multi-step request
var complexMarkers = []string{
	"and then",
	"after that",
	"after ",
	"wait for",
	"waits for",
	"once they",
	"if they accept",
	"if she accepts",
	"if he accepts",
	"follow up",
	"then ",
}

var keywordFamilies = []struct {
	kind  string
	words []string
}{
	{"email", []string{"email", "mail ", "reply", "inbox", "send a message", "write to"}},
	{"calendar", []string{"calendar", "meeting", "schedule", "appointment", "invite", "event"}},
	{"crm", []string{"hubspot", "crm", "contact record", "deal", "pipeline"}},
}

// FallbackClassify is the deterministic classifier used when the oracle is
// unavailable. Pure string work, total: it always returns a classification.
func FallbackClassify(request string) Classification {
	lower := strings.ToLower(request)

	for _, marker := range complexMarkers {
		if strings.Contains(lower, marker) {
			return Classification{Kind: ClassComplex, Detail: request, Fallback: true}
		}
	}

	for _, family := range keywordFamilies {
		for _, word := range family.words {
			if strings.Contains(lower, word) {
				return Classification{Kind: ClassSimple, Detail: family.kind, Fallback: true}
			}
		}
	}

	return Classification{Kind: ClassSimple, Detail: "unknown", Fallback: true}
}
