package workflow

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/factotum-ai/factotum/internal/oracle"
)

// ReplyAnalysis is the verdict on an inbound email reply.
type ReplyAnalysis string

const (
	ReplyAccepted ReplyAnalysis = "accepted"
	ReplyDeclined ReplyAnalysis = "declined"
	ReplyUnclear  ReplyAnalysis = "unclear"
)

const replyPrompt = `The reply below answers a request we sent (a proposed meeting, an asked question, a pending approval). Does it accept or decline?

Answer with exactly one word: ACCEPTED, DECLINED, or UNCLEAR.

Reply:
`

// ClassifyReply asks the oracle whether a reply accepts or declines, falling
// back to keyword analysis when the oracle fails or answers off-format.
func ClassifyReply(ctx context.Context, o oracle.Oracle, body string) ReplyAnalysis {
	if strings.TrimSpace(body) == "" {
		return ReplyUnclear
	}

	answer, err := o.Complete(ctx, "", replyPrompt+body)
	if err != nil {
		slog.Warn("oracle reply analysis failed, using fallback", "error", err)
		return FallbackReplyAnalysis(body)
	}

	switch {
	case strings.Contains(strings.ToUpper(answer), "ACCEPTED"):
		return ReplyAccepted
	case strings.Contains(strings.ToUpper(answer), "DECLINED"):
		return ReplyDeclined
	case strings.Contains(strings.ToUpper(answer), "UNCLEAR"):
		return ReplyUnclear
	}
	return FallbackReplyAnalysis(body)
}

var acceptTokens = []string{"yes", "sure", "confirmed", "perfect", "absolutely"}
var acceptPhrases = []string{"sounds good", "works for me", "see you", "looking forward"}
var declineTokens = []string{"no", "can't", "cannot", "unable", "decline", "unfortunately"}
var declinePhrases = []string{"won't work", "not available", "another time", "have to pass"}

// FallbackReplyAnalysis is the deterministic reply classifier. Declines win
// over accepts on mixed signals ("yes, but unfortunately...").
func FallbackReplyAnalysis(body string) ReplyAnalysis {
	lower := strings.ToLower(body)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	hasToken := func(want string) bool {
		for _, tok := range tokens {
			if tok == want {
				return true
			}
		}
		return false
	}

	for _, w := range declineTokens {
		if hasToken(w) {
			return ReplyDeclined
		}
	}
	for _, p := range declinePhrases {
		if strings.Contains(lower, p) {
			return ReplyDeclined
		}
	}
	for _, w := range acceptTokens {
		if hasToken(w) {
			return ReplyAccepted
		}
	}
	for _, p := range acceptPhrases {
		if strings.Contains(lower, p) {
			return ReplyAccepted
		}
	}
	return ReplyUnclear
}
