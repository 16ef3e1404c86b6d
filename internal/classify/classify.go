// Package classify implements the unanswered-question heuristic.
//
// This is a deterministic rule chain, not an NLP model: false positives and
// negatives are expected. The required properties are determinism and
// configurability.
package classify

import "strings"

// Defaults mirror the operator policy: skip posts already under discussion,
// skip degenerate or spam-shaped lengths, and stay away from moderation and
// charged topics entirely.
var (
	DefaultDenyList = []string{
		"nsfw", "politics", "political", "religion",
		"banned", "moderator", "mod team", "meta:",
		"suicide", "self-harm",
	}
	DefaultIntentPhrases = []string{
		"how do i", "how can i", "how to",
		"what is", "what are", "why does", "why is",
		"does anyone know", "can someone", "can anyone",
		"is there a way", "need help", "help with",
	}
)

const (
	DefaultMaxComments = 3
	DefaultMinChars    = 15
	DefaultMaxChars    = 2000
)

// Rules configures the classifier. Zero values fall back to defaults; an
// explicitly empty deny list is honored by passing a non-nil empty slice.
type Rules struct {
	MaxComments   int
	MinChars      int
	MaxChars      int
	DenyList      []string
	IntentPhrases []string
}

func (r Rules) withDefaults() Rules {
	if r.MaxComments <= 0 {
		r.MaxComments = DefaultMaxComments
	}
	if r.MinChars <= 0 {
		r.MinChars = DefaultMinChars
	}
	if r.MaxChars <= 0 {
		r.MaxChars = DefaultMaxChars
	}
	if r.DenyList == nil {
		r.DenyList = DefaultDenyList
	}
	if r.IntentPhrases == nil {
		r.IntentPhrases = DefaultIntentPhrases
	}
	return r
}

type Classifier struct {
	rules   Rules
	deny    []string
	intents []string
}

func New(rules Rules) *Classifier {
	rules = rules.withDefaults()
	c := &Classifier{rules: rules}
	for _, w := range rules.DenyList {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			c.deny = append(c.deny, w)
		}
	}
	for _, p := range rules.IntentPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.intents = append(c.intents, p)
		}
	}
	return c
}

// IsCandidateQuestion decides whether a post looks like a genuinely
// unanswered question worth targeting. Rules apply in order:
//
//  1. posts with too many comments are already being discussed
//  2. combined length outside the band is empty or abuse-shaped
//  3. any deny-listed term rejects outright
//  4. a question mark accepts
//  5. otherwise a question-intent phrase anywhere in the text accepts
func (c *Classifier) IsCandidateQuestion(title, body string, commentCount int) bool {
	if commentCount > c.rules.MaxComments {
		return false
	}

	combined := strings.TrimSpace(title)
	if b := strings.TrimSpace(body); b != "" {
		combined += " " + b
	}
	if n := len(combined); n < c.rules.MinChars || n > c.rules.MaxChars {
		return false
	}

	lower := strings.ToLower(combined)
	for _, w := range c.deny {
		if strings.Contains(lower, w) {
			return false
		}
	}

	if strings.Contains(lower, "?") {
		return true
	}
	for _, p := range c.intents {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
