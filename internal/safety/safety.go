// Package safety normalizes and defuses text exchanged with generation
// providers.
//
// Image providers reject prompts their safety systems flag, and LLMs wrap
// answers in conversational chatter. This package owns both problems:
// stripping meta text from LLM output, steering image prompts with a safe
// header before first use, and softening prompts after a content policy
// rejection so the scene still gets a real image instead of a placeholder.
package safety

import (
	"regexp"
	"strings"

	"github.com/reelgen/reelgen/internal/provider"
	"golang.org/x/text/unicode/norm"
)

// maxPromptLen bounds a sanitized prompt. Providers truncate silently at
// varying lengths; clamping here keeps behavior deterministic.
const maxPromptLen = 1000

// safeHeader steers the image model toward acceptable output. Prepended
// once per prompt at generation time, never stored on the record.
const safeHeader = "Wholesome, family-friendly, safe-for-work, suitable for all ages: "

// softSuffix is appended exactly once when a prompt is softened after a
// content policy rejection.
const softSuffix = "wholesome, daylight, cinematic lighting"

// bannedTokens are removed outright when softening. These are the terms
// that keep tripping provider safety systems no matter how they are
// qualified.
var bannedTokens = regexp.MustCompile(`(?i)\b(` +
	`blood-?soaked|bloody|blood|gore|gory|corpse|dead bod(?:y|ies)|` +
	`kill(?:ing|ed|s)?|murder(?:ing|ed|s)?|slaughter|` +
	`gun|rifle|pistol|firearm|weapon|bomb|explosive|knife|blade|` +
	`naked|nude|nudity|sexual|seductive|erotic|` +
	`torture[d]?|mutilat(?:e|ed|ion)|suicide|self-?harm` +
	`)s?\b`)

// edgyAdjectives are style descriptors stripped after token removal; left
// in place they re-trigger the same rejection the softening is answering.
var edgyAdjectives = regexp.MustCompile(
	`(?i)\b(graphic|disturbing|terrifying|horrifying|grotesque|brutal|violent|sinister|menacing|nightmarish)\b`)

// controlChars matches C0/C1 control characters except newline.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// whitespaceRuns collapses any whitespace run (newlines included) to one space.
var whitespaceRuns = regexp.MustCompile(`\s+`)

// removalArtifacts matches the debris token removal leaves behind:
// doubled separators, separators butting against each other, and
// dangling commas.
var removalArtifacts = regexp.MustCompile(`\s*,(\s*,)+|\s{2,}|\s+([,.;:])`)

// SanitizePrompt prepares an image prompt for a provider call: NFKC
// normalization, control character removal, whitespace collapsing, the
// safe-style header, and a word-boundary length clamp. Empty input stays
// empty. Idempotent.
func SanitizePrompt(s string) string {
	s = norm.NFKC.String(s)
	s = controlChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	if !strings.HasPrefix(s, safeHeader) {
		s = safeHeader + s
	}

	return clampWords(s, maxPromptLen)
}

// SoftenPrompt rewrites a prompt after a content policy rejection: banned
// tokens are removed, residual edgy adjectives stripped, and the soft
// style suffix appended exactly once. When nothing is removed and the
// suffix is already present the input comes back unchanged, which makes
// softening idempotent and lets callers detect a no-op by comparison.
func SoftenPrompt(s string) string {
	out := bannedTokens.ReplaceAllString(s, "")
	out = edgyAdjectives.ReplaceAllString(out, "")
	if out != s {
		out = tidy(out)
	}

	if !strings.HasSuffix(out, softSuffix) {
		body := strings.TrimRight(strings.TrimSpace(out), " ,.;:")
		if body == "" {
			out = softSuffix
		} else {
			out = body + ", " + softSuffix
		}
	}

	if out == s {
		return s
	}
	return out
}

// tidy cleans up the separator debris left behind by token removal.
func tidy(s string) string {
	s = removalArtifacts.ReplaceAllStringFunc(s, func(m string) string {
		t := strings.TrimSpace(m)
		switch {
		case strings.HasPrefix(t, ","):
			return ","
		case t == "":
			return " "
		default:
			return t
		}
	})
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ",;: ")
	return strings.TrimSpace(s)
}

// policyPhrases are provider message fragments that indicate a safety
// rejection when the error carries no structured classification.
var policyPhrases = []string{
	"content policy",
	"content_policy",
	"safety system",
	"rejected by the safety",
	"violates our usage policies",
	"flagged by moderation",
}

// IsContentPolicyViolation reports whether err is a provider safety
// rejection, either by classified kind or by message sniffing for
// providers that only return free text.
func IsContentPolicyViolation(err error) bool {
	if err == nil {
		return false
	}
	if provider.KindOf(err) == provider.KindContentPolicy {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range policyPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// preambleLine matches conversational openers and model self-reference
// LLMs put before the content.
var preambleLine = regexp.MustCompile(
	`(?i)^\s*(sure|of course|certainly|absolutely|great|okay|` +
		`here(?:'s| is| are)\b|as an ai\b|as a language model\b|` +
		`i(?:'m| am) (?:sorry|happy to)\b|i apologize\b)[^\n]*$`)

// postambleLine matches closers after the content.
var postambleLine = regexp.MustCompile(
	`(?i)^\s*(let me know|hope (?:this|that|you)|feel free|i can also|would you like|if you (?:want|need))[^\n]*$`)

// StripMeta removes conversational wrapping from an LLM response:
// preamble and self-reference lines before the content, postamble lines
// after it, and a markdown code fence enclosing the whole payload. The
// content itself is left untouched, so the operation is idempotent.
func StripMeta(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")

	start := 0
	for start < len(lines) && (strings.TrimSpace(lines[start]) == "" || preambleLine.MatchString(lines[start])) {
		if preambleLine.MatchString(lines[start]) && !hasContentAfter(lines, start) {
			break
		}
		start++
	}

	end := len(lines)
	for end > start && (strings.TrimSpace(lines[end-1]) == "" || postambleLine.MatchString(lines[end-1])) {
		if postambleLine.MatchString(lines[end-1]) && end-1 == start {
			break
		}
		end--
	}

	s = strings.TrimSpace(strings.Join(lines[start:end], "\n"))

	// Unwrap a fence that encloses the whole remaining payload. Runs after
	// line stripping so "Here is the JSON:" followed by a fenced block still
	// unwraps.
	if strings.HasPrefix(s, "```") {
		fenced := strings.Split(s, "\n")
		if len(fenced) >= 2 && strings.HasPrefix(strings.TrimSpace(fenced[len(fenced)-1]), "```") {
			s = strings.TrimSpace(strings.Join(fenced[1:len(fenced)-1], "\n"))
		}
	}

	return s
}

// hasContentAfter reports whether any non-empty line follows index i.
func hasContentAfter(lines []string, i int) bool {
	for _, l := range lines[i+1:] {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// clampWords truncates s to at most n bytes, breaking at a word boundary
// with an ellipsis when truncation happens.
func clampWords(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;.") + "…"
}
