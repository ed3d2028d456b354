// Package script parses the labeled three-section script format and
// projects it for downstream consumers.
//
// The canonical form is three labeled sections:
//
//	HOOK: an attention line
//	BODY: the narration core
//	CTA: a closing call to action
//
// LLMs decorate labels with markdown or numbering and sometimes omit them
// entirely; Parse tolerates both. The Plain projection feeds TTS and the
// caption builder, so it strips everything a voice should not read.
package script

import (
	"errors"
	"regexp"
	"strings"
)

// maxSectionLen is the per-section budget enforced on generated scripts.
const maxSectionLen = 200

// previewLen bounds the list-view preview.
const previewLen = 200

// ErrEmpty is returned when the input contains no usable script text.
var ErrEmpty = errors.New("empty script")

// Script is a parsed three-section script.
type Script struct {
	Hook string
	Body string
	CTA  string
}

// labelLine matches a section label with optional markdown or numbering
// decoration: "HOOK:", "**BODY:** ...", "## CTA: ...", "1. HOOK: ...".
var labelLine = regexp.MustCompile(
	`(?i)^\s*(?:[#>*_-]+\s*|\d+[.)]\s*)*(hook|body|cta)\b[*_]*\s*:\s*[*_]*\s*(.*)$`)

// ruleLine matches pure decoration lines (horizontal rules, separators).
var ruleLine = regexp.MustCompile(`^\s*[-=*_]{3,}\s*$`)

// blockSeparator splits label-free text into blank-line blocks.
var blockSeparator = regexp.MustCompile(`\n\s*\n`)

// Parse extracts the three sections from raw script text. Labels are
// matched case-insensitively with arbitrary decoration; sections may span
// multiple lines. When no labels are present the text is split into
// blank-line blocks and assigned positionally: first block to hook, last
// to cta, middle to body; a single block becomes the body.
func Parse(raw string) (Script, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Script{}, ErrEmpty
	}

	sections := map[string][]string{}
	current := ""
	labelSeen := false
	for _, line := range strings.Split(text, "\n") {
		if ruleLine.MatchString(line) {
			continue
		}
		if m := labelLine.FindStringSubmatch(line); m != nil {
			labelSeen = true
			current = strings.ToLower(m[1])
			if rest := strings.TrimSpace(m[2]); rest != "" {
				sections[current] = append(sections[current], rest)
			}
			continue
		}
		if current == "" {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			sections[current] = append(sections[current], trimmed)
		}
	}

	var s Script
	if !labelSeen {
		s = positionalSplit(text)
	} else {
		s.Hook = strings.Join(sections["hook"], " ")
		s.Body = strings.Join(sections["body"], " ")
		s.CTA = strings.Join(sections["cta"], " ")
	}

	if s.IsZero() {
		return Script{}, ErrEmpty
	}
	return s, nil
}

// positionalSplit assigns blank-line blocks to sections when no labels
// were found.
func positionalSplit(text string) Script {
	var blocks []string
	for _, b := range blockSeparator.Split(text, -1) {
		b = strings.TrimSpace(strings.Join(strings.Fields(b), " "))
		if b != "" {
			blocks = append(blocks, b)
		}
	}

	var s Script
	switch len(blocks) {
	case 0:
	case 1:
		s.Body = blocks[0]
	case 2:
		s.Hook = blocks[0]
		s.CTA = blocks[1]
	default:
		s.Hook = blocks[0]
		s.Body = strings.Join(blocks[1:len(blocks)-1], " ")
		s.CTA = blocks[len(blocks)-1]
	}
	return s
}

// IsZero reports whether every section is empty.
func (s Script) IsZero() bool {
	return s.Hook == "" && s.Body == "" && s.CTA == ""
}

// String serializes the script back to canonical labeled form, omitting
// empty sections.
func (s Script) String() string {
	var parts []string
	if s.Hook != "" {
		parts = append(parts, "HOOK: "+s.Hook)
	}
	if s.Body != "" {
		parts = append(parts, "BODY: "+s.Body)
	}
	if s.CTA != "" {
		parts = append(parts, "CTA: "+s.CTA)
	}
	return strings.Join(parts, "\n\n")
}

// Clamp returns the script with each section cut to the section budget at
// a word boundary.
func (s Script) Clamp() Script {
	s.Hook = clampText(s.Hook, maxSectionLen)
	s.Body = clampText(s.Body, maxSectionLen)
	s.CTA = clampText(s.CTA, maxSectionLen)
	return s
}

var (
	// bracketDirection matches stage directions in square brackets: [pause].
	bracketDirection = regexp.MustCompile(`\[[^\]\n]*\]`)
	// parenDirection matches known stage directions in parentheses; plain
	// parenthetical narration is left alone.
	parenDirection = regexp.MustCompile(`(?i)\((?:pause|beat|sighs?|laughs?|whispers?|dramatic[^)]*|music[^)]*|sfx[^)]*)\)`)
	// emphasisMarks matches markdown emphasis characters.
	emphasisMarks = regexp.MustCompile("[*_`]+")
	// spaceRuns collapses runs of spaces and tabs.
	spaceRuns = regexp.MustCompile(`[ \t]+`)
	// danglingPunct reattaches punctuation orphaned by direction removal.
	danglingPunct = regexp.MustCompile(`\s+([.,!?;:])`)
)

// Plain returns the narration-only projection: sections joined with blank
// lines, labels omitted, markdown emphasis and stage directions removed.
// This is the text TTS speaks and captions display.
func (s Script) Plain() string {
	var parts []string
	for _, section := range []string{s.Hook, s.Body, s.CTA} {
		if t := cleanNarration(section); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func cleanNarration(s string) string {
	s = bracketDirection.ReplaceAllString(s, " ")
	s = parenDirection.ReplaceAllString(s, " ")
	s = emphasisMarks.ReplaceAllString(s, "")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = danglingPunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// Preview returns s clamped for list views, cut at a word boundary with
// an ellipsis.
func Preview(s string) string {
	return clampText(strings.TrimSpace(s), previewLen)
}

// clampText truncates s to at most n bytes, breaking at a word boundary
// with an ellipsis when truncation happens.
func clampText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;.") + "…"
}
