// Package captions synthesizes SRT subtitle files from narration text.
//
// Timing is heuristic: the narration is split into sentences and each
// sentence receives a share of the total audio duration proportional to
// its length, with a floor so no cue blinks past too fast. Exact
// ASR-aligned timing is out of scope; proportional distribution is
// deterministic and synchronizes acceptably for short narrated clips.
package captions

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

const (
	// lineWidth is the maximum characters per subtitle line.
	lineWidth = 42
	// maxCueLines is the maximum lines per cue; longer sentences are
	// re-split at their middle word boundary.
	maxCueLines = 2
	// minCueSeconds floors a cue's display time.
	minCueSeconds = 1.2
)

var (
	// ErrNoNarration is returned when the narration text is empty.
	ErrNoNarration = errors.New("no narration text")
	// ErrBadDuration is returned when the audio duration is not positive.
	ErrBadDuration = errors.New("audio duration must be positive")
)

// BuildSRT renders narration as SRT cues distributed across duration
// seconds. Cues are 1-indexed, timestamps monotonic, and the last cue
// always ends at exactly the audio duration.
func BuildSRT(narration string, duration float64) (string, error) {
	text := strings.Join(strings.Fields(narration), " ")
	if text == "" {
		return "", ErrNoNarration
	}
	if duration <= 0 {
		return "", ErrBadDuration
	}

	units := cueUnits(text)

	totalChars := 0
	for _, u := range units {
		totalChars += len(u)
	}

	shares := make([]float64, len(units))
	sum := 0.0
	for i, u := range units {
		share := duration * float64(len(u)) / float64(totalChars)
		if share < minCueSeconds {
			share = minCueSeconds
		}
		shares[i] = share
		sum += share
	}
	// The floor can overcommit a short audio track; squeeze every share
	// proportionally so the cues stay monotonic and inside the duration.
	if sum > duration {
		scale := duration / sum
		for i := range shares {
			shares[i] *= scale
		}
	}

	var b strings.Builder
	start := 0.0
	for i, u := range units {
		end := start + shares[i]
		if i == len(units)-1 {
			end = duration
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, formatTimestamp(start), formatTimestamp(end),
			strings.Join(wrapText(u, lineWidth), "\n"))
		start = end
	}
	return b.String(), nil
}

// cueUnits splits text into sentences, then re-splits any sentence that
// cannot wrap into maxCueLines lines.
func cueUnits(text string) []string {
	var units []string
	for _, sentence := range sentences(text) {
		units = append(units, fitUnits(sentence)...)
	}
	return units
}

// sentences splits on sentence terminators followed by a space or the end
// of text, so decimals like "3.8" stay intact.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && strings.ContainsRune(`.!?"')`, rune(text[j])) {
			j++
		}
		if j < len(text) && text[j] != ' ' {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(text[start:j]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// fitUnits recursively splits a sentence at its middle word boundary
// until each piece wraps within the cue line budget.
func fitUnits(s string) []string {
	if len(wrapText(s, lineWidth)) <= maxCueLines {
		return []string{s}
	}
	words := strings.Fields(s)
	if len(words) < 2 {
		return []string{s}
	}
	k := middleSplit(words)
	left := strings.Join(words[:k], " ")
	right := strings.Join(words[k:], " ")
	return append(fitUnits(left), fitUnits(right)...)
}

// middleSplit returns the word index closest to the character midpoint.
func middleSplit(words []string) int {
	total := 0
	for _, w := range words {
		total += len(w) + 1
	}
	half := total / 2
	cum := 0
	for i, w := range words[:len(words)-1] {
		cum += len(w) + 1
		if cum >= half {
			return i + 1
		}
	}
	return len(words) - 1
}

// wrapText greedily wraps s into lines of at most width characters,
// breaking only between words.
func wrapText(s string, width int) []string {
	words := strings.Fields(s)
	var lines []string
	cur := ""
	for _, w := range words {
		switch {
		case cur == "":
			cur = w
		case len(cur)+1+len(w) <= width:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// formatTimestamp renders seconds in SRT form HH:MM:SS,mmm.
func formatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int(math.Round(sec * 1000))
	h := ms / 3600000
	ms %= 3600000
	m := ms / 60000
	ms %= 60000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// vttTimeLine matches a WebVTT cue timing line, tolerating the short
// MM:SS.mmm form and ignoring trailing cue settings.
var vttTimeLine = regexp.MustCompile(
	`^((?:\d{1,2}:)?\d{1,2}:\d{2})[.,](\d{3})\s*-->\s*((?:\d{1,2}:)?\d{1,2}:\d{2})[.,](\d{3})`)

// FromVTT converts WebVTT subtitle content to SRT: the header and
// metadata blocks are stripped, timestamps switch their millisecond
// separator from dot to comma, and cues are renumbered from 1. Returns
// an empty string when the input holds no cues.
func FromVTT(vtt string) string {
	vtt = strings.TrimPrefix(vtt, "\uFEFF")
	vtt = strings.ReplaceAll(vtt, "\r\n", "\n")

	var times []string
	var blocks [][]string
	var curText []string
	curTime := ""

	flush := func() {
		if curTime != "" && len(curText) > 0 {
			times = append(times, curTime)
			blocks = append(blocks, curText)
		}
		curTime = ""
		curText = nil
	}

	for _, line := range strings.Split(vtt, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "WEBVTT") || strings.HasPrefix(trimmed, "NOTE") ||
			strings.HasPrefix(trimmed, "STYLE") || strings.HasPrefix(trimmed, "REGION") {
			continue
		}
		if m := vttTimeLine.FindStringSubmatch(trimmed); m != nil {
			// An identifier line may precede the timing line; drop it.
			curTime = srtTime(m[1], m[2]) + " --> " + srtTime(m[3], m[4])
			curText = nil
			continue
		}
		if curTime != "" {
			curText = append(curText, trimmed)
		}
	}
	flush()

	var b strings.Builder
	for i := range times {
		fmt.Fprintf(&b, "%d\n%s\n%s\n\n", i+1, times[i], strings.Join(blocks[i], "\n"))
	}
	return b.String()
}

// srtTime normalizes a VTT time to the full SRT HH:MM:SS,mmm form.
func srtTime(hms, ms string) string {
	if strings.Count(hms, ":") == 1 {
		hms = "00:" + hms
	}
	if strings.Index(hms, ":") == 1 {
		hms = "0" + hms
	}
	return hms + "," + ms
}
