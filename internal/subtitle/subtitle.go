// Package subtitle builds display timelines for synthesized speech. The
// synthesizer gives back one opaque PCM stream with no word timings, so the
// timeline is an estimate: sentences get a share of the total audio duration
// proportional to their word count.
package subtitle

import "strings"

// Entry is one subtitle line with start/end offsets in seconds.
type Entry struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// SplitSentences cuts text at terminal punctuation, keeping the punctuation
// with its sentence. Trailing text without a terminator becomes a final
// sentence of its own.
func SplitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if isTerminal(r) {
			if s := strings.TrimSpace(sb.String()); s != "" {
				out = append(out, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// Timeline distributes totalSeconds across the sentences of text by word
// count. Starts begin at 0 and are non-decreasing; the last entry always
// ends exactly at totalSeconds.
func Timeline(text string, totalSeconds float64) []Entry {
	sentences := SplitSentences(text)
	if len(sentences) == 0 || totalSeconds <= 0 {
		return nil
	}

	counts := make([]int, len(sentences))
	total := 0
	for i, s := range sentences {
		n := len(strings.Fields(s))
		if n == 0 {
			n = 1
		}
		counts[i] = n
		total += n
	}

	entries := make([]Entry, len(sentences))
	cursor := 0.0
	for i, s := range sentences {
		dur := totalSeconds * float64(counts[i]) / float64(total)
		end := cursor + dur
		if i == len(sentences)-1 {
			end = totalSeconds
		}
		entries[i] = Entry{Start: cursor, End: end, Text: s}
		cursor = end
	}
	return entries
}
