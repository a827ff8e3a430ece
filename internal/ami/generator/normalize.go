package generator

import (
	"regexp"
	"strings"
)

var (
	bulletLine   = regexp.MustCompile(`^\s*[*•-]\s+(.*)$`)
	numberedLine = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)
	sentenceEnd  = regexp.MustCompile(`([.!?])[ \t]+`)
	blankRun     = regexp.MustCompile(`\n{3,}`)
)

// Normalize reshapes free-form model output for the chat bubble: every
// sentence of prose ends its own paragraph, list items are indented as
// "  - item" or "  N. item", and runs of blank lines collapse to one.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			out = append(out, "  "+m[1]+". "+strings.TrimSpace(m[2]))
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			out = append(out, "  - "+strings.TrimSpace(m[1]))
			continue
		}
		out = append(out, sentenceEnd.ReplaceAllString(strings.TrimSpace(line), "$1\n\n"))
	}
	joined := blankRun.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(joined)
}
