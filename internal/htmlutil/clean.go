package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts info window HTML to plain text: entities decoded, tags
// stripped, blank lines dropped and runs of spaces collapsed.
func ToText(s string) string {
	text := html2text.HTML2Text(s)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
