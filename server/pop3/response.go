package pop3

import (
	"fmt"
	"strings"

	"github.com/willowmail/willow/mailbox"
)

// statTotals returns the count and cumulative size of snapshot messages
// not currently marked for deletion.
func statTotals(snapshot []mailbox.Message, marked map[int]bool) (int, int64) {
	var count int
	var size int64
	for i, msg := range snapshot {
		if marked[i] {
			continue
		}
		count++
		size += msg.Size
	}
	return count, size
}

// buildListResponseLines produces the multi-line body of a LIST
// response. Message numbers of marked messages are skipped but the
// numbering of the remaining messages is preserved.
func buildListResponseLines(snapshot []mailbox.Message, marked map[int]bool) []string {
	lines := make([]string, 0, len(snapshot))
	for i, msg := range snapshot {
		if marked[i] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.Size))
	}
	return lines
}

// dotStuff doubles any dot at the start of a line so message text can
// travel inside a multi-line POP3 response without a lone "." line
// terminating it early. Line endings are preserved as-is.
func dotStuff(text string) string {
	if text == "" {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text) + 16)

	atLineStart := true
	for i := 0; i < len(text); i++ {
		c := text[i]
		if atLineStart && c == '.' {
			sb.WriteByte('.')
		}
		sb.WriteByte(c)
		atLineStart = c == '\n'
	}
	return sb.String()
}
