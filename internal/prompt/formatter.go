package prompt

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mnemora-ai/mnemora/pkg/types"
)

// FormatMemories renders recalled excerpts as a markdown section ready for
// prompt injection:
//
//	## Relevant Memories
//	- [2m ago] user: I like tea
//	- [1h ago] assistant: You mentioned preferring green tea.
//
// The formatter is pure: no I/O, no side effects, safe for concurrent use.
// An empty excerpt list formats to an empty string, never a bare header.
// excerptChars caps each excerpt's content; non-positive means no cap.
func FormatMemories(excerpts []types.MemoryExcerpt, now time.Time, excerptChars int) string {
	if len(excerpts) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Memories\n")
	for _, ex := range excerpts {
		speaker := string(ex.Message.Sender)
		if speaker == "" {
			speaker = "unknown"
		}
		content := strings.TrimSpace(ex.Message.Content)
		content = truncate(content, excerptChars)

		fmt.Fprintf(&sb, "- [%s] %s: %s\n",
			formatRelativeTime(now.Sub(ex.Message.Timestamp)), speaker, content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncate cuts s to at most max runes, appending "..." when it does cut.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// formatRelativeTime converts a duration to a compact label such as
// "just now", "30s ago", "2m ago", "3h ago", "4d ago".
func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
