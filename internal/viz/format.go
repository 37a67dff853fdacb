package viz

import (
	"fmt"
	"strings"
	"time"
)

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0µs"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// formatCount formats n with comma separators (e.g. 10,000).
func formatCount(n int64) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate cuts s to n display columns, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// scaledBar returns a bar of up to width '#' characters for value out of
// total. Non-zero values always get at least one character.
func scaledBar(value, total int64, width int) string {
	n := 0
	if total > 0 {
		n = int(value * int64(width) / total)
	}
	if n < 1 && value > 0 {
		n = 1
	}
	n = min(n, width)
	return strings.Repeat("#", n) + strings.Repeat(" ", width-n)
}
