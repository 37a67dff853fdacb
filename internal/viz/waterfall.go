package viz

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tobert/traceview/internal/model"
)

const (
	maxSpansPerTrace = 50
	defaultBarWidth  = 20
)

// Waterfall renders an ASCII waterfall of one trace. Width controls the total
// line width; 0 uses a sensible default (80).
func Waterfall(trace *model.TraceData, width int) string {
	if trace == nil || len(trace.Spans) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trace %s %s (%d spans, %s)\n",
		shortID(trace.TraceID), trace.TraceName, len(trace.Spans), formatDuration(trace.Duration))

	order := buildTree(trace.Spans)
	overflow := 0
	if len(order) > maxSpansPerTrace {
		overflow = len(order) - maxSpansPerTrace
		order = order[:maxSpansPerTrace]
	}

	// Pass 1: widest duration + error suffix, for a consistent right edge
	maxDurErrLen := 0
	for _, entry := range order {
		n := len(formatDuration(entry.span.Duration))
		if entry.span.Error {
			n += len(errSuffix)
		}
		maxDurErrLen = max(maxDurErrLen, n)
	}

	for _, entry := range order {
		renderSpanRow(&b, trace, entry, width, maxDurErrLen)
	}
	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", overflow)
	}
	return b.String()
}

const errSuffix = " !! ERR"

type treeEntry struct {
	span   *model.Span
	depth  int
	isLast []bool // at each depth level, whether this node is the last child
}

// buildTree orders spans depth first, children by start time. Spans whose
// parent is missing from the trace are treated as roots.
func buildTree(spans []*model.Span) []treeEntry {
	byID := make(map[string]*model.Span, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
	}

	children := make(map[string][]*model.Span)
	var roots []*model.Span
	for _, s := range spans {
		if _, ok := byID[s.ParentSpanID]; s.ParentSpanID == "" || !ok {
			roots = append(roots, s)
			continue
		}
		children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
	}

	byStart := func(a, b *model.Span) int { return a.StartTime.Compare(b.StartTime) }
	slices.SortStableFunc(roots, byStart)

	var result []treeEntry
	var walk func(s *model.Span, depth int, isLast []bool)
	walk = func(s *model.Span, depth int, isLast []bool) {
		result = append(result, treeEntry{span: s, depth: depth, isLast: isLast})
		kids := children[s.SpanID]
		slices.SortStableFunc(kids, byStart)
		for i, kid := range kids {
			walk(kid, depth+1, append(slices.Clone(isLast), i == len(kids)-1))
		}
	}
	for i, root := range roots {
		walk(root, 0, []bool{i == len(roots)-1})
	}
	return result
}

func renderSpanRow(b *strings.Builder, trace *model.TraceData, entry treeEntry, width, maxDurErrLen int) {
	// Tree-drawing characters are multi-byte but occupy one column each.
	var prefix strings.Builder
	prefixCols := 1
	prefix.WriteString(" ")
	for d := 0; d < entry.depth && d < len(entry.isLast)-1; d++ {
		if entry.isLast[d] {
			prefix.WriteString("  ")
		} else {
			prefix.WriteString("│ ")
		}
		prefixCols += 2
	}
	if entry.depth > 0 {
		if entry.isLast[len(entry.isLast)-1] {
			prefix.WriteString("└─ ")
		} else {
			prefix.WriteString("├─ ")
		}
		prefixCols += 3
	}

	label := entry.span.OperationName
	if p, ok := trace.Processes[entry.span.ProcessID]; ok {
		label = p.ServiceName + "." + label
	}

	durErr := formatDuration(entry.span.Duration)
	if entry.span.Error {
		durErr += errSuffix
	}

	// Layout: prefix + label + " [" + bar + "] " + durErr
	fixedCols := prefixCols + 2 + defaultBarWidth + 2 + maxDurErrLen
	labelBudget := max(width-fixedCols, 8)
	label = truncate(label, labelBudget)
	label += strings.Repeat(" ", max(0, labelBudget-len([]rune(label))))

	offset := entry.span.StartTime.Sub(trace.StartTime)
	bar := timelineBar(offset, entry.span.Duration, trace.Duration, defaultBarWidth)

	fmt.Fprintf(b, "%s%s [%s] %s\n", prefix.String(), label, bar, durErr)
}

// timelineBar marks the part of total covered by [offset, offset+dur).
func timelineBar(offset, dur, total time.Duration, barWidth int) string {
	if total <= 0 {
		return strings.Repeat("#", barWidth)
	}
	offset = max(offset, 0)
	dur = max(dur, 0)

	startPos := min(int(int64(offset)*int64(barWidth)/int64(total)), barWidth-1)
	endPos := int(int64(offset+dur) * int64(barWidth) / int64(total))
	endPos = min(max(endPos, startPos+1), barWidth)

	bar := make([]byte, barWidth)
	for i := range bar {
		if i >= startPos && i < endPos {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return string(bar)
}
