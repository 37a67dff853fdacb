package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
)

const maxResultRows = 100

// SearchResults renders the search page as a trace table. Each row's bar is
// scaled to the longest trace in the result set. Width controls the label
// column; 0 uses the default (80).
func SearchResults(props *selectors.SearchPageProps, width int) string {
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for _, msg := range props.ErrorMessages() {
		fmt.Fprintf(&b, "! %s\n", msg)
	}
	if props.LoadingTraces {
		b.WriteString("Loading traces...\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Traces (%d, sorted by %s, longest %s)\n",
		len(props.TraceResults), props.SortTracesBy, formatDuration(props.MaxTraceDuration))
	if len(props.TraceResults) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}

	labelWidth := max(width-48, 16)
	rows := props.TraceResults
	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
	}
	for _, t := range rows {
		icon := "✓"
		if t.ErrorCount() > 0 {
			icon = "✗"
		}
		label := truncate(t.TraceName, labelWidth)
		label += strings.Repeat(" ", max(0, labelWidth-len([]rune(label))))
		bar := scaledBar(int64(t.Duration), int64(props.MaxTraceDuration), defaultBarWidth)
		fmt.Fprintf(&b, "  %s %-8s  %s [%s] %7s %4d spans\n",
			icon, shortID(t.TraceID), label, bar, formatDuration(t.Duration), len(t.Spans))
	}
	if n := len(props.TraceResults) - len(rows); n > 0 {
		fmt.Fprintf(&b, "  ... +%d more traces\n", n)
	}
	return b.String()
}

// Services renders the service catalog with each service's operations.
func Services(services model.List[selectors.ServiceOperations]) string {
	items, loaded := services.Items()
	if !loaded {
		return "Services not loaded\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Services (%d)\n", len(items))
	if len(items) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, svc := range items {
		fmt.Fprintf(&b, "  • %s", svc.Name)
		if len(svc.Operations) > 0 {
			fmt.Fprintf(&b, " (%d operations)", len(svc.Operations))
		}
		b.WriteByte('\n')
		for _, op := range svc.Operations {
			fmt.Fprintf(&b, "      %s\n", op)
		}
	}
	return b.String()
}

// Cohort renders the comparison cohort, one line per id in cohort order.
func Cohort(entries []selectors.CohortEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comparison cohort (%d)\n", len(entries))
	if len(entries) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, e := range entries {
		switch {
		case e.Data != nil:
			fmt.Fprintf(&b, "  ✓ %-8s  %s  %s  %d spans\n",
				shortID(e.ID), e.Data.TraceName, formatDuration(e.Data.Duration), len(e.Data.Spans))
		case e.Error != nil:
			fmt.Fprintf(&b, "  ✗ %-8s  %s\n", shortID(e.ID), e.Error)
		case e.State == model.FetchLoading:
			fmt.Fprintf(&b, "  · %-8s  loading\n", shortID(e.ID))
		default:
			fmt.Fprintf(&b, "  · %-8s  not fetched\n", shortID(e.ID))
		}
	}
	return b.String()
}
