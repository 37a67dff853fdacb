package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/traceview/internal/selectors"
)

// Dependencies renders the dependency page: the offered layouts, one bar per
// service scaled to the busiest one, then every link.
func Dependencies(props *selectors.DependencyPageProps) string {
	var b strings.Builder
	if props.Error != nil {
		fmt.Fprintf(&b, "! %s\n", props.Error)
	}
	if props.Loading {
		b.WriteString("Loading dependencies...\n")
		return b.String()
	}

	layouts := make([]string, len(props.GraphTypes))
	for i, gt := range props.GraphTypes {
		layouts[i] = gt.Name
	}
	fmt.Fprintf(&b, "Dependencies (%d edges; layouts: %s)\n", len(props.Dependencies), strings.Join(layouts, ", "))
	if len(props.Nodes) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}

	var busiest int64
	nameWidth := 0
	for _, n := range props.Nodes {
		busiest = max(busiest, n.CallCount)
		nameWidth = max(nameWidth, len(n.Name))
	}
	nameWidth = min(nameWidth, 24)

	b.WriteString("\nServices\n")
	for _, n := range props.Nodes {
		fmt.Fprintf(&b, "  %-*s  %s  %s calls\n",
			nameWidth, truncate(n.Name, nameWidth), scaledBar(n.CallCount, busiest, defaultBarWidth), formatCount(n.CallCount))
	}

	b.WriteString("\nLinks\n")
	for _, l := range props.Links {
		fmt.Fprintf(&b, "  %s → %s  %s\n", l.Source, l.Target, formatCount(l.Value))
	}
	return b.String()
}
