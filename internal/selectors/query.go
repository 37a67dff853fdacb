package selectors

import (
	"net/url"

	"github.com/tobert/traceview/internal/model"
)

// Query keys that toggle view flags. "disableComparision" is spelled the way
// existing embed links spell it.
const (
	QueryEmbed             = "embed"
	QueryHideGraph         = "hideGraph"
	QueryDisableComparison = "disableComparision"
	QueryService           = "service"
	QueryTraceID           = "traceID"
)

// QueryFlags are the view flags derived from the location query string.
type QueryFlags struct {
	Query             url.Values
	IsEmbed           bool
	HideGraph         bool
	DisableComparison bool
	// IsHomepage is true when the query string carries no keys at all.
	IsHomepage bool
}

// ParseQueryFlags parses the query string of a router location. Keys are
// matched on presence; their values are ignored. Malformed pairs are skipped.
func ParseQueryFlags(loc model.Location) QueryFlags {
	q, _ := url.ParseQuery(loc.RawQuery())
	if q == nil {
		q = url.Values{}
	}
	return QueryFlags{
		Query:             q,
		IsEmbed:           q.Has(QueryEmbed),
		HideGraph:         q.Has(QueryHideGraph),
		DisableComparison: q.Has(QueryDisableComparison),
		IsHomepage:        len(q) == 0,
	}
}

// NeedsInitialSearch reports whether the query names a service or trace id,
// which means the page should run a search as soon as it opens.
func (f QueryFlags) NeedsInitialSearch() bool {
	return f.Query.Has(QueryService) || f.Query.Has(QueryTraceID)
}
