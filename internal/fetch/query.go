package fetch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tobert/traceview/internal/storage"
)

// Search query parameter names, as they appear in a search page location.
const (
	ParamService     = "service"
	ParamOperation   = "operation"
	ParamTraceID     = "traceID"
	ParamTags        = "tags"
	ParamLimit       = "limit"
	ParamLookback    = "lookback"
	ParamStart       = "start"
	ParamEnd         = "end"
	ParamMinDuration = "minDuration"
	ParamMaxDuration = "maxDuration"
)

const (
	DefaultLimit    = 20
	DefaultLookback = time.Hour
)

// SearchRequest is a parsed search location. A non-empty TraceIDs list means
// the search is a direct lookup and Query is ignored.
type SearchRequest struct {
	Query    storage.TraceQuery
	TraceIDs []string
}

// ParseSearchQuery turns search page query parameters into a backend query.
//
// lookback accepts Go durations plus a "d" day suffix ("2d"); "custom" means
// the explicit start/end parameters, in microseconds since the epoch, apply.
// tags is a JSON object of string values.
func ParseSearchQuery(q url.Values, now time.Time) (SearchRequest, error) {
	var req SearchRequest
	for _, id := range q[ParamTraceID] {
		for _, part := range strings.Split(id, ",") {
			if part = strings.TrimSpace(part); part != "" {
				req.TraceIDs = append(req.TraceIDs, strings.ToLower(part))
			}
		}
	}

	tq := storage.TraceQuery{
		Service:   q.Get(ParamService),
		Operation: q.Get(ParamOperation),
		Limit:     DefaultLimit,
	}
	if tq.Operation == "all" {
		tq.Operation = ""
	}

	if raw := q.Get(ParamLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid %s %q", ParamLimit, raw)
		}
		tq.Limit = n
	}

	if raw := q.Get(ParamTags); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tq.Tags); err != nil {
			return req, fmt.Errorf("invalid %s %q: %w", ParamTags, raw, err)
		}
	}

	var err error
	if tq.MinDuration, err = parseOptionalDuration(q, ParamMinDuration); err != nil {
		return req, err
	}
	if tq.MaxDuration, err = parseOptionalDuration(q, ParamMaxDuration); err != nil {
		return req, err
	}

	switch lookback := q.Get(ParamLookback); lookback {
	case "custom":
		if tq.StartTimeMin, err = parseMicros(q, ParamStart); err != nil {
			return req, err
		}
		if tq.StartTimeMax, err = parseMicros(q, ParamEnd); err != nil {
			return req, err
		}
	default:
		d := DefaultLookback
		if lookback != "" {
			if d, err = ParseLookback(lookback); err != nil {
				return req, err
			}
		}
		tq.StartTimeMin = now.Add(-d)
	}

	req.Query = tq
	return req, nil
}

// ParseLookback parses a lookback window such as "15m", "1h" or "2d".
func ParseLookback(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid %s %q", ParamLookback, s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", ParamLookback, s)
	}
	return d, nil
}

func parseOptionalDuration(q url.Values, key string) (time.Duration, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

func parseMicros(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return time.UnixMicro(us), nil
}
