package shared

import (
	"net/url"
	"strconv"
)

// ParseLimitOffset reads limit/offset query parameters with sane bounds.
func ParseLimitOffset(values url.Values, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	if raw := values.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := 0
	if raw := values.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
