package pagecache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// CacheTagsHeader is a page header that lists comma-separated tags collected during rendering.
const CacheTagsHeader = "x-next-cache-tags"

// PageTags returns tags recorded in page headers.
func PageTags(p PageValue) []string {
	tags := []string{}

	// Headers may come from JSON with non-canonical keys.
	for k, vs := range p.Headers {
		if !strings.EqualFold(k, CacheTagsHeader) {
			continue
		}

		for _, h := range vs {
			for _, tag := range strings.Split(h, ",") {
				tag = strings.TrimSpace(tag)
				if tag != "" {
					tags = append(tags, tag)
				}
			}
		}
	}

	return tags
}

// encodeValue prepares value for storage and returns tags for the entry.
//
// Page tags are derived from page headers and replace tags, route body is converted to base64.
func encodeValue(v Value, tags []string) (Value, []string) {
	switch val := v.(type) {
	case PageValue:
		return val, PageTags(val)
	case *PageValue:
		if val == nil {
			return v, tags
		}

		return *val, PageTags(*val)
	case RouteValue:
		return encodeRoute(val), tags
	case *RouteValue:
		if val == nil {
			return v, tags
		}

		return encodeRoute(*val), tags
	default:
		return v, tags
	}
}

func encodeRoute(r RouteValue) EncodedRouteValue {
	return EncodedRouteValue{
		Body:    base64.StdEncoding.EncodeToString(r.Body),
		Headers: r.Headers,
		Status:  r.Status,
	}
}

// decodeValue restores binary route body of a stored value.
func decodeValue(v Value) (Value, error) {
	switch val := v.(type) {
	case EncodedRouteValue:
		return decodeRoute(val)
	case *EncodedRouteValue:
		if val == nil {
			return v, nil
		}

		return decodeRoute(*val)
	default:
		return v, nil
	}
}

func decodeRoute(r EncodedRouteValue) (RouteValue, error) {
	body, err := base64.StdEncoding.DecodeString(r.Body)
	if err != nil {
		return RouteValue{}, fmt.Errorf("decode route body: %w", err)
	}

	return RouteValue{
		Body:    body,
		Headers: r.Headers,
		Status:  r.Status,
	}, nil
}
