package pagecache

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind identifies a variant of cached value.
type Kind string

// Known value kinds produced by the rendering layer.
const (
	KindPage     = Kind("PAGE")
	KindRoute    = Kind("ROUTE")
	KindFetch    = Kind("FETCH")
	KindRedirect = Kind("REDIRECT")
	KindImage    = Kind("IMAGE")
)

// Value is a cached payload.
//
// PageValue and RouteValue are normalized for storage, any other implementation is stored as is.
type Value interface {
	Kind() Kind
}

// CacheEntry is a unit of storage and retrieval.
type CacheEntry struct {
	// LastModified is a write timestamp in milliseconds since epoch.
	LastModified int64

	// Lifespan is nil for entries that never become stale.
	Lifespan *Lifespan

	// Tags must not be modified after entry is created, the slice is shared between handlers.
	Tags []string

	Value Value
}

// PageValue is a rendered page.
type PageValue struct {
	HTML      string      `json:"html"`
	PageData  interface{} `json:"pageData"`
	Postponed string      `json:"postponed,omitempty"`
	Headers   http.Header `json:"headers,omitempty"`
	Status    int         `json:"status,omitempty"`
}

// Kind implements Value.
func (PageValue) Kind() Kind {
	return KindPage
}

// MarshalJSON adds kind to JSON representation.
func (v PageValue) MarshalJSON() ([]byte, error) {
	type page PageValue

	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		page
	}{Kind: KindPage, page: page(v)})
}

// RouteValue is a response of route handler with binary body.
type RouteValue struct {
	Body    []byte      `json:"body"`
	Headers http.Header `json:"headers,omitempty"`
	Status  int         `json:"status"`
}

// Kind implements Value.
func (RouteValue) Kind() Kind {
	return KindRoute
}

// MarshalJSON adds kind to JSON representation.
func (v RouteValue) MarshalJSON() ([]byte, error) {
	type route RouteValue

	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		route
	}{Kind: KindRoute, route: route(v)})
}

// EncodedRouteValue is a storage form of RouteValue with base64 body.
type EncodedRouteValue struct {
	Body    string      `json:"body"`
	Headers http.Header `json:"headers,omitempty"`
	Status  int         `json:"status"`
}

// Kind implements Value.
func (EncodedRouteValue) Kind() Kind {
	return KindRoute
}

// MarshalJSON adds kind to JSON representation.
func (v EncodedRouteValue) MarshalJSON() ([]byte, error) {
	type route EncodedRouteValue

	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		route
	}{Kind: KindRoute, route: route(v)})
}

// OpaqueValue holds a value of kind that is not interpreted by cache.
type OpaqueValue struct {
	ValueKind Kind
	Raw       json.RawMessage
}

// Kind implements Value.
func (v OpaqueValue) Kind() Kind {
	return v.ValueKind
}

// MarshalJSON returns raw value.
func (v OpaqueValue) MarshalJSON() ([]byte, error) {
	if len(v.Raw) != 0 {
		return v.Raw, nil
	}

	return json.Marshal(struct {
		Kind Kind `json:"kind"`
	}{Kind: v.ValueKind})
}

type entryJSON struct {
	LastModified int64           `json:"lastModified"`
	Lifespan     *Lifespan       `json:"lifespan"`
	Tags         []string        `json:"tags"`
	Value        json.RawMessage `json:"value"`
}

// MarshalJSON encodes entry with a kind discriminator in value.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	ej := entryJSON{
		LastModified: e.LastModified,
		Lifespan:     e.Lifespan,
		Tags:         e.Tags,
		Value:        json.RawMessage("null"),
	}

	if ej.Tags == nil {
		ej.Tags = []string{}
	}

	if e.Value != nil {
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s value: %w", e.Value.Kind(), err)
		}

		ej.Value = v
	}

	return json.Marshal(ej)
}

// UnmarshalJSON decodes entry, ROUTE values are decoded as EncodedRouteValue.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	var ej entryJSON

	if err := json.Unmarshal(data, &ej); err != nil {
		return err
	}

	v, err := UnmarshalValue(ej.Value)
	if err != nil {
		return err
	}

	e.LastModified = ej.LastModified
	e.Lifespan = ej.Lifespan
	e.Tags = ej.Tags
	e.Value = v

	return nil
}

// UnmarshalValue decodes JSON value by its kind.
func UnmarshalValue(data []byte) (Value, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var head struct {
		Kind Kind `json:"kind"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Kind {
	case KindPage:
		var p PageValue
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal page: %w", err)
		}

		return p, nil
	case KindRoute:
		var r EncodedRouteValue
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal route: %w", err)
		}

		return r, nil
	default:
		return OpaqueValue{ValueKind: head.Kind, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
