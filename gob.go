package pagecache

import (
	"encoding/gob"
	"hash/fnv"
	"io"
	"reflect"
	"strings"
)

type dumpedEntry struct {
	Key   string
	Entry CacheEntry
}

var _ Dumper = &Memory{}
var _ Restorer = &Memory{}

// Dump saves cached entries and returns a number of processed entries.
//
// Custom Value implementations must be registered with GobRegister.
func (c *Memory) Dump(w io.Writer) (int, error) {
	encoder := gob.NewEncoder(w)

	return c.Walk(func(key string, e CacheEntry) error {
		return encoder.Encode(dumpedEntry{Key: key, Entry: e})
	})
}

// Restore loads cached entries and returns number of processed entries.
func (c *Memory) Restore(r io.Reader) (int, error) {
	decoder := gob.NewDecoder(r)
	n := 0

	for {
		var e dumpedEntry

		err := decoder.Decode(&e)
		if err == io.EOF {
			break
		}

		if err != nil {
			return n, err
		}

		c.Lock()
		if c.data != nil {
			c.data[e.Key] = e.Entry
		}
		c.Unlock()

		n++
	}

	return n, nil
}

var gobTypesHash uint64

// GobTypesHash returns a fingerprint of registered value types.
//
// Dumps made with a different fingerprint may fail to restore.
func GobTypesHash() uint64 {
	return gobTypesHash
}

// GobRegister enables dumping of custom values.
func GobRegister(values ...interface{}) {
	for _, value := range values {
		h := fnv.New64()
		t := reflect.TypeOf(value)
		// nolint:errcheck // fnv.Write never returns an error.
		_, _ = h.Write([]byte(t.PkgPath() + t.String()))
		recursiveTypeHash(t, h, map[reflect.Type]bool{})
		gobTypesHash ^= h.Sum64()

		gob.Register(value)
	}
}

// recursiveTypeHash hashes type of value recursively to ensure structural match.
func recursiveTypeHash(t reflect.Type, h io.Writer, met map[reflect.Type]bool) {
	for {
		if t.Kind() != reflect.Ptr {
			break
		}

		t = t.Elem()
	}

	if met[t] {
		return
	}

	met[t] = true

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			// Skip unexported field.
			if f.Name != "" && (f.Name[0:1] == strings.ToLower(f.Name[0:1])) {
				continue
			}

			if !f.Anonymous {
				// nolint:errcheck // fnv.Write never returns an error.
				_, _ = h.Write([]byte(f.Name))
			}

			recursiveTypeHash(f.Type, h, met)
		}

	case reflect.Slice, reflect.Array:
		recursiveTypeHash(t.Elem(), h, met)
	case reflect.Map:
		recursiveTypeHash(t.Key(), h, met)
		recursiveTypeHash(t.Elem(), h, met)
	default:
		// nolint:errcheck // fnv.Write never returns an error.
		_, _ = h.Write([]byte(t.String()))
	}
}

// nolint:gochecknoinits // Registering value kinds to a package level registry of "encoding/gob".
func init() {
	GobRegister(PageValue{}, RouteValue{}, EncodedRouteValue{}, OpaqueValue{})

	// Registering types of decoded JSON page data.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}
