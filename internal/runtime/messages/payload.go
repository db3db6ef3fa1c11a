package messages

import (
	"bytes"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Payload is the body of a message: a string-keyed map of JSON-compatible
// values that keeps the insertion (or wire) order of its keys.
//
// The zero value is an empty payload. Payloads are treated as immutable once
// attached to a Message; With returns a modified copy.
type Payload struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewPayload builds a payload from alternating key/value arguments. A trailing
// key without a value is ignored, non-string keys are formatted with %v.
func NewPayload(kv ...any) Payload {
	om := orderedmap.New[string, any](len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		om.Set(key, kv[i+1])
	}
	return Payload{om: om}
}

// PayloadFromMap converts a plain map. Go maps are unordered, so keys are
// inserted in lexical order to keep encoding deterministic.
func PayloadFromMap(m map[string]any) Payload {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	om := orderedmap.New[string, any](len(m))
	for _, k := range keys {
		om.Set(k, m[k])
	}
	return Payload{om: om}
}

// Len returns the number of top-level keys.
func (p Payload) Len() int {
	if p.om == nil {
		return 0
	}
	return p.om.Len()
}

// Get returns the value stored under key.
func (p Payload) Get(key string) (any, bool) {
	if p.om == nil {
		return nil, false
	}
	return p.om.Get(key)
}

// Value returns the value stored under key, or nil.
func (p Payload) Value(key string) any {
	v, _ := p.Get(key)
	return v
}

// String returns the value under key when it is a string.
func (p Payload) String(key string) string {
	s, _ := p.Value(key).(string)
	return s
}

// Keys returns the keys in order.
func (p Payload) Keys() []string {
	if p.om == nil {
		return nil
	}
	keys := make([]string, 0, p.om.Len())
	for pair := p.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// With returns a copy of the payload with key set to value. Existing keys keep
// their position; new keys are appended.
func (p Payload) With(key string, value any) Payload {
	cloned := p.clone(1)
	cloned.om.Set(key, value)
	return cloned
}

// Map returns the payload as a plain map (order is lost).
func (p Payload) Map() map[string]any {
	out := make(map[string]any, p.Len())
	if p.om == nil {
		return out
	}
	for pair := p.om.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

func (p Payload) clone(extra int) Payload {
	om := orderedmap.New[string, any](p.Len() + extra)
	if p.om != nil {
		for pair := p.om.Oldest(); pair != nil; pair = pair.Next() {
			om.Set(pair.Key, pair.Value)
		}
	}
	return Payload{om: om}
}

// MarshalJSON encodes the payload as a JSON object preserving key order.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.om == nil || p.om.Len() == 0 {
		return []byte("{}"), nil
	}
	return p.om.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.om = nil
		return nil
	}
	om := orderedmap.New[string, any]()
	if err := om.UnmarshalJSON(data); err != nil {
		return err
	}
	p.om = om
	return nil
}
