package propagation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
)

// Carrier is an ordered string map holding serialized trace context
// (traceparent, tracestate, baggage). It travels inside task payloads as a
// JSON object whose key order follows insertion order.
type Carrier struct {
	keys   []string
	values map[string]string
}

var _ propagation.TextMapCarrier = (*Carrier)(nil)

// NewCarrier returns an empty carrier.
func NewCarrier() *Carrier {
	return &Carrier{values: make(map[string]string)}
}

// Get returns the value for key, or "" when absent.
func (c *Carrier) Get(key string) string {
	if c == nil {
		return ""
	}
	return c.values[key]
}

// Set stores value under key. Re-setting a key keeps its original position.
func (c *Carrier) Set(key, value string) {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Keys returns the keys in insertion order.
func (c *Carrier) Keys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.keys...)
}

// Map returns a copy of the entries.
func (c *Carrier) Map() map[string]string {
	if c == nil {
		return nil
	}
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (c *Carrier) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// MarshalJSON encodes the carrier as a JSON object in insertion order.
func (c *Carrier) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. It never fails:
// entries whose value is not a string are skipped, and input that is not an
// object leaves the carrier empty. A damaged carrier then extracts to an
// invalid span context instead of failing the payload around it.
func (c *Carrier) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]string)

	if err := c.decodeObject(data); err != nil {
		c.keys = nil
		c.values = make(map[string]string)
	}
	return nil
}

func (c *Carrier) decodeObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode carrier: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode carrier: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode carrier: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode carrier value for %q: %w", key, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		c.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode carrier: %w", err)
	}
	return nil
}
