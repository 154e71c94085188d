package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// EntityState is a read-only state snapshot reported by the instance.
// LastChanged and LastUpdated stay textual; parsing timestamps is a
// presentation concern.
type EntityState struct {
	EntityID    string                    `json:"entity_id"`
	State       string                    `json:"state"`
	Attributes  map[string]AttributeValue `json:"attributes,omitempty"`
	LastChanged string                    `json:"last_changed,omitempty"`
	LastUpdated string                    `json:"last_updated,omitempty"`
}

// AttributeKind discriminates the variants of AttributeValue.
type AttributeKind int

const (
	KindNull AttributeKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// AttributeValue is a tagged variant holding one heterogeneously-typed entity
// attribute: string, number, boolean, list or mapping, recursively.
type AttributeValue struct {
	Kind    AttributeKind
	Str     string
	Num     float64
	Boolean bool
	Items   []AttributeValue
	Fields  map[string]AttributeValue
}

// NullValue returns the null variant.
func NullValue() AttributeValue { return AttributeValue{Kind: KindNull} }

// StringValue wraps a string attribute.
func StringValue(s string) AttributeValue { return AttributeValue{Kind: KindString, Str: s} }

// NumberValue wraps a numeric attribute.
func NumberValue(n float64) AttributeValue { return AttributeValue{Kind: KindNumber, Num: n} }

// BoolValue wraps a boolean attribute.
func BoolValue(b bool) AttributeValue { return AttributeValue{Kind: KindBool, Boolean: b} }

// ListValue wraps a list attribute.
func ListValue(items ...AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindList, Items: items}
}

// MapValue wraps a mapping attribute.
func MapValue(fields map[string]AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindMap, Fields: fields}
}

// UnmarshalJSON decodes any JSON value into the matching variant.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty attribute value")
	}

	switch trimmed[0] {
	case 'n':
		*v = AttributeValue{Kind: KindNull}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = AttributeValue{Kind: KindBool, Boolean: b}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = AttributeValue{Kind: KindString, Str: s}
		return nil
	case '[':
		var items []AttributeValue
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*v = AttributeValue{Kind: KindList, Items: items}
		return nil
	case '{':
		var fields map[string]AttributeValue
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		*v = AttributeValue{Kind: KindMap, Fields: fields}
		return nil
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("cannot decode attribute value %s: %w", string(trimmed), err)
		}
		*v = AttributeValue{Kind: KindNumber, Num: n}
		return nil
	}
}

// MarshalJSON encodes the variant back to its natural JSON form.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Boolean)
	case KindList:
		if v.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Items)
	case KindMap:
		if v.Fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Fields)
	default:
		return nil, fmt.Errorf("unknown attribute kind %d", v.Kind)
	}
}

// Equal reports structural equality between two attribute values.
func (v AttributeValue) Equal(other AttributeValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Boolean == other.Boolean
	case KindList:
		if len(v.Items) != len(other.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Fields) != len(other.Fields) {
			return false
		}
		for k, val := range v.Fields {
			o, ok := other.Fields[k]
			if !ok || !val.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a compact human-readable form for logs and CLI output.
func (v AttributeValue) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Boolean)
	case KindList:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = item.String()
		}
		return "[" + joinStrings(parts) + "]"
	case KindMap:
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.Fields[k].String()
		}
		return "{" + joinStrings(parts) + "}"
	default:
		return "?"
	}
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
