package durex

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// VoidTag is the reserved type tag meaning "null/absent value". Decode
// returns nil for this tag regardless of payload content.
const VoidTag = "void"

// typeTags maps a registered Go type to its stable type tag, used by Encode
// to pick a tag for values outside the built-in JSON-native set.
var typeTags = map[reflect.Type]string{}

// tagDecoders maps a type tag to the function that reconstructs a value
// from its serialized payload, used by Decode for registered types.
var tagDecoders = map[string]func(string) (any, error){}

// RegisterType associates a Go type with a stable type tag so values of
// that type can round-trip through Encode/Decode. Call it once at package
// init time for every concrete result type a workflow's steps may return;
// an unregistered type is a CodecError at encode time, and an unregistered
// tag seen at decode time (e.g. a payload written by a newer build) is a
// CodecError too — the tag namespace is this program's contract with its
// own store, not a portable wire format.
func RegisterType[T any](tag string) {
	var zero T
	t := reflect.TypeOf(zero)
	typeTags[t] = tag
	tagDecoders[tag] = func(payload string) (any, error) {
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, &CodecError{TypeTag: tag, Reason: err.Error()}
		}
		return v, nil
	}
}

// Encode serializes a step's output value to a (payload, type_tag) pair.
// A nil value encodes to ("", VoidTag). Built-in JSON-native shapes
// (string, bool, int, int64, float64, json.RawMessage, map[string]any,
// []any) are handled without registration; any other type must have been
// registered with RegisterType first.
func Encode(v any) (payload string, typeTag string, err error) {
	if v == nil {
		return "", VoidTag, nil
	}

	switch val := v.(type) {
	case string:
		b, _ := json.Marshal(val)
		return string(b), "string", nil
	case bool:
		b, _ := json.Marshal(val)
		return string(b), "bool", nil
	case int:
		return fmt.Sprintf("%d", val), "int", nil
	case int64:
		return fmt.Sprintf("%d", val), "int64", nil
	case float64:
		b, err := json.Marshal(val)
		if err != nil {
			return "", "", &CodecError{TypeTag: "float64", Reason: err.Error()}
		}
		return string(b), "float64", nil
	case json.RawMessage:
		return string(val), "raw", nil
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return "", "", &CodecError{TypeTag: "map", Reason: err.Error()}
		}
		return string(b), "map", nil
	case []any:
		b, err := json.Marshal(val)
		if err != nil {
			return "", "", &CodecError{TypeTag: "slice", Reason: err.Error()}
		}
		return string(b), "slice", nil
	}

	t := reflect.TypeOf(v)
	tag, ok := typeTags[t]
	if !ok {
		return "", "", &CodecError{TypeTag: fmt.Sprintf("%T", v), Reason: "type not registered; call durex.RegisterType before encoding"}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", "", &CodecError{TypeTag: tag, Reason: err.Error()}
	}
	return string(b), tag, nil
}

// Decode reconstructs a value from its serialized (payload, type_tag) pair.
// typeTag == VoidTag (or an empty payload paired with it) returns nil.
// Decode fails with CodecError if the tag is unknown or the payload does
// not parse as that shape.
func Decode(payload string, typeTag string) (any, error) {
	if typeTag == VoidTag {
		return nil, nil
	}

	switch typeTag {
	case "string":
		var s string
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return s, nil
	case "bool":
		var b bool
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return b, nil
	case "int":
		var n int
		if _, err := fmt.Sscanf(payload, "%d", &n); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return n, nil
	case "int64":
		var n int64
		if _, err := fmt.Sscanf(payload, "%d", &n); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return n, nil
	case "float64":
		var f float64
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return f, nil
	case "raw":
		return json.RawMessage(payload), nil
	case "map":
		var m map[string]any
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return m, nil
	case "slice":
		var s []any
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, &CodecError{TypeTag: typeTag, Reason: err.Error()}
		}
		return s, nil
	}

	if dec, ok := tagDecoders[typeTag]; ok {
		return dec(payload)
	}
	return nil, &CodecError{TypeTag: typeTag, Reason: "unknown type tag"}
}
