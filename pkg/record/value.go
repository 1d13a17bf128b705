package record

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Value is a single record field held as its raw JSON literal.
type Value struct {
	raw  string
	text string
	null bool
}

// Null returns the JSON null value.
func Null() Value {
	return Value{raw: "null", null: true}
}

// String returns a JSON string value.
func String(s string) Value {
	raw, _ := json.Marshal(s)
	return Value{raw: string(raw), text: s}
}

// Number returns a JSON number value from its literal text, e.g. "12.50".
func Number(literal string) Value {
	return Value{raw: literal, text: literal}
}

func valueOf(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.String:
		return Value{raw: r.Raw, text: r.Str}
	default:
		// numbers, booleans and nested JSON keep their literal text
		return Value{raw: r.Raw, text: r.Raw}
	}
}

// String renders the value as a CSV cell. Null renders as an empty cell.
func (v Value) String() string {
	return v.text
}

// Raw returns the JSON literal of the value.
func (v Value) Raw() string {
	if v.raw == "" {
		return "null"
	}
	return v.raw
}

// IsNull reports whether the value is JSON null or unset.
func (v Value) IsNull() bool {
	return v.null || v.raw == ""
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.Raw()), nil
}
