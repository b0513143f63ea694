package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

type ValueKind int

const (
	NullValue ValueKind = iota
	BoolValue
	IntValue
	BigIntValue
	RealValue
	TextValue
	BlobValue
	JsonValue
	TimestampValue
)

var valueKindNames = []string{"Null", "Bool", "Int", "BigInt", "Real", "Text", "Blob", "Json", "Timestamp"}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", int(k))
}

// TimestampLayout is the text form of timestamp defaults.
const TimestampLayout = "2006-01-02 15:04:05"

// Value is a typed SQL value used for column defaults.
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Real float64
	Text string
	Blob []byte
	Time time.Time
}

func Null() Value              { return Value{Kind: NullValue} }
func BoolVal(b bool) Value     { return Value{Kind: BoolValue, Bool: b} }
func IntVal(i int32) Value     { return Value{Kind: IntValue, Int: int64(i)} }
func BigIntVal(i int64) Value  { return Value{Kind: BigIntValue, Int: i} }
func RealVal(f float64) Value  { return Value{Kind: RealValue, Real: f} }
func TextVal(s string) Value   { return Value{Kind: TextValue, Text: s} }
func BlobVal(b []byte) Value   { return Value{Kind: BlobValue, Blob: b} }
func JsonVal(raw string) Value { return Value{Kind: JsonValue, Text: raw} }
func TimestampVal(t time.Time) Value {
	return Value{Kind: TimestampValue, Time: t.UTC().Truncate(time.Second)}
}

// ZeroValue is the value used to backfill existing rows when a NOT NULL
// column is added without an explicit default.
func ZeroValue(t SqlType) Value {
	switch t {
	case Bool:
		return BoolVal(false)
	case Int:
		return IntVal(0)
	case BigInt:
		return BigIntVal(0)
	case Real:
		return RealVal(0)
	case Text:
		return TextVal("")
	case Blob:
		return BlobVal([]byte{})
	case Json:
		return JsonVal("{}")
	default:
		return TimestampVal(time.Unix(0, 0))
	}
}

func (v Value) IsNull() bool {
	return v.Kind == NullValue
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case NullValue:
		return true
	case BoolValue:
		return v.Bool == o.Bool
	case IntValue, BigIntValue:
		return v.Int == o.Int
	case RealValue:
		return v.Real == o.Real
	case TextValue, JsonValue:
		return v.Text == o.Text
	case BlobValue:
		return bytes.Equal(v.Blob, o.Blob)
	default:
		return v.Time.Equal(o.Time)
	}
}

// Any returns the value as a driver argument.
func (v Value) Any() any {
	switch v.Kind {
	case NullValue:
		return nil
	case BoolValue:
		return v.Bool
	case IntValue, BigIntValue:
		return v.Int
	case RealValue:
		return v.Real
	case TextValue, JsonValue:
		return v.Text
	case BlobValue:
		return v.Blob
	default:
		return v.Time
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind {
	case NullValue:
		payload = nil
	case BoolValue:
		payload = v.Bool
	case IntValue, BigIntValue:
		payload = v.Int
	case RealValue:
		payload = v.Real
	case TextValue, JsonValue:
		payload = v.Text
	case BlobValue:
		payload = base64.StdEncoding.EncodeToString(v.Blob)
	default:
		payload = v.Time.Format(TimestampLayout)
	}
	return json.Marshal(map[string]any{v.Kind.String(): payload})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if len(in) != 1 {
		return fmt.Errorf("value must have exactly one variant: %s", string(b))
	}
	for name, raw := range in {
		kind := -1
		for i, n := range valueKindNames {
			if n == name {
				kind = i
			}
		}
		if kind < 0 {
			return fmt.Errorf("unknown value variant %q", name)
		}
		out := Value{Kind: ValueKind(kind)}
		var err error
		switch out.Kind {
		case NullValue:
		case BoolValue:
			err = json.Unmarshal(raw, &out.Bool)
		case IntValue, BigIntValue:
			err = json.Unmarshal(raw, &out.Int)
		case RealValue:
			err = json.Unmarshal(raw, &out.Real)
		case TextValue, JsonValue:
			err = json.Unmarshal(raw, &out.Text)
		case BlobValue:
			var s string
			if err = json.Unmarshal(raw, &s); err == nil {
				out.Blob, err = base64.StdEncoding.DecodeString(s)
			}
		default:
			var s string
			if err = json.Unmarshal(raw, &s); err == nil {
				out.Time, err = time.Parse(TimestampLayout, s)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to decode %s value: %w", name, err)
		}
		*v = out
	}
	return nil
}
