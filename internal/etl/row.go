package etl

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
)

// Value is one cell of an uploaded row: a string, a number, or null.
type Value struct {
	kind Kind
	str  string
	num  float64
}

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Num returns a numeric value.
func Num(f float64) Value { return Value{kind: KindNumber, num: f} }

// Null returns the null value.
func Null() Value { return Value{} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Number returns the numeric payload when v is a number.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Blank reports whether v is null or whitespace-only text.
func (v Value) Blank() bool {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindNumber:
		return false
	default:
		return true
	}
}

// String renders v as trimmed text. Whole numbers print without a decimal
// point so numeric item numbers survive spreadsheet round trips.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str)
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// Raw returns the value as a plain Go scalar for exception context.
func (v Value) Raw() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Null()
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "etl: decode string cell")
		}
		*v = Str(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = Str(string(data))
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return eris.Errorf("etl: cell must be a string, number or null, got %s", data)
		}
		*v = Num(f)
	}
	return nil
}

// Row maps source headers to cell values.
type Row map[string]Value

// RowFromStrings builds a Row of string cells.
func RowFromStrings(m map[string]string) Row {
	r := make(Row, len(m))
	for k, s := range m {
		r[k] = Str(s)
	}
	return r
}

// context renders the row for an exception payload.
func (r Row) context() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v.Raw()
	}
	return out
}
