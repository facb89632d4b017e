package cfgtree

import (
	"cmp"
	"fmt"
	"strconv"
)

// Kind enumerates the closed set of variants a leaf Value can hold (§3 Data Model).
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindSequence:
		return "sequence"
	default:
		return "null"
	}
}

// Value is a tagged union over the scalar/sequence variants a leaf may carry: string, integer,
// floating number, boolean, an ordered sequence of scalars, or absent/null. It deliberately does
// not rely on host-language reflection: every variant is an explicit field (§9 Design Notes).
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
	Seq  []Value
}

// Null returns the absent/null Value.
func Null() Value { return Value{Kind: KindNull} }

// String wraps a string scalar.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int wraps an integer scalar.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float wraps a floating-point scalar.
func Float(f float64) Value { return Value{Kind: KindFloat, Flt: f} }

// Bool wraps a boolean scalar.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Sequence wraps an ordered sequence of scalar Values.
func Sequence(vs ...Value) Value { return Value{Kind: KindSequence, Seq: vs} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Any returns the Value's content as a generic Go value suitable for JSON/YAML encoding.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Flt
	case KindBool:
		return v.Bool
	case KindSequence:
		out := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			out[i] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// FromAny infers a Value from a generic decoded value (as produced by encoding/json or
// gopkg.in/yaml.v3 unmarshaling into `any`). Numbers arriving as float64 that are exact
// integers are folded to KindInt so that a leaf written as `5` and a leaf written as `5.0`
// from two different encodings compare equal (ground: the teacher's InferType coercion,
// generalised here from UI type display into wire-decode normalisation).
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return foldFloat(float64(t))
	case float64:
		return foldFloat(t)
	case []any:
		seq := make([]Value, len(t))
		for i, e := range t {
			seq[i] = FromAny(e)
		}
		return Value{Kind: KindSequence, Seq: seq}
	case []Value:
		return Value{Kind: KindSequence, Seq: t}
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

func foldFloat(f float64) Value {
	if i := int64(f); float64(i) == f {
		return Int(i)
	}
	return Float(f)
}

// Equal reports whether two Values are equal under the canonicalising coercion required for
// event-suppression and fingerprint comparisons (§3, §4.2): numeric values compare across
// KindInt/KindFloat after folding, and a numeric value compares equal to its decimal string
// rendering so that a leaf loaded from a `.tlog` (always text) matches one written in-process.
func Equal(a, b Value) bool {
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == b.Kind
	}
	if a.Kind == KindSequence || b.Kind == KindSequence {
		if a.Kind != KindSequence || b.Kind != KindSequence || len(a.Seq) != len(b.Seq) {
			return false
		}
		for i := range a.Seq {
			if !Equal(a.Seq[i], b.Seq[i]) {
				return false
			}
		}
		return true
	}
	if a.Kind == KindBool || b.Kind == KindBool {
		return a.Kind == KindBool && b.Kind == KindBool && a.Bool == b.Bool
	}
	an, aIsNum := asFloat(a)
	bn, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	if aIsNum != bIsNum {
		// One side is numeric, the other a string: coerce the string and compare.
		if aIsNum {
			if f, err := strconv.ParseFloat(b.Str, 64); err == nil {
				return an == f
			}
			return false
		}
		if f, err := strconv.ParseFloat(a.Str, 64); err == nil {
			return bn == f
		}
		return false
	}
	return a.Str == b.Str
}

func asFloat(v Value) (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Flt, true
	default:
		return 0, false
	}
}

// Compare provides a total order over Values for callers that need a stable ordering; nothing
// in this module calls it, and snapshot dumps do not sort. Equality under Compare is stricter than
// Equal (ground: the teacher's type-dispatching Compare/CoerceComparer in btree/comparer.go,
// generalised from B-tree key comparison to leaf-value ordering).
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		return cmp.Compare(a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindString:
		return cmp.Compare(a.Str, b.Str)
	case KindInt:
		return cmp.Compare(a.Int, b.Int)
	case KindFloat:
		return cmp.Compare(a.Flt, b.Flt)
	case KindBool:
		return cmp.Compare(boolToInt(a.Bool), boolToInt(b.Bool))
	case KindSequence:
		for i := 0; i < len(a.Seq) && i < len(b.Seq); i++ {
			if c := Compare(a.Seq[i], b.Seq[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.Seq), len(b.Seq))
	default:
		return 0
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
