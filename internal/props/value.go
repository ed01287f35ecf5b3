package props

// Value is a tagged variant over the JSON-representable property value
// types named in spec §3: null, bool, int, float, string, list, object.
// It is the in-memory representation produced after decoding a property
// map entry and the representation canonicalized for the inverted index
// (spec §4.7).
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Flt  float64
	Str  string
	List []Value
	Obj  map[string]Value
}

// ValueKind discriminates Value's active field.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindObject
)

// Equal reports deep structural equality, used by property-predicate
// filters that compare a stored value against a query literal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Flt == o.Flt
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.Obj) != len(o.Obj) {
			return false
		}
		for k, vv := range v.Obj {
			ov, ok := o.Obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of the same numeric-ish kind for range queries
// (<, <=, >, >=). Only Int, Float and String are ordered; other kinds
// return 0 (treated as incomparable by the caller).
func (v Value) Compare(o Value) int {
	switch {
	case v.Kind == KindInt && o.Kind == KindInt:
		return cmpInt64(v.Int, o.Int)
	case v.Kind == KindFloat || o.Kind == KindFloat:
		a, b := v.asFloat(), o.asFloat()
		return cmpFloat64(a, b)
	case v.Kind == KindString && o.Kind == KindString:
		switch {
		case v.Str < o.Str:
			return -1
		case v.Str > o.Str:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func (v Value) asFloat() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Int)
	case KindFloat:
		return v.Flt
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FromAny converts a decoded JSON value (as produced by goccy/go-json's
// interface{} decoding: nil, bool, float64, string, []interface{},
// map[string]interface{}) into a Value.
func FromAny(a any) Value {
	switch x := a.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: x}
	case float64:
		if x == float64(int64(x)) {
			return Value{Kind: KindInt, Int: int64(x)}
		}
		return Value{Kind: KindFloat, Flt: x}
	case int:
		return Value{Kind: KindInt, Int: int64(x)}
	case int64:
		return Value{Kind: KindInt, Int: x}
	case string:
		return Value{Kind: KindString, Str: x}
	case []any:
		list := make([]Value, len(x))
		for i, e := range x {
			list[i] = FromAny(e)
		}
		return Value{Kind: KindList, List: list}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return Value{Kind: KindObject, Obj: obj}
	default:
		return Value{Kind: KindNull}
	}
}

// ToAny converts a Value back to a plain interface{} tree suitable for
// JSON re-encoding.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Flt
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}
