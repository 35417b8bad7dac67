package ledb

import (
	"encoding/json"
	"fmt"
)

// CompOp enumerates the comparison operators of filter leaves.
type CompOp uint8

const (
	CompEq CompOp = 1 + iota
	CompIn
	CompLt
	CompLe
	CompGt
	CompGe
	CompBw
	CompHas
)

var compOpNames = map[CompOp]string{
	CompEq:  "$eq",
	CompIn:  "$in",
	CompLt:  "$lt",
	CompLe:  "$le",
	CompGt:  "$gt",
	CompGe:  "$ge",
	CompBw:  "$bw",
	CompHas: "$has",
}

func (op CompOp) String() string {
	if s, ok := compOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("CompOp(%d)", uint8(op))
}

// Comp is a comparison predicate against a single field path.
// Args holds one value for Eq/Lt/Le/Gt/Ge, any number for In, and the two
// bounds for Bw; Incl carries the per-end inclusivity of Bw.
type Comp struct {
	Op   CompOp
	Args []KeyData
	Incl [2]bool
}

// Filter is a query filter tree: leaves are field comparisons, internal
// nodes are $and, $or and $not. A nil *Filter matches every document.
type Filter struct {
	And   []*Filter
	Or    []*Filter
	Not   *Filter
	Field string
	Cond  *Comp
}

func Eq(field string, v KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompEq, Args: []KeyData{v}}}
}

func In(field string, vs ...KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompIn, Args: vs}}
}

func Lt(field string, v KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompLt, Args: []KeyData{v}}}
}

func Le(field string, v KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompLe, Args: []KeyData{v}}}
}

func Gt(field string, v KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompGt, Args: []KeyData{v}}}
}

func Ge(field string, v KeyData) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompGe, Args: []KeyData{v}}}
}

func Bw(field string, lo KeyData, loInc bool, hi KeyData, hiInc bool) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompBw, Args: []KeyData{lo, hi}, Incl: [2]bool{loInc, hiInc}}}
}

func Has(field string) *Filter {
	return &Filter{Field: field, Cond: &Comp{Op: CompHas}}
}

func FilterAnd(fs ...*Filter) *Filter { return &Filter{And: fs} }
func FilterOr(fs ...*Filter) *Filter  { return &Filter{Or: fs} }
func FilterNot(f *Filter) *Filter     { return &Filter{Not: f} }

// Match evaluates the filter against a document the naive way: extract
// the addressed values and compare in memory. This is the semantics every
// compiled plan must reproduce.
func (f *Filter) Match(doc any) bool {
	if f == nil {
		return true
	}
	switch {
	case f.And != nil:
		for _, sub := range f.And {
			if !sub.Match(doc) {
				return false
			}
		}
		return true
	case f.Or != nil:
		for _, sub := range f.Or {
			if sub.Match(doc) {
				return true
			}
		}
		return false
	case f.Not != nil:
		return !f.Not.Match(doc)
	}
	return f.Cond.matchValues(extractValues(doc, f.Field))
}

// matchValues reports whether any extracted value satisfies the
// comparison. Comparison operands are coerced to the runtime type of each
// value; values that no operand can be coerced to never match.
func (c *Comp) matchValues(values []any) bool {
	if c == nil {
		return true
	}
	if c.Op == CompHas {
		for _, v := range values {
			if _, ok := keyDataFromNode(v); ok {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		kd, ok := keyDataFromNode(v)
		if !ok {
			continue
		}
		if c.matchKey(kd) {
			return true
		}
	}
	return false
}

func (c *Comp) matchKey(kd KeyData) bool {
	arg := func(i int) (KeyData, bool) {
		return c.Args[i].CoerceTo(kd.Type())
	}
	switch c.Op {
	case CompEq:
		a, ok := arg(0)
		return ok && kd.Compare(a) == 0
	case CompIn:
		for i := range c.Args {
			if a, ok := arg(i); ok && kd.Compare(a) == 0 {
				return true
			}
		}
		return false
	case CompLt:
		a, ok := arg(0)
		return ok && kd.Compare(a) < 0
	case CompLe:
		a, ok := arg(0)
		return ok && kd.Compare(a) <= 0
	case CompGt:
		a, ok := arg(0)
		return ok && kd.Compare(a) > 0
	case CompGe:
		a, ok := arg(0)
		return ok && kd.Compare(a) >= 0
	case CompBw:
		lo, ok := arg(0)
		if !ok {
			return false
		}
		hi, ok := arg(1)
		if !ok {
			return false
		}
		if cmp := kd.Compare(lo); cmp < 0 || (cmp == 0 && !c.Incl[0]) {
			return false
		}
		if cmp := kd.Compare(hi); cmp > 0 || (cmp == 0 && !c.Incl[1]) {
			return false
		}
		return true
	}
	return false
}

// Order selects the result ordering: by primary when Field is empty,
// by extracted field values otherwise. The zero value is primary
// ascending.
type Order struct {
	Field string
	Desc  bool
}

func OrderAsc() Order                { return Order{} }
func OrderDesc() Order               { return Order{Desc: true} }
func OrderBy(field string, desc bool) Order { return Order{Field: field, Desc: desc} }

// --- wire format ---

// ParseFilter decodes the structural JSON filter form:
// null | {field: comp} | {"$and": [...]} | {"$or": [...]} | {"$not": f}.
func ParseFilter(data []byte) (*Filter, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, queryErrf(err, "malformed filter")
	}
	return filterFromRaw(raw)
}

// UnmarshalJSON implements the wire format for Filter.
func (f *Filter) UnmarshalJSON(data []byte) error {
	parsed, err := ParseFilter(data)
	if err != nil {
		return err
	}
	if parsed == nil {
		*f = Filter{}
		return nil
	}
	*f = *parsed
	return nil
}

func filterFromRaw(raw json.RawMessage) (*Filter, error) {
	if isJSONNull(raw) {
		return nil, nil
	}
	obj, err := singleKeyObject(raw, "filter")
	if err != nil {
		return nil, err
	}
	switch obj.key {
	case "$and", "$or":
		var items []json.RawMessage
		if err := json.Unmarshal(obj.value, &items); err != nil {
			return nil, queryErrf(err, "%s expects an array of filters", obj.key)
		}
		subs := make([]*Filter, 0, len(items))
		for _, item := range items {
			sub, err := filterFromRaw(item)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				subs = append(subs, sub)
			}
		}
		if obj.key == "$and" {
			return &Filter{And: subs}, nil
		}
		return &Filter{Or: subs}, nil
	case "$not":
		sub, err := filterFromRaw(obj.value)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, queryErrf(nil, "$not expects a filter")
		}
		return &Filter{Not: sub}, nil
	}
	comp, err := compFromRaw(obj.value)
	if err != nil {
		return nil, err
	}
	return &Filter{Field: obj.key, Cond: comp}, nil
}

func compFromRaw(raw json.RawMessage) (*Comp, error) {
	var has string
	if err := json.Unmarshal(raw, &has); err == nil {
		if has == "$has" {
			return &Comp{Op: CompHas}, nil
		}
		return nil, queryErrf(nil, "unknown comparison %q", has)
	}
	obj, err := singleKeyObject(raw, "comparison")
	if err != nil {
		return nil, err
	}
	switch obj.key {
	case "$eq", "$lt", "$le", "$gt", "$ge":
		v, err := keyDataFromJSON(obj.value)
		if err != nil {
			return nil, err
		}
		op := map[string]CompOp{"$eq": CompEq, "$lt": CompLt, "$le": CompLe, "$gt": CompGt, "$ge": CompGe}[obj.key]
		return &Comp{Op: op, Args: []KeyData{v}}, nil
	case "$in":
		var items []json.RawMessage
		if err := json.Unmarshal(obj.value, &items); err != nil {
			return nil, queryErrf(err, "$in expects an array of values")
		}
		args := make([]KeyData, len(items))
		for i, item := range items {
			args[i], err = keyDataFromJSON(item)
			if err != nil {
				return nil, err
			}
		}
		return &Comp{Op: CompIn, Args: args}, nil
	case "$bw":
		var items []json.RawMessage
		if err := json.Unmarshal(obj.value, &items); err != nil || len(items) != 4 {
			return nil, queryErrf(err, "$bw expects [lo, incl_lo, hi, incl_hi]")
		}
		lo, err := keyDataFromJSON(items[0])
		if err != nil {
			return nil, err
		}
		hi, err := keyDataFromJSON(items[2])
		if err != nil {
			return nil, err
		}
		var loInc, hiInc bool
		if err := json.Unmarshal(items[1], &loInc); err != nil {
			return nil, queryErrf(err, "$bw inclusivity must be a bool")
		}
		if err := json.Unmarshal(items[3], &hiInc); err != nil {
			return nil, queryErrf(err, "$bw inclusivity must be a bool")
		}
		return &Comp{Op: CompBw, Args: []KeyData{lo, hi}, Incl: [2]bool{loInc, hiInc}}, nil
	}
	return nil, queryErrf(nil, "unknown comparison operator %q", obj.key)
}

// MarshalJSON implements the wire format for Filter.
func (f *Filter) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	switch {
	case f.And != nil:
		return json.Marshal(map[string][]*Filter{"$and": f.And})
	case f.Or != nil:
		return json.Marshal(map[string][]*Filter{"$or": f.Or})
	case f.Not != nil:
		return json.Marshal(map[string]*Filter{"$not": f.Not})
	}
	comp, err := f.Cond.marshalWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{f.Field: comp})
}

func (c *Comp) marshalWire() (json.RawMessage, error) {
	if c == nil {
		return nil, queryErrf(nil, "filter leaf without a comparison")
	}
	if c.Op == CompHas {
		return json.Marshal("$has")
	}
	name, ok := compOpNames[c.Op]
	if !ok {
		return nil, queryErrf(nil, "invalid comparison operator")
	}
	switch c.Op {
	case CompIn:
		vals := make([]any, len(c.Args))
		for i, a := range c.Args {
			vals[i] = keyDataToJSON(a)
		}
		return json.Marshal(map[string]any{name: vals})
	case CompBw:
		return json.Marshal(map[string]any{name: []any{
			keyDataToJSON(c.Args[0]), c.Incl[0], keyDataToJSON(c.Args[1]), c.Incl[1],
		}})
	}
	return json.Marshal(map[string]any{name: keyDataToJSON(c.Args[0])})
}

// ParseOrder decodes "$asc" | "$desc" | {field: "$asc"|"$desc"} | null.
func ParseOrder(data []byte) (Order, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Order{}, queryErrf(err, "malformed order")
	}
	if isJSONNull(raw) {
		return Order{}, nil
	}
	var kind string
	if err := json.Unmarshal(raw, &kind); err == nil {
		return orderKind("", kind)
	}
	obj, err := singleKeyObject(raw, "order")
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(obj.value, &kind); err != nil {
		return Order{}, queryErrf(err, "order direction must be a string")
	}
	return orderKind(obj.key, kind)
}

func orderKind(field, kind string) (Order, error) {
	switch kind {
	case "$asc":
		return Order{Field: field}, nil
	case "$desc":
		return Order{Field: field, Desc: true}, nil
	}
	return Order{}, queryErrf(nil, "unknown order direction %q", kind)
}

// UnmarshalJSON implements the wire format for Order.
func (o *Order) UnmarshalJSON(data []byte) error {
	parsed, err := ParseOrder(data)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalJSON implements the wire format for Order.
func (o Order) MarshalJSON() ([]byte, error) {
	kind := "$asc"
	if o.Desc {
		kind = "$desc"
	}
	if o.Field == "" {
		return json.Marshal(kind)
	}
	return json.Marshal(map[string]string{o.Field: kind})
}

type keyedRaw struct {
	key   string
	value json.RawMessage
}

func singleKeyObject(raw json.RawMessage, what string) (keyedRaw, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return keyedRaw{}, queryErrf(err, "malformed %s", what)
	}
	if len(m) != 1 {
		return keyedRaw{}, queryErrf(nil, "%s must be an object with exactly one key, got %d", what, len(m))
	}
	for k, v := range m {
		return keyedRaw{key: k, value: v}, nil
	}
	panic("unreachable")
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// keyDataFromJSON maps a JSON scalar onto key data: integral numbers
// become int keys, other numbers float keys, strings string keys and
// booleans bool keys. Binary keys have no JSON form and are constructed
// through the Go API.
func keyDataFromJSON(raw json.RawMessage) (KeyData, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return IntKey(i), nil
		}
		f, err := num.Float64()
		if err != nil {
			return KeyData{}, queryErrf(err, "bad numeric value %s", num)
		}
		return FloatKey(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StringKey(s), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return BoolKey(b), nil
	}
	return KeyData{}, queryErrf(nil, "value %s is not usable as a key", raw)
}

func keyDataToJSON(kd KeyData) any {
	return kd.Value()
}
