package ledb

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// ActionOp enumerates the modifier actions.
type ActionOp uint8

const (
	ActSet ActionOp = 1 + iota
	ActDelete
	ActAdd
	ActSub
	ActMul
	ActDiv
	ActToggle
	ActReplace
	ActSplice
	ActMerge
	ActPrepend
	ActAppend
)

var actionNames = map[ActionOp]string{
	ActSet:     "$set",
	ActDelete:  "$delete",
	ActAdd:     "$add",
	ActSub:     "$sub",
	ActMul:     "$mul",
	ActDiv:     "$div",
	ActToggle:  "$toggle",
	ActReplace: "$replace",
	ActSplice:  "$splice",
	ActMerge:   "$merge",
	ActPrepend: "$prepend",
	ActAppend:  "$append",
}

// Action is a single field edit. Value carries the operand of Set, the
// numeric actions and Merge; Values the elements of Splice, Prepend and
// Append; Pattern/Subst the regex substitution of Replace; Off/Del the
// splice window.
type Action struct {
	Op      ActionOp
	Value   any
	Values  []any
	Pattern *regexp.Regexp
	Subst   string
	Off     int
	Del     int
}

// ModStep is one (field path, action) pair of a modify list.
type ModStep struct {
	Path   string
	Action Action
}

// Modify is an ordered list of field edits applied to each matching
// document.
type Modify []ModStep

func Set(path string, v any) ModStep    { return ModStep{path, Action{Op: ActSet, Value: v}} }
func Delete(path string) ModStep        { return ModStep{path, Action{Op: ActDelete}} }
func Add(path string, v any) ModStep    { return ModStep{path, Action{Op: ActAdd, Value: v}} }
func Sub(path string, v any) ModStep    { return ModStep{path, Action{Op: ActSub, Value: v}} }
func Mul(path string, v any) ModStep    { return ModStep{path, Action{Op: ActMul, Value: v}} }
func Div(path string, v any) ModStep    { return ModStep{path, Action{Op: ActDiv, Value: v}} }
func Toggle(path string) ModStep        { return ModStep{path, Action{Op: ActToggle}} }
func Replace(path string, pat *regexp.Regexp, subst string) ModStep {
	return ModStep{path, Action{Op: ActReplace, Pattern: pat, Subst: subst}}
}
func Splice(path string, off, del int, ins ...any) ModStep {
	return ModStep{path, Action{Op: ActSplice, Off: off, Del: del, Values: ins}}
}
func Merge(path string, obj map[string]any) ModStep {
	return ModStep{path, Action{Op: ActMerge, Value: obj}}
}
func Prepend(path string, vs ...any) ModStep {
	return ModStep{path, Action{Op: ActPrepend, Values: vs}}
}
func Append(path string, vs ...any) ModStep {
	return ModStep{path, Action{Op: ActAppend, Values: vs}}
}

// Apply edits a copy of the document, leaving the original untouched.
// Application is all-or-nothing: any failing action returns an error and
// the document must be considered unmodified.
func (m Modify) Apply(doc any) (any, error) {
	out := copyValue(doc)
	for _, step := range m {
		action := step.Action
		v, err := normalizeActionOperands(&action)
		if err != nil {
			return nil, err
		}
		action = v
		res, _, err := applyAction(out, splitPath(step.Path), &action)
		if err != nil {
			return nil, queryErrf(err, "modify %s at %q failed", actionNames[action.Op], step.Path)
		}
		out = res
	}
	return out, nil
}

func normalizeActionOperands(a *Action) (Action, error) {
	out := *a
	if a.Value != nil {
		v, err := normalizeValue(a.Value)
		if err != nil {
			return out, err
		}
		out.Value = v
	}
	if a.Values != nil {
		vs := make([]any, len(a.Values))
		for i, v := range a.Values {
			nv, err := normalizeValue(v)
			if err != nil {
				return out, err
			}
			vs[i] = nv
		}
		out.Values = vs
	}
	return out, nil
}

// applyAction edits node at the given path. Arrays at intermediate
// positions fan out over their elements, mirroring path extraction; at the
// terminal position they fan out too, except for Set, Delete, Splice,
// Prepend and Append, which act on the array itself. The remove result tells the parent container to drop the
// entry. Missing intermediate objects are created for Set and Merge only;
// other actions leave the document untouched when the path misses.
func applyAction(node any, segs []string, a *Action) (out any, remove bool, err error) {
	if arr, ok := node.([]any); ok && !(len(segs) == 0 && actsOnArray(a.Op)) {
		kept := arr[:0]
		for _, elm := range arr {
			res, drop, err := applyAction(elm, segs, a)
			if err != nil {
				return nil, false, err
			}
			if !drop {
				kept = append(kept, res)
			}
		}
		return kept, false, nil
	}

	if len(segs) == 0 {
		return applyHere(node, a)
	}

	obj, ok := node.(map[string]any)
	if !ok {
		// A scalar in the middle of the path: the path misses.
		return node, false, nil
	}

	child, present := obj[segs[0]]
	if !present {
		if !autoCreates(a.Op) {
			return node, false, nil
		}
		if len(segs) > 1 {
			child = map[string]any{}
		}
	}
	res, drop, err := applyAction(child, segs[1:], a)
	if err != nil {
		return nil, false, err
	}
	if drop {
		delete(obj, segs[0])
	} else {
		obj[segs[0]] = res
	}
	return obj, false, nil
}

func autoCreates(op ActionOp) bool {
	return op == ActSet || op == ActMerge
}

func actsOnArray(op ActionOp) bool {
	switch op {
	case ActSet, ActDelete, ActSplice, ActPrepend, ActAppend:
		return true
	}
	return false
}

func applyHere(node any, a *Action) (out any, remove bool, err error) {
	switch a.Op {
	case ActSet:
		return copyValue(a.Value), false, nil

	case ActDelete:
		return nil, true, nil

	case ActAdd, ActSub, ActMul, ActDiv:
		return applyNumeric(node, a)

	case ActToggle:
		b, ok := node.(bool)
		if !ok {
			return nil, false, queryErrf(nil, "$toggle target is %s, not bool", describeValue(node))
		}
		return !b, false, nil

	case ActReplace:
		s, ok := node.(string)
		if !ok {
			return nil, false, queryErrf(nil, "$replace target is %s, not string", describeValue(node))
		}
		return a.Pattern.ReplaceAllString(s, a.Subst), false, nil

	case ActSplice:
		arr, ok := node.([]any)
		if !ok {
			return nil, false, queryErrf(nil, "$splice target is %s, not array", describeValue(node))
		}
		return spliceArray(arr, a.Off, a.Del, a.Values), false, nil

	case ActPrepend:
		arr, ok := node.([]any)
		if !ok {
			return nil, false, queryErrf(nil, "$prepend target is %s, not array", describeValue(node))
		}
		return append(copySlice(a.Values), arr...), false, nil

	case ActAppend:
		arr, ok := node.([]any)
		if !ok {
			return nil, false, queryErrf(nil, "$append target is %s, not array", describeValue(node))
		}
		return append(arr, copySlice(a.Values)...), false, nil

	case ActMerge:
		src, ok := a.Value.(map[string]any)
		if !ok {
			return nil, false, queryErrf(nil, "$merge operand is %s, not object", describeValue(a.Value))
		}
		if node == nil {
			node = map[string]any{}
		}
		dst, ok := node.(map[string]any)
		if !ok {
			return nil, false, queryErrf(nil, "$merge target is %s, not object", describeValue(node))
		}
		return mergeObjects(dst, src), false, nil
	}
	return nil, false, queryErrf(nil, "unknown modifier action")
}

// applyNumeric implements the arithmetic actions. Int with int stays int;
// mixing int and float promotes the result to float so nothing silently
// truncates. Integer division falls back to a float result when the
// quotient is not exact.
func applyNumeric(node any, a *Action) (any, bool, error) {
	switch target := node.(type) {
	case int64:
		switch operand := a.Value.(type) {
		case int64:
			if a.Op == ActDiv {
				if operand == 0 {
					return nil, false, ErrDivByZero
				}
				if target%operand != 0 {
					return float64(target) / float64(operand), false, nil
				}
				return target / operand, false, nil
			}
			return intArith(a.Op, target, operand), false, nil
		case float64:
			return floatArith(a.Op, float64(target), operand)
		}
	case float64:
		switch operand := a.Value.(type) {
		case int64:
			return floatArith(a.Op, target, float64(operand))
		case float64:
			return floatArith(a.Op, target, operand)
		}
	default:
		return nil, false, queryErrf(nil, "%s target is %s, not a number",
			actionNames[a.Op], describeValue(node))
	}
	return nil, false, queryErrf(nil, "%s operand is %s, not a number",
		actionNames[a.Op], describeValue(a.Value))
}

func intArith(op ActionOp, a, b int64) int64 {
	switch op {
	case ActAdd:
		return a + b
	case ActSub:
		return a - b
	case ActMul:
		return a * b
	}
	panic("unreachable")
}

func floatArith(op ActionOp, a, b float64) (any, bool, error) {
	switch op {
	case ActAdd:
		return a + b, false, nil
	case ActSub:
		return a - b, false, nil
	case ActMul:
		return a * b, false, nil
	case ActDiv:
		if b == 0 {
			return nil, false, ErrDivByZero
		}
		return a / b, false, nil
	}
	panic("unreachable")
}

// spliceArray removes del elements at off (negative off counts from the
// end) and inserts ins in their place.
func spliceArray(arr []any, off, del int, ins []any) []any {
	beg := off
	if beg < 0 {
		beg = len(arr) + 1 + off
		if beg < 0 {
			beg = 0
		}
	}
	if beg > len(arr) {
		beg = len(arr)
	}
	end := beg + del
	if end > len(arr) {
		end = len(arr)
	}
	out := make([]any, 0, len(arr)-(end-beg)+len(ins))
	out = append(out, arr[:beg]...)
	out = append(out, copySlice(ins)...)
	return append(out, arr[end:]...)
}

func copySlice(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = copyValue(v)
	}
	return out
}

// mergeObjects deep-merges src into dst: object fields merge recursively,
// everything else overwrites.
func mergeObjects(dst, src map[string]any) map[string]any {
	for key, sv := range src {
		if so, ok := sv.(map[string]any); ok {
			if do, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeObjects(do, copyObject(so))
				continue
			}
		}
		dst[key] = copyValue(sv)
	}
	return dst
}

func copyObject(obj map[string]any) map[string]any {
	return copyValue(obj).(map[string]any)
}

// --- wire format ---

// ParseModify decodes a modify list: [[path, action], ...] where action is
// {"$set": v} | "$delete" | {"$add": v} | {"$sub": v} | {"$mul": v} |
// {"$div": v} | "$toggle" | {"$replace": [pat, sub]} |
// {"$splice": [off, del, ins...]} | {"$merge": obj} | {"$prepend": [v...]}
// | {"$append": [v...]}. Object-shaped modify inputs are rejected.
func ParseModify(data []byte) (Modify, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, queryErrf(err, "modify must be a list of [path, action] pairs")
	}
	out := make(Modify, 0, len(items))
	for _, item := range items {
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			return nil, queryErrf(err, "modify step must be a [path, action] pair")
		}
		var path string
		if err := json.Unmarshal(pair[0], &path); err != nil {
			return nil, queryErrf(err, "modify path must be a string")
		}
		action, err := actionFromRaw(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, ModStep{Path: path, Action: action})
	}
	return out, nil
}

// UnmarshalJSON implements the wire format for Modify.
func (m *Modify) UnmarshalJSON(data []byte) error {
	parsed, err := ParseModify(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func actionFromRaw(raw json.RawMessage) (Action, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		switch bare {
		case "$delete":
			return Action{Op: ActDelete}, nil
		case "$toggle":
			return Action{Op: ActToggle}, nil
		}
		return Action{}, queryErrf(nil, "unknown modifier action %q", bare)
	}

	obj, err := singleKeyObject(raw, "modifier action")
	if err != nil {
		return Action{}, err
	}
	switch obj.key {
	case "$set", "$merge":
		var v any
		if err := jsonDecodeValue(obj.value, &v); err != nil {
			return Action{}, err
		}
		op := ActSet
		if obj.key == "$merge" {
			op = ActMerge
			if _, ok := v.(map[string]any); !ok {
				return Action{}, queryErrf(nil, "$merge expects an object")
			}
		}
		return Action{Op: op, Value: v}, nil

	case "$add", "$sub", "$mul", "$div":
		var v any
		if err := jsonDecodeValue(obj.value, &v); err != nil {
			return Action{}, err
		}
		op := map[string]ActionOp{"$add": ActAdd, "$sub": ActSub, "$mul": ActMul, "$div": ActDiv}[obj.key]
		return Action{Op: op, Value: v}, nil

	case "$replace":
		var parts []string
		if err := json.Unmarshal(obj.value, &parts); err != nil || len(parts) != 2 {
			return Action{}, queryErrf(err, "$replace expects [pattern, substitution]")
		}
		pat, err := regexp.Compile(parts[0])
		if err != nil {
			return Action{}, queryErrf(err, "bad $replace pattern")
		}
		return Action{Op: ActReplace, Pattern: pat, Subst: parts[1]}, nil

	case "$splice":
		var parts []json.RawMessage
		if err := json.Unmarshal(obj.value, &parts); err != nil || len(parts) < 2 {
			return Action{}, queryErrf(err, "$splice expects [off, del, ins...]")
		}
		var off, del int
		if err := json.Unmarshal(parts[0], &off); err != nil {
			return Action{}, queryErrf(err, "$splice offset must be an integer")
		}
		if err := json.Unmarshal(parts[1], &del); err != nil || del < 0 {
			return Action{}, queryErrf(err, "$splice delete count must be a non-negative integer")
		}
		ins := make([]any, 0, len(parts)-2)
		for _, part := range parts[2:] {
			var v any
			if err := jsonDecodeValue(part, &v); err != nil {
				return Action{}, err
			}
			ins = append(ins, v)
		}
		return Action{Op: ActSplice, Off: off, Del: del, Values: ins}, nil

	case "$prepend", "$append":
		var parts []json.RawMessage
		if err := json.Unmarshal(obj.value, &parts); err != nil {
			return Action{}, queryErrf(err, "%s expects an array of values", obj.key)
		}
		vs := make([]any, len(parts))
		for i, part := range parts {
			if err := jsonDecodeValue(part, &vs[i]); err != nil {
				return Action{}, err
			}
		}
		op := ActPrepend
		if obj.key == "$append" {
			op = ActAppend
		}
		return Action{Op: op, Values: vs}, nil
	}
	return Action{}, queryErrf(nil, "unknown modifier action %q", obj.key)
}

// jsonDecodeValue decodes a JSON value into the canonical tree, keeping
// integral numbers as ints.
func jsonDecodeValue(raw json.RawMessage, out *any) error {
	var v any
	if err := unmarshalNumberPreserving(raw, &v); err != nil {
		return queryErrf(err, "malformed value")
	}
	nv, err := normalizeJSONValue(v)
	if err != nil {
		return err
	}
	*out = nv
	return nil
}

func unmarshalNumberPreserving(raw json.RawMessage, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func normalizeJSONValue(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, queryErrf(err, "bad numeric value %s", v)
		}
		return f, nil
	case []any:
		out := make([]any, len(v))
		for i, elm := range v {
			nv, err := normalizeJSONValue(elm)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elm := range v {
			nv, err := normalizeJSONValue(elm)
			if err != nil {
				return nil, err
			}
			out[key] = nv
		}
		return out, nil
	}
	return normalizeValue(v)
}
