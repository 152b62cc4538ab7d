package script

import (
	"fmt"

	lua "github.com/Shopify/go-lua"
	"github.com/zclconf/go-cty/cty"
)

// fromLua serializes the Lua value at the given stack index into the
// neutral value representation. Only data crosses the boundary: functions,
// userdata and threads are rejected, since they cannot be copied into
// another VM.
func fromLua(l *lua.State, index int) (cty.Value, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case lua.TypeBoolean:
		return cty.BoolVal(l.ToBoolean(index)), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return cty.NumberFloatVal(n), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return cty.StringVal(s), nil
	case lua.TypeTable:
		return tableFromLua(l, index)
	default:
		return cty.NilVal, fmt.Errorf("cannot serialize Lua %s into module state", typeName(l, index))
	}
}

// tableFromLua converts a Lua table: a dense 1..n integer-keyed sequence
// becomes a tuple, anything else an object over its string keys. Keys that
// are neither turn into nothing; there is no faithful neutral encoding for
// them, and the original engine dropped them too.
func tableFromLua(l *lua.State, index int) (cty.Value, error) {
	index = l.AbsIndex(index)

	isArray := true
	maxIndex := 0
	count := 0
	empty := true
	l.PushNil()
	for l.Next(index) {
		empty = false
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if empty {
		return cty.EmptyObjectVal, nil
	}

	if isArray && count > 0 && maxIndex == count {
		elems := make([]cty.Value, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			v, err := fromLua(l, -1)
			l.Pop(1)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, v)
		}
		return cty.TupleVal(elems), nil
	}

	attrs := make(map[string]cty.Value)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			v, err := fromLua(l, -1)
			if err != nil {
				l.Pop(2)
				return cty.NilVal, fmt.Errorf("field %q: %w", key, err)
			}
			attrs[key] = v
		}
		l.Pop(1)
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

// toLua pushes the neutral representation of v onto the Lua stack.
func toLua(l *lua.State, v cty.Value) error {
	if v.IsNull() {
		l.PushNil()
		return nil
	}
	t := v.Type()
	switch {
	case t == cty.Bool:
		l.PushBoolean(v.True())
	case t == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		l.PushNumber(f)
	case t == cty.String:
		l.PushString(v.AsString())
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		l.CreateTable(v.LengthInt(), 0)
		i := 0
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			i++
			if err := toLua(l, ev); err != nil {
				l.Pop(1)
				return err
			}
			l.RawSetInt(-2, i)
		}
	case t.IsObjectType():
		attrs := t.AttributeTypes()
		l.CreateTable(0, len(attrs))
		for name := range attrs {
			if err := toLua(l, v.GetAttr(name)); err != nil {
				l.Pop(1)
				return err
			}
			l.SetField(-2, name)
		}
	case t.IsMapType():
		l.CreateTable(0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			if err := toLua(l, ev); err != nil {
				l.Pop(1)
				return err
			}
			l.SetField(-2, kv.AsString())
		}
	default:
		return fmt.Errorf("cannot place %s value into Lua", t.FriendlyName())
	}
	return nil
}

func typeName(l *lua.State, index int) string {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return "boolean"
	case lua.TypeNumber:
		return "number"
	case lua.TypeString:
		return "string"
	case lua.TypeTable:
		return "table"
	case lua.TypeFunction:
		return "function"
	case lua.TypeUserData:
		return "userdata"
	case lua.TypeThread:
		return "thread"
	default:
		return "unknown"
	}
}
