package catalog

import (
	"fmt"
	"strings"

	"github.com/roach88/graphcache/internal/ir"
)

// expand resolves variable references in a template value.
//
//   - A string that is exactly "$name" becomes vars[name], whatever its type.
//   - A list element that mentions "$name[]" anywhere inside it is repeated
//     once per item of the list vars[name], with "$name[]" bound to the item.
//   - "$$" at the start of a string escapes a literal "$".
//
// Every other value is copied unchanged.
func expand(v ir.IRValue, vars ir.IRObject) (ir.IRValue, error) {
	return expandBound(v, vars, nil)
}

func expandBound(v ir.IRValue, vars ir.IRObject, items map[string]ir.IRValue) (ir.IRValue, error) {
	switch val := v.(type) {
	case ir.IRString:
		return resolve(string(val), vars, items)

	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, elem := range val {
			conv, err := expandBound(elem, vars, items)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil

	case ir.IRArray:
		out := make(ir.IRArray, 0, len(val))
		for i, elem := range val {
			name, ok := iterated(elem)
			if !ok || items[name] != nil {
				conv, err := expandBound(elem, vars, items)
				if err != nil {
					return nil, fmt.Errorf("[%d]: %w", i, err)
				}
				out = append(out, conv)
				continue
			}

			list, ok := vars[name].(ir.IRArray)
			if !ok {
				return nil, fmt.Errorf("[%d]: $%s[] needs a list variable %q", i, name, name)
			}
			for _, item := range list {
				bound := map[string]ir.IRValue{name: item}
				for k, v := range items {
					bound[k] = v
				}
				conv, err := expandBound(elem, vars, bound)
				if err != nil {
					return nil, fmt.Errorf("[%d]: %w", i, err)
				}
				out = append(out, conv)
			}
		}
		return out, nil

	default:
		return v, nil
	}
}

func resolve(s string, vars ir.IRObject, items map[string]ir.IRValue) (ir.IRValue, error) {
	if strings.HasPrefix(s, "$$") {
		return ir.IRString(s[1:]), nil
	}
	if !strings.HasPrefix(s, "$") {
		return ir.IRString(s), nil
	}
	name := s[1:]
	if base, ok := strings.CutSuffix(name, "[]"); ok {
		item, bound := items[base]
		if !bound {
			return nil, fmt.Errorf("%s used outside a list", s)
		}
		return ir.CloneValue(item), nil
	}
	val, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %q is not bound", name)
	}
	return ir.CloneValue(val), nil
}

// iterated returns the name of the first "$name[]" reference inside v.
func iterated(v ir.IRValue) (string, bool) {
	switch val := v.(type) {
	case ir.IRString:
		s := string(val)
		if strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "$$") {
			return strings.CutSuffix(s[1:], "[]")
		}
	case ir.IRObject:
		for _, k := range val.SortedKeys() {
			if name, ok := iterated(val[k]); ok {
				return name, true
			}
		}
	case ir.IRArray:
		for _, elem := range val {
			if name, ok := iterated(elem); ok {
				return name, true
			}
		}
	}
	return "", false
}
