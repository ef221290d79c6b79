// inputs.go — Input-schema default application and validation (spec.md §3).
package packfile

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ResolveInputs applies defaults from schema to raw, rejects unknown fields,
// and checks required fields and basic type compatibility. It returns a new
// map; raw is not mutated.
func ResolveInputs(schema map[string]InputField, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))

	for name := range raw {
		if _, ok := schema[name]; !ok {
			return nil, fmt.Errorf("unknown input field %q", name)
		}
	}

	for name, field := range schema {
		value, present := raw[name]
		if !present {
			if field.Required {
				return nil, fmt.Errorf("missing required input %q", name)
			}
			value = field.Default
			present = field.Default != nil
		}
		if present {
			if err := checkType(name, field.Type, value); err != nil {
				return nil, err
			}
		}
		out[name] = value
	}
	return out, nil
}

func checkType(name string, want FieldType, value any) error {
	if value == nil {
		return nil
	}
	switch want {
	case TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("input %q: expected string, got %T", name, value)
		}
	case TypeNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("input %q: expected number, got %T", name, value)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("input %q: expected boolean, got %T", name, value)
		}
	default:
		return fmt.Errorf("input %q: unknown declared type %q", name, want)
	}
	return nil
}
