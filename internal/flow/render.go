// render.go — Resolves {{ ... }} expressions throughout a step's raw params
// before dispatch (spec.md §4.3 step 3).
package flow

import (
	"fmt"

	"github.com/dev-console/dev-console/internal/template"
)

// urlishKeys are the param keys rendered with isURLHost=true, so an
// undefined reference inside them fails fast instead of degrading into a
// URL with a literal "undefined" host segment.
var urlishKeys = map[string]bool{
	"url": true,
}

func scopeFor(state *RunState, inputs map[string]any, secrets map[string]string) template.Scope {
	return template.Scope{Inputs: inputs, Vars: state.Vars, Secret: secrets}
}

// renderParams walks params recursively, rendering every string leaf.
// key is the enclosing map key at each level, used only to decide whether a
// leaf is URL-host-sensitive.
func renderParams(params map[string]any, scope template.Scope) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		rendered, err := renderValue(k, v, scope)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(key string, v any, scope template.Scope) (any, error) {
	switch t := v.(type) {
	case string:
		return template.Render(t, scope, urlishKeys[key])
	case map[string]any:
		return renderParams(t, scope)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rendered, err := renderValue(key, item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}
