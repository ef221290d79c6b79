// Purpose: Owns the human-stable Target reference type shared by the pack
// validator and the flow interpreter (spec.md §3 "Target").
// Docs: docs/features/feature/flow-runtime/index.md

// target.go — Target parsing and structural validation.
package target

import (
	"encoding/json"
	"fmt"
)

// Kind is the resolution strategy for a Target, tried in this priority
// order when a raw step author leaves Kind unset: Role, Label, Text, CSS.
type Kind string

const (
	KindRole  Kind = "role"
	KindLabel Kind = "label"
	KindText  Kind = "text"
	KindCSS   Kind = "css"
)

// Target is a human-stable reference to a DOM element, optionally scoped
// within another target and/or resolved by proximity to another target.
type Target struct {
	Kind     Kind    `json:"kind,omitempty"`
	Role     string  `json:"role,omitempty"`
	Name     string  `json:"name,omitempty"`
	Text     string  `json:"text,omitempty"`
	Exact    bool    `json:"exact,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Within   *Target `json:"within,omitempty"`
	Near     *Target `json:"near,omitempty"`
}

// Parse decodes a raw params value (as produced by encoding/json into
// map[string]any) into a Target, inferring Kind from whichever fields are
// present when Kind is omitted, per the priority order role → label → text
// → css.
func Parse(raw any) (*Target, error) {
	if raw == nil {
		return nil, fmt.Errorf("target: nil value")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	var t Target
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if t.Kind == "" {
		t.Kind = inferKind(&t)
	}
	return &t, nil
}

func inferKind(t *Target) Kind {
	switch {
	case t.Role != "":
		return KindRole
	case t.Selector != "" && t.Text == "":
		return KindCSS
	case t.Text != "":
		return KindText
	default:
		return KindCSS
	}
}

// Validate checks structural well-formedness: a known Kind and the
// required fields for that kind. It does not touch a live page.
func Validate(t *Target) error {
	if t == nil {
		return fmt.Errorf("target: nil")
	}
	switch t.Kind {
	case KindRole:
		if t.Role == "" {
			return fmt.Errorf("target kind=role requires 'role'")
		}
	case KindLabel:
		if t.Text == "" {
			return fmt.Errorf("target kind=label requires 'text'")
		}
	case KindText:
		if t.Text == "" {
			return fmt.Errorf("target kind=text requires 'text'")
		}
	case KindCSS:
		if t.Selector == "" {
			return fmt.Errorf("target kind=css requires 'selector'")
		}
	default:
		return fmt.Errorf("target: unknown kind %q", t.Kind)
	}
	if t.Within != nil {
		if err := Validate(t.Within); err != nil {
			return fmt.Errorf("target.within: %w", err)
		}
	}
	if t.Near != nil {
		if err := Validate(t.Near); err != nil {
			return fmt.Errorf("target.near: %w", err)
		}
	}
	return nil
}

// ParseAndValidate is the common validator entry point.
func ParseAndValidate(raw any) (*Target, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}
