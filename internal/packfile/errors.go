// errors.go — Loader/validator failure surface (spec.md §4.1).
package packfile

import (
	"fmt"
	"strings"
)

// MissingFileError reports an absent manifest or flow document.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("missing_file: %s not found", e.Path)
}

// SchemaError reports a missing or mistyped manifest field.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema_error: %s: %s", e.Field, e.Message)
}

// MissingRequiredSecretError reports a declared-required secret absent from
// the pack's secrets store.
type MissingRequiredSecretError struct {
	Name string
}

func (e *MissingRequiredSecretError) Error() string {
	return fmt.Sprintf("missing_required_secret: %s", e.Name)
}

// FlowValidationError aggregates every structural/referential problem found
// in a single validation pass so a pack author sees all of them at once.
type FlowValidationError struct {
	Problems []string
}

func (e *FlowValidationError) Error() string {
	return fmt.Sprintf("flow_validation_error: %d problem(s):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *FlowValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *FlowValidationError) ok() bool {
	return len(e.Problems) == 0
}
