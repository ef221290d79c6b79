// Purpose: Owns the non-Turing-complete {{ path | filter }} template grammar
// used throughout a flow's params for inputs/vars/secret interpolation
// (spec.md §5).
// Docs: docs/features/feature/flow-runtime/index.md

// template.go — Regexp-based scanner and evaluator for `{{ path | filter }}`
// expressions. Modeled on internal/redaction/redaction.go's compiled-pattern
// shape (a small set of pre-compiled regexps applied to a string), since the
// grammar here is likewise a closed, non-recursive set of substitutions
// rather than a general-purpose templating language.
//
// text/template was deliberately not reused for this: its field access is
// dot-prefixed off an implicit "." (no clean way to express inputs.foo vs
// vars.foo vs secret.foo as three separate root namespaces), it has no
// concept of "undefined" distinct from "empty string" (needed to fail fast
// when an undefined variable lands in a URL host), and it has no hook to
// intercept a value before interpolation (needed to redact secrets from the
// engine's own error output). A small regexp scanner expresses this closed
// grammar more directly than bending text/template to do so.
package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var exprPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Scope supplies the three root namespaces an expression may read from.
type Scope struct {
	Inputs map[string]any
	Vars   map[string]any
	Secret map[string]string
}

// TemplateError reports a failure to resolve or render a `{{ ... }}`
// expression. Message never contains secret values — Render redacts them
// before any error is constructed.
type TemplateError struct {
	Expr    string
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template_error: %q: %s", e.Expr, e.Message)
}

// Render evaluates every `{{ path | filter... }}` expression in s against
// scope. isURLHost, when true, additionally rejects an undefined path
// reference (spec.md's "fail fast when a template references an undefined
// variable inside a URL host").
func Render(s string, scope Scope, isURLHost bool) (string, error) {
	var firstErr error
	result := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		inner := exprPattern.FindStringSubmatch(match)[1]
		val, err := evalExpr(inner, scope, isURLHost)
		if err != nil {
			firstErr = redactSecretsFromError(err, scope)
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func evalExpr(expr string, scope Scope, isURLHost bool) (string, error) {
	parts := strings.Split(expr, "|")
	path := strings.TrimSpace(parts[0])

	val, defined := lookup(path, scope)
	if !defined {
		if isURLHost {
			return "", &TemplateError{Expr: expr, Message: fmt.Sprintf("undefined reference %q used in URL host", path)}
		}
	}

	str := stringify(val)
	for _, rawFilter := range parts[1:] {
		filter := strings.TrimSpace(rawFilter)
		out, err := applyFilter(filter, str, defined)
		if err != nil {
			return "", &TemplateError{Expr: expr, Message: err.Error()}
		}
		str = out
		if filter == "default" || strings.HasPrefix(filter, "default:") {
			defined = true
		}
	}

	if !defined && isURLHost {
		return "", &TemplateError{Expr: expr, Message: fmt.Sprintf("undefined reference %q", path)}
	}
	return str, nil
}

func lookup(path string, scope Scope) (any, bool) {
	root, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	switch root {
	case "inputs":
		v, ok := scope.Inputs[rest]
		return v, ok
	case "vars":
		v, ok := scope.Vars[rest]
		return v, ok
	case "secret":
		v, ok := scope.Secret[rest]
		return v, ok
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func applyFilter(filter, value string, defined bool) (string, error) {
	name, arg, hasArg := strings.Cut(filter, ":")
	switch name {
	case "urlencode":
		return url.QueryEscape(value), nil
	case "trim":
		return strings.TrimSpace(value), nil
	case "upper":
		return strings.ToUpper(value), nil
	case "lower":
		return strings.ToLower(value), nil
	case "default":
		if defined && value != "" {
			return value, nil
		}
		if !hasArg {
			return "", fmt.Errorf("default filter requires an argument")
		}
		return unquote(arg), nil
	default:
		return "", fmt.Errorf("unknown filter %q", name)
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// redactSecretsFromError replaces any secret value that may have leaked
// into an error message (e.g. via a default filter argument) with
// "[redacted]" before the error is returned to a caller that may log it.
func redactSecretsFromError(err error, scope Scope) error {
	te, ok := err.(*TemplateError)
	if !ok {
		return err
	}
	msg := te.Message
	for _, v := range scope.Secret {
		if v != "" {
			msg = strings.ReplaceAll(msg, v, "[redacted]")
		}
	}
	return &TemplateError{Expr: te.Expr, Message: msg}
}

// IsTemplate reports whether s contains at least one `{{ ... }}` expression.
func IsTemplate(s string) bool {
	return exprPattern.MatchString(s)
}
