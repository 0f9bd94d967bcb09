// Package template provides variable substitution and extraction for actor
// request payloads. It does not depend on any transport.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// varPattern matches ${var}, ${env:VAR} and ${fn(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Vars holds the variables of one actor thread: values extracted from
// earlier responses, the current data row and the run position.
// It is not safe for concurrent use.
type Vars struct {
	m map[string]any
}

func NewVars() *Vars {
	return &Vars{m: make(map[string]any)}
}

func (v *Vars) Get(name string) (any, bool) {
	val, ok := v.m[name]
	return val, ok
}

func (v *Vars) Set(name string, value any) {
	v.m[name] = value
}

// Merge sets every entry of values.
func (v *Vars) Merge(values map[string]any) {
	for k, val := range values {
		v.m[k] = val
	}
}

// Substitute replaces placeholders in text. Built-in functions are tried
// before variables, so ${uuid()} always yields a fresh UUID.
// Returns all errors joined if multiple placeholders fail.
// If text contains no placeholders, it is returned unchanged.
func Substitute(text string, vars *Vars) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]

		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			if val, ok := os.LookupEnv(envName); ok {
				return val
			}
			errs = append(errs, fmt.Errorf("env var %q not set", envName))
			return match
		}

		if val, isFunc, err := evalFunction(name); isFunc {
			if err != nil {
				errs = append(errs, err)
				return match
			}
			return val
		}

		if vars != nil {
			if val, ok := vars.Get(name); ok {
				return fmt.Sprintf("%v", val)
			}
		}
		errs = append(errs, fmt.Errorf("variable %q not found", name))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// SubstituteMap applies substitution to all values in a map.
func SubstituteMap(m map[string]string, vars *Vars) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]string, len(m))
	var errs []error

	for k, v := range m {
		substituted, err := Substitute(v, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		result[k] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}
