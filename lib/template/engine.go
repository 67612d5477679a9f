// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"fmt"
	"io"
	"maps"
	"regexp"
	"sort"
)

// tokenPattern matches @@name@@ and ${name}. Group 1 holds the name
// for the @@ form, group 2 for the ${} form.
var tokenPattern = regexp.MustCompile(`@@([A-Za-z0-9_.\-]+)@@|\$\{([A-Za-z0-9_.\-]+)\}`)

// Engine substitutes token references with their values. The zero
// value is not usable; construct with [New] or [NewWithSystemInfo].
// An Engine is not safe for concurrent mutation, but Replace may be
// called concurrently once all tokens are set.
type Engine struct {
	tokens map[string]string
}

// New returns an engine with no tokens.
func New() *Engine {
	return &Engine{tokens: make(map[string]string)}
}

// Set defines (or redefines) a token.
func (e *Engine) Set(name, value string) {
	e.tokens[name] = value
}

// SetAll defines every token in values.
func (e *Engine) SetAll(values map[string]string) {
	for name, value := range values {
		e.tokens[name] = value
	}
}

// Lookup returns the value of a token and whether it is defined.
func (e *Engine) Lookup(name string) (string, bool) {
	value, ok := e.tokens[name]
	return value, ok
}

// Tokens returns a copy of the token map.
func (e *Engine) Tokens() map[string]string {
	return maps.Clone(e.tokens)
}

// Names returns the defined token names in sorted order.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.tokens))
	for name := range e.tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the engine.
func (e *Engine) Clone() *Engine {
	return &Engine{tokens: maps.Clone(e.tokens)}
}

// Replace returns input with every known token reference substituted.
func (e *Engine) Replace(input string) string {
	return tokenPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := tokenPattern.FindStringSubmatch(match)
		name := parts[1]
		if name == "" {
			name = parts[2]
		}
		if value, ok := e.tokens[name]; ok {
			return value
		}
		return match
	})
}

// ReplaceBytes is Replace for byte slices.
func (e *Engine) ReplaceBytes(input []byte) []byte {
	return []byte(e.Replace(string(input)))
}

// ReplaceStream reads all of source, substitutes tokens, and writes
// the result to destination. Template files are configuration-sized,
// so the whole content is held in memory.
func (e *Engine) ReplaceStream(source io.Reader, destination io.Writer) (int64, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return 0, fmt.Errorf("reading template: %w", err)
	}
	written, err := destination.Write(e.ReplaceBytes(data))
	if err != nil {
		return int64(written), fmt.Errorf("writing realized template: %w", err)
	}
	return int64(written), nil
}

// Unresolved returns the distinct token names referenced in input
// that the engine does not define, in order of first appearance.
// Deployments log these at debug level to help bundle authors spot
// misspelled property names.
func (e *Engine) Unresolved(input string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, parts := range tokenPattern.FindAllStringSubmatch(input, -1) {
		name := parts[1]
		if name == "" {
			name = parts[2]
		}
		if _, ok := e.tokens[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
