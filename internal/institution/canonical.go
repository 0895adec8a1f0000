// Package institution folds raw training-provider names into canonical groups.
package institution

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// disallowed matches everything outside Hangul syllables, ASCII letters,
// digits, whitespace and parentheses.
var disallowed = regexp.MustCompile(`[^\x{AC00}-\x{D7A3}A-Za-z0-9\s()]`)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeName standardizes an institution name for alias matching by:
//  1. Composing to NFC (decomposed Hangul from some exports would otherwise be stripped)
//  2. Removing characters other than Hangul syllables, ASCII letters, digits,
//     whitespace and parentheses
//  3. Collapsing whitespace
//  4. Converting to uppercase
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	name = disallowed.ReplaceAllString(name, "")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.ToUpper(strings.TrimSpace(name))
}

// Canonicalizer maps raw institution names to canonical group names using an
// ordered alias table. It is immutable and safe for concurrent use.
type Canonicalizer struct {
	aliases []Alias
}

// New creates a Canonicalizer over a copy of aliases. Keywords are matched
// against normalized names and are expected in normalized form; spaces in
// keywords are significant.
func New(aliases []Alias) *Canonicalizer {
	cp := make([]Alias, len(aliases))
	for i, a := range aliases {
		cp[i] = Alias{Canonical: a.Canonical, Keywords: append([]string(nil), a.Keywords...)}
	}
	return &Canonicalizer{aliases: cp}
}

// Default returns a Canonicalizer over DefaultAliases.
func Default() *Canonicalizer {
	return New(DefaultAliases)
}

// Canonicalize returns the canonical name of the first alias entry whose
// keyword occurs in the normalized form of raw. Unmatched names are returned
// unchanged so display stays human-readable.
func (c *Canonicalizer) Canonicalize(raw string) string {
	if canonical, ok := c.Match(raw); ok {
		return canonical
	}
	return raw
}

// Match is like Canonicalize but reports whether an alias matched.
func (c *Canonicalizer) Match(raw string) (string, bool) {
	normalized := NormalizeName(raw)
	if normalized == "" {
		return "", false
	}
	for _, a := range c.aliases {
		for _, k := range a.Keywords {
			if k != "" && strings.Contains(normalized, k) {
				return a.Canonical, true
			}
		}
	}
	return "", false
}

// Groups returns the canonical names in declaration order.
func (c *Canonicalizer) Groups() []string {
	out := make([]string, len(c.aliases))
	for i, a := range c.aliases {
		out[i] = a.Canonical
	}
	return out
}

// Aliases returns a copy of the alias table.
func (c *Canonicalizer) Aliases() []Alias {
	return New(c.aliases).aliases
}
