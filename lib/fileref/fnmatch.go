// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fileref

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// maxExpandedRange is the largest range a bracket expression is
// expanded into single characters for.
const maxExpandedRange = 256

// errMatchesNothing marks a pattern containing a bracket expression
// that no character satisfies, such as "[z-a]".
var errMatchesNothing = errors.New("pattern matches nothing")

// globSyntax rewrites an fnmatch(3) pattern into gobwas/glob syntax.
// Braces and commas are literal in fnmatch, a "[" without a closing
// "]" is a literal "[", a backslash quotes the next character, and
// bracket expressions may mix ranges and single characters and be
// negated with "!" or "^".
func globSyntax(pattern string) (string, error) {
	runes := []rune(pattern)
	var builder strings.Builder
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*', '?':
			builder.WriteRune(r)
		case '\\':
			if i+1 < len(runes) {
				i++
			}
			writeQuoted(&builder, runes[i])
		case '[':
			class, end, ok := parseClass(runes, i+1)
			if !ok {
				writeQuoted(&builder, r)
				continue
			}
			if err := class.write(&builder); err != nil {
				return "", err
			}
			i = end
		default:
			writeQuoted(&builder, r)
		}
	}
	return builder.String(), nil
}

// writeQuoted writes r so that gobwas/glob reads it literally.
func writeQuoted(builder *strings.Builder, r rune) {
	if strings.ContainsRune(`*?[]{},\!-`, r) {
		builder.WriteByte('\\')
	}
	builder.WriteRune(r)
}

// charClass is a parsed fnmatch bracket expression.
type charClass struct {
	negate  bool
	singles []rune
	ranges  [][2]rune
}

// parseClass parses the bracket expression whose body starts at
// runes[start]. It returns the index of the closing "]", or ok false
// if the expression is not terminated.
func parseClass(runes []rune, start int) (class charClass, end int, ok bool) {
	i := start
	if i < len(runes) && (runes[i] == '!' || runes[i] == '^') {
		class.negate = true
		i++
	}
	first := true
	for i < len(runes) {
		r := runes[i]
		if r == ']' && !first {
			return class, i, true
		}
		first = false
		if r == '\\' && i+1 < len(runes) {
			i++
			r = runes[i]
		}
		if i+2 < len(runes) && runes[i+1] == '-' && runes[i+2] != ']' {
			hiIndex := i + 2
			if runes[hiIndex] == '\\' && hiIndex+1 < len(runes) {
				hiIndex++
			}
			hi := runes[hiIndex]
			// A reversed range matches nothing.
			if hi >= r {
				class.ranges = append(class.ranges, [2]rune{r, hi})
			}
			i = hiIndex + 1
			continue
		}
		class.singles = append(class.singles, r)
		i++
	}
	return charClass{}, 0, false
}

// write emits the class in gobwas/glob syntax. gobwas classes hold
// either one range or a list of characters, so small ranges are
// expanded into the list and large ones become alternatives.
func (c charClass) write(builder *strings.Builder) error {
	members := slices.Clone(c.singles)
	var large [][2]rune
	for _, span := range c.ranges {
		if span[1]-span[0] >= maxExpandedRange {
			// gobwas reads a leading "!" as negation.
			if !c.negate && span[0] == '!' {
				members = append(members, '!')
				span[0]++
			}
			large = append(large, span)
			continue
		}
		for r := span[0]; r <= span[1]; r++ {
			members = append(members, r)
		}
	}
	slices.Sort(members)
	members = slices.Compact(members)

	switch {
	case len(large) == 0 && len(members) == 0:
		if c.negate {
			builder.WriteByte('?')
			return nil
		}
		return errMatchesNothing
	case len(large) == 0:
		writeList(builder, c.negate, members)
		return nil
	case len(large) == 1 && len(members) == 0:
		writeRange(builder, c.negate, large[0])
		return nil
	case c.negate:
		return fmt.Errorf("negated bracket expression mixes a range of more than %d characters with other members", maxExpandedRange)
	}

	builder.WriteByte('{')
	for i, span := range large {
		if i > 0 {
			builder.WriteByte(',')
		}
		writeRange(builder, false, span)
	}
	if len(members) > 0 {
		builder.WriteByte(',')
		writeList(builder, false, members)
	}
	builder.WriteByte('}')
	return nil
}

// writeList writes a character list. The first member is written
// unquoted where possible: gobwas reads a quoted first member followed
// by "-" as the start of a range.
func writeList(builder *strings.Builder, negate bool, members []rune) {
	builder.WriteByte('[')
	if negate {
		builder.WriteByte('!')
	}
	for i, r := range members {
		if i == 0 && !strings.ContainsRune(`\]!`, r) {
			builder.WriteRune(r)
			continue
		}
		builder.WriteByte('\\')
		builder.WriteRune(r)
	}
	builder.WriteByte(']')
}

// writeRange writes a single-range class. gobwas reads both bounds
// unquoted.
func writeRange(builder *strings.Builder, negate bool, span [2]rune) {
	builder.WriteByte('[')
	if negate {
		builder.WriteByte('!')
	}
	builder.WriteRune(span[0])
	builder.WriteByte('-')
	builder.WriteRune(span[1])
	builder.WriteByte(']')
}
