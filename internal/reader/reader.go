// Package reader implements the tokenizer that turns one raw line of text
// into the input.Value tree the compiler expects, per spec.md §6's grammar.
// The interactive line editor (cursor motion, history, escape handling) is
// out of scope (spec.md §1) — this package only turns a finished line of
// text into tokens.
package reader

import "github.com/washlang/wash/internal/input"

// Tokenize parses one line of text into an input.Value: a single token if
// the line contains exactly one, otherwise a Long of tokens (mirroring
// InputLine::process in the original implementation, which collapses a
// one-token line to that token directly).
func Tokenize(line string) input.Value {
	items := parseItems([]rune(line), new(int), false)
	switch len(items) {
	case 0:
		return input.NewLong()
	case 1:
		return items[0]
	default:
		return input.NewLong(items...)
	}
}

func isSplit(ch rune) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', ',':
		return true
	default:
		return false
	}
}

func isWord(ch rune) bool {
	return !isSplit(ch) && ch != '(' && ch != ')' && ch != '"'
}

// parseItems consumes runes from pos onward, stopping at end of input or
// (when insideParen) at a matching ')'.
func parseItems(runes []rune, pos *int, insideParen bool) []input.Value {
	var items []input.Value
	for *pos < len(runes) {
		ch := runes[*pos]
		if insideParen && ch == ')' {
			*pos++
			return items
		}
		switch {
		case isSplit(ch):
			start := *pos
			for *pos < len(runes) && isSplit(runes[*pos]) {
				*pos++
			}
			items = append(items, input.NewSplit(string(runes[start:*pos])))
		case ch == '"':
			*pos++
			start := *pos
			for *pos < len(runes) && runes[*pos] != '"' {
				*pos++
			}
			lit := string(runes[start:*pos])
			if *pos < len(runes) {
				*pos++ // consume closing quote
			}
			items = append(items, input.NewLiteral(lit))
		case ch == '(':
			*pos++
			sub := parseItems(runes, pos, true)
			items = append(items, input.NewLong(sub...))
		default:
			start := *pos
			for *pos < len(runes) && isWord(runes[*pos]) {
				*pos++
			}
			name := string(runes[start:*pos])
			if *pos < len(runes) && runes[*pos] == '(' {
				*pos++
				args := parseItems(runes, pos, true)
				items = append(items, input.NewFunction(name, args...))
			} else {
				items = append(items, input.NewShort(name))
			}
		}
	}
	return items
}
