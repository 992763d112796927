package asm

import (
	"fmt"
	"strings"
)

func isIdent(c byte) bool {
	return c == '_' || c == '%' || c == '+' || c == '-' || c == '.' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Tokenize splits an operand list into identifiers and single punctuation
// characters, dropping whitespace.
func Tokenize(line string) []string {
	var parts []string
	for n := 0; n < len(line); n++ {
		if isIdent(line[n]) {
			m := n
			for n < len(line) && isIdent(line[n]) {
				n++
			}
			parts = append(parts, line[m:n])
			n--
			continue
		}
		if !isSpace(line[n]) {
			parts = append(parts, line[n:n+1])
		}
	}
	return parts
}

// operand is a placeholder of a template bound to the text it matched.
type operand struct {
	key   string
	value string
}

// matchFormat binds the placeholders of format to the tokens of line.
// Literal tokens of the format must match exactly.
func matchFormat(format, line string) ([]operand, error) {
	formatChunks := Tokenize(format)
	lineChunks := Tokenize(line)

	var matches []operand
	for len(formatChunks) > 0 && len(lineChunks) > 0 {
		f, l := formatChunks[0], lineChunks[0]
		formatChunks, lineChunks = formatChunks[1:], lineChunks[1:]

		if strings.HasPrefix(f, "%") {
			matches = append(matches, operand{key: f, value: l})
			continue
		}
		if f != l {
			return nil, fmt.Errorf("expected %q, found %q", f, l)
		}
	}

	if len(lineChunks) > 0 {
		return nil, fmt.Errorf("unexpected token %q for format %q", lineChunks[0], format)
	}
	if len(formatChunks) > 0 {
		return nil, fmt.Errorf("missing operands for format %q", format)
	}
	return matches, nil
}
