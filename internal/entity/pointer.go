// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Pointer is a parsed RFC 6901 JSON pointer. The empty pointer addresses
// the whole document.
type Pointer []string

// ParsePointer parses s, which must be empty or start with "/".
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, oops.Code("POINTER_INVALID").
			With("path", s).
			Errorf("JSON pointer %q must start with '/'", s)
	}
	raw := strings.Split(s[1:], "/")
	p := make(Pointer, len(raw))
	for i, tok := range raw {
		unescaped, err := unescapeToken(tok)
		if err != nil {
			return nil, oops.Code("POINTER_INVALID").With("path", s).Wrap(err)
		}
		p[i] = unescaped
	}
	return p, nil
}

// NewPointer builds a pointer from unescaped tokens.
func NewPointer(tokens ...string) Pointer {
	return append(Pointer{}, tokens...)
}

// String renders the pointer with "~" and "/" escaped.
func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range p {
		b.WriteByte('/')
		b.WriteString(escapeToken(tok))
	}
	return b.String()
}

// Parent returns the pointer without its last token.
func (p Pointer) Parent() Pointer {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

// Last returns the final token, or "" for the root pointer.
func (p Pointer) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// WithLast returns a copy with the final token replaced.
func (p Pointer) WithLast(tok string) Pointer {
	out := append(Pointer{}, p...)
	if len(out) > 0 {
		out[len(out)-1] = tok
	}
	return out
}

func escapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	return strings.ReplaceAll(tok, "/", "~1")
}

func unescapeToken(tok string) (string, error) {
	if !strings.Contains(tok, "~") {
		return tok, nil
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] != '~' {
			b.WriteByte(tok[i])
			continue
		}
		if i+1 >= len(tok) {
			return "", oops.Errorf("dangling '~' in token %q", tok)
		}
		switch tok[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", oops.Errorf("invalid escape '~%c' in token %q", tok[i+1], tok)
		}
		i++
	}
	return b.String(), nil
}

// arrayIndex parses an RFC 6901 array index. Leading zeros are rejected.
func arrayIndex(tok string) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}
