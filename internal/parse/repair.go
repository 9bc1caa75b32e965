package parse

import (
	"regexp"
	"strconv"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*\\s*\\n?(.*?)```")

// stripFences returns the body of the first Markdown code fence in s.
func stripFences(s string) (string, bool) {
	m := fenceRe.FindStringSubmatch(s)
	if m == nil {
		// An unterminated fence still carries the payload after it.
		if i := strings.Index(s, "```"); i >= 0 {
			rest := strings.TrimLeft(s[i+3:], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
			return strings.TrimSpace(rest), true
		}
		return s, false
	}
	return strings.TrimSpace(m[1]), true
}

// firstObject returns the first balanced {...} span of s. Braces inside
// single- or double-quoted strings do not count.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// relax rewrites near-JSON into JSON: single-quoted strings become
// double-quoted, bare keys are quoted, trailing commas are dropped, and
// bare words become strings.
func relax(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(s):
				if quote == '\'' && s[i+1] == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte(c)
					b.WriteByte(s[i+1])
				}
				i++
			case c == quote:
				b.WriteByte('"')
				quote = 0
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte('"')
		case c == ',':
			j := skipSpace(s, i+1)
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(c)
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			word := s[i:j]
			if k := skipSpace(s, j); k < len(s) && s[k] == ':' {
				b.WriteString(strconv.Quote(word))
			} else {
				b.WriteString(literal(word))
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func literal(word string) string {
	switch word {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None":
		return "null"
	case "true", "false", "null":
		return word
	}
	return strconv.Quote(word)
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

var callRe = regexp.MustCompile(`(?s)([A-Za-z_][A-Za-z0-9_]*)\s*\(([^()]*)\)`)

// callFrom converts function-call shorthand such as click(x=20, y=710,) or
// hotkey("ctrl", "l") into an object. Only calls naming a known kind count.
func (p *Parser) callFrom(s string) (map[string]any, string, bool) {
	for _, m := range callRe.FindAllStringSubmatch(s, -1) {
		kind, ok := resolveKind(m[1])
		if !ok {
			continue
		}
		obj := map[string]any{"action": string(kind)}
		var positional []any
		for _, arg := range splitArgs(m[2]) {
			if key, val, ok := splitKeyValue(arg); ok {
				obj[key] = scalar(val)
				continue
			}
			positional = append(positional, scalar(arg))
		}
		assignPositional(obj, kind, positional)
		p.repaired("function_call", "call", m[1])
		return obj, m[0], true
	}
	return nil, "", false
}

// splitArgs splits on top-level commas, ignoring empty trailing arguments.
func splitArgs(s string) []string {
	var out []string
	var quote byte
	depth := 0
	start := 0
	flush := func(end int) {
		if arg := strings.TrimSpace(s[start:end]); arg != "" {
			out = append(out, arg)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

func splitKeyValue(arg string) (string, string, bool) {
	i := strings.IndexAny(arg, "=:")
	if i <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(arg[:i])
	for j := 0; j < len(key); j++ {
		if !isIdent(key[j]) {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(arg[i+1:]), true
}

// scalar interprets a bare argument as a number, a quoted string or a list.
func scalar(v string) any {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	if len(v) >= 2 && v[0] == '[' && v[len(v)-1] == ']' {
		var items []any
		for _, it := range splitArgs(v[1 : len(v)-1]) {
			items = append(items, scalar(it))
		}
		return items
	}
	return v
}
