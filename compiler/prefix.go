package compiler

import (
	"fmt"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// PrefixFunc converts the raw text between the quotes of a prefixed string
// literal such as r"..." into a value. Escapes are not processed.
type PrefixFunc func(raw string) (runtime.Value, error)

// PrefixTable holds string prefix handlers. Register all prefixes before
// handing the table to a lexer; lookups are not synchronised with Register.
type PrefixTable struct {
	handlers map[string]PrefixFunc
}

// NewPrefixTable returns a table with the built-in prefixes: r (raw string)
// and b (byte string with escapes).
func NewPrefixTable() *PrefixTable {
	pt := &PrefixTable{handlers: make(map[string]PrefixFunc)}
	pt.Register("r", func(raw string) (runtime.Value, error) { return raw, nil })
	pt.Register("b", func(raw string) (runtime.Value, error) {
		s, err := Unescape(raw)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	})
	return pt
}

// Register adds or replaces the handler for prefix.
func (pt *PrefixTable) Register(prefix string, fn PrefixFunc) {
	pt.handlers[prefix] = fn
}

// Lookup returns the handler for prefix.
func (pt *PrefixTable) Lookup(prefix string) (PrefixFunc, bool) {
	fn, ok := pt.handlers[prefix]
	return fn, ok
}

// Unescape processes backslash escapes in s.
func Unescape(s string) (string, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("trailing backslash")
		}
		switch c = s[i]; c {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '0':
			out = append(out, 0)
		case '\\', '"', '\'', '{', '}':
			out = append(out, c)
		case 'x':
			if i+3 > len(s) {
				return "", fmt.Errorf("short \\x escape")
			}
			v, ok := hexValue(s[i+1 : i+3])
			if !ok {
				return "", fmt.Errorf("invalid \\x escape")
			}
			out = append(out, byte(v))
			i += 2
		case 'u':
			if i+5 > len(s) {
				return "", fmt.Errorf("short \\u escape")
			}
			v, ok := hexValue(s[i+1 : i+5])
			if !ok {
				return "", fmt.Errorf("invalid \\u escape")
			}
			out = append(out, string(rune(v))...)
			i += 4
		default:
			return "", fmt.Errorf("unknown escape \\%c", c)
		}
	}
	return string(out), nil
}

func hexValue(s string) (int, bool) {
	v := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v*16 + int(c-'0')
		case c >= 'a' && c <= 'f':
			v = v*16 + int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v*16 + int(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
