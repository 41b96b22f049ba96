package decode

import (
	"fmt"
	"strings"
)

// formatSpec is a parsed format string. Placeholders bind positionally to
// the values carried in a frame.
type formatSpec struct {
	segments     []segment
	placeholders []string
}

// segment is either literal text (arg < 0) or a reference to the arg'th
// value.
type segment struct {
	text string
	arg  int
}

// parseFormat parses a format string with {name} placeholders. Placeholder
// names use [A-Za-z0-9_.]; literal braces are doubled.
func parseFormat(format string) (*formatSpec, error) {
	spec := &formatSpec{}
	var lit strings.Builder

	flushLit := func() {
		if lit.Len() > 0 {
			spec.segments = append(spec.segments, segment{text: lit.String(), arg: -1})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); {
		switch format[i] {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				lit.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(format[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at byte %d", i)
			}
			name := format[i+1 : i+1+end]
			if !validPlaceholderName(name) {
				return nil, fmt.Errorf("invalid placeholder name %q", name)
			}
			flushLit()
			spec.segments = append(spec.segments, segment{arg: len(spec.placeholders)})
			spec.placeholders = append(spec.placeholders, name)
			i += end + 2
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				lit.WriteByte('}')
				i += 2
				continue
			}
			return nil, fmt.Errorf("stray '}' at byte %d", i)
		default:
			lit.WriteByte(format[i])
			i++
		}
	}
	flushLit()
	return spec, nil
}

func validPlaceholderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// render substitutes values into the format. The caller has already checked
// that len(values) matches the placeholder count.
func (s *formatSpec) render(values [][]byte) string {
	var b strings.Builder
	for _, seg := range s.segments {
		if seg.arg < 0 {
			b.WriteString(seg.text)
			continue
		}
		b.Write(values[seg.arg])
	}
	return b.String()
}
