// Package frontmatter reads and writes the small key/value block at the top
// of a job file.
//
// The format is deliberately narrower than YAML: one `key: value` pair per
// line, values are either integers (all ASCII digits) or strings, and key
// order is preserved on re-encoding so that files stay diff-friendly for the
// people editing them.
package frontmatter

import (
	"strconv"
	"strings"
)

// Delimiter opens and closes the metadata block.
const Delimiter = "---"

// Decode splits content into metadata and body.
//
// Content that does not start with the delimiter, or whose metadata block is
// never closed, is returned whole as body with empty metadata.
func Decode(content string) (*Metadata, string) {
	meta := New()
	if !strings.HasPrefix(content, Delimiter) {
		return meta, content
	}
	end := strings.Index(content[len(Delimiter):], Delimiter)
	if end == -1 {
		return meta, content
	}
	end += len(Delimiter)

	raw := strings.TrimSpace(content[len(Delimiter):end])
	for _, line := range strings.Split(raw, "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if isDigits(val) {
			if n, err := strconv.Atoi(val); err == nil {
				meta.Set(key, n)
				continue
			}
		}
		meta.Set(key, val)
	}

	body := strings.TrimLeft(content[end+len(Delimiter):], "\n")
	return meta, body
}

// Encode renders metadata and body back into a job file.
func Encode(meta *Metadata, body string) string {
	var b strings.Builder
	b.WriteString(Delimiter)
	b.WriteByte('\n')
	if meta != nil {
		for _, key := range meta.keys {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(formatValue(meta.values[key]))
			b.WriteByte('\n')
		}
	}
	b.WriteString(Delimiter)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return ""
	}
}
