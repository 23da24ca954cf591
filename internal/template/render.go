// Package template renders prompt templates by substituting ${key}
// references from a flat variable map.
package template

import "strings"

// Render replaces every ${key} whose key is present in vars. Unresolved
// references pass through unchanged so prompt text may legitimately contain
// shell-style placeholders.
func Render(tpl string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(tpl))

	i := 0
	for i < len(tpl) {
		idx := strings.Index(tpl[i:], "${")
		if idx == -1 {
			b.WriteString(tpl[i:])
			break
		}
		b.WriteString(tpl[i : i+idx])
		start := i + idx

		end := strings.Index(tpl[start:], "}")
		if end == -1 {
			b.WriteString(tpl[start:])
			break
		}
		end += start

		key := strings.TrimSpace(tpl[start+2 : end])
		if val, ok := vars[key]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(tpl[start : end+1])
		}
		i = end + 1
	}

	return b.String()
}
