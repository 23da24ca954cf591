// Package transition extracts transition tags from step output text.
//
// A transition is an XML-style element using one of the six recognized tag
// names. Anything else that looks like markup is left alone: LLM output is
// free-form and may contain arbitrary angle brackets.
package transition

import (
	"regexp"
	"strings"

	"github.com/troupe-sh/troupe/pkg/schema"
)

var (
	openRe = regexp.MustCompile(`<(goto|reset|function|call|fork|result)\b([^>]*?)(/?)>`)
	attrRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.-]*)\s*=\s*"([^"]*)"`)
)

// Parse extracts all recognized transitions from text, in order of
// appearance. Unrecognized tag names are silently skipped and do not count
// toward the total. Malformed recognized tags fail fast.
func Parse(text string) ([]schema.Transition, error) {
	var out []schema.Transition

	pos := 0
	for pos < len(text) {
		loc := openRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}

		tag := schema.Tag(text[pos+loc[2] : pos+loc[3]])
		rawAttrs := text[pos+loc[4] : pos+loc[5]]
		selfClosing := loc[6] != loc[7]
		end := pos + loc[1]

		tr := schema.Transition{Tag: tag, Attrs: map[string]string{}}
		for _, m := range attrRe.FindAllStringSubmatch(rawAttrs, -1) {
			if m[1] == schema.AttrTarget {
				tr.Target = m[2]
				continue
			}
			tr.Attrs[m[1]] = m[2]
		}

		if !selfClosing {
			closing := "</" + string(tag) + ">"
			idx := strings.Index(text[end:], closing)
			if idx == -1 {
				return nil, schema.NewErrorf(schema.ErrCodeParse, "unclosed <%s> tag", tag)
			}
			if tag == schema.TagResult {
				tr.Payload = strings.TrimSpace(text[end : end+idx])
			}
			end += idx + len(closing)
		}

		if err := checkTransition(tr); err != nil {
			return nil, err
		}
		if len(tr.Attrs) == 0 {
			tr.Attrs = nil
		}
		out = append(out, tr)
		pos = end
	}

	return out, nil
}

// ValidateSingle enforces the exactly-one-transition-per-step invariant.
func ValidateSingle(transitions []schema.Transition) (schema.Transition, error) {
	switch len(transitions) {
	case 1:
		return transitions[0], nil
	case 0:
		return schema.Transition{}, schema.NewError(schema.ErrCodeParse,
			"no transition found in step output")
	default:
		tags := make([]string, len(transitions))
		for i, tr := range transitions {
			tags[i] = string(tr.Tag)
		}
		return schema.Transition{}, schema.NewErrorf(schema.ErrCodeParse,
			"expected exactly one transition, found %d (%s)",
			len(transitions), strings.Join(tags, ", "))
	}
}

// checkTransition fail-fast validates the shape of a parsed transition.
// Target, return and next are state-unit names and may not be empty or
// contain path separators; cd is exempt because it is a path by design.
func checkTransition(tr schema.Transition) error {
	if tr.Tag == schema.TagResult {
		return nil
	}
	if err := checkStateName(tr.Tag, schema.AttrTarget, tr.Target, true); err != nil {
		return err
	}
	switch tr.Tag {
	case schema.TagFunction, schema.TagCall:
		return checkStateName(tr.Tag, schema.AttrReturn, tr.Return(), true)
	case schema.TagFork:
		return checkStateName(tr.Tag, schema.AttrNext, tr.Next(), true)
	}
	return nil
}

func checkStateName(tag schema.Tag, attr, name string, required bool) error {
	if name == "" {
		if !required {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeParse,
			"<%s> requires a non-empty %q attribute", tag, attr)
	}
	if strings.ContainsAny(name, `/\`) {
		return schema.NewErrorf(schema.ErrCodeParse,
			"<%s> %s %q must not contain path separators", tag, attr, name)
	}
	return nil
}
