package unit

import (
	"os"
	"strings"

	"github.com/troupe-sh/troupe/internal/policy"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// Prompt is a loaded prompt unit: the rendered-template source plus its
// optional policy from the YAML front matter.
type Prompt struct {
	Unit
	Template string
	Policy   *policy.Policy
}

// LoadPrompt reads a prompt unit from disk and parses its front matter.
func LoadPrompt(u Unit) (*Prompt, error) {
	if u.Kind != KindPrompt {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"state %q is not a prompt unit", u.Name)
	}
	raw, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeResolution,
			"read state %q: %s", u.Name, err.Error()).WithCause(err)
	}

	doc, body := splitFrontMatter(string(raw))
	p := &Prompt{Unit: u, Template: body}
	if doc != "" {
		pol, err := policy.Parse([]byte(doc))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"state %q: %s", u.Name, err.Error()).WithCause(err)
		}
		p.Policy = pol
	}
	return p, nil
}

// splitFrontMatter separates a leading YAML front-matter block (delimited by
// "---" lines) from the template body. Files without front matter return the
// whole content as body.
func splitFrontMatter(content string) (doc, body string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", content
	}
	rest := normalized[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx == -1 {
		return "", content
	}
	doc = rest[:idx]
	body = rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return doc, body
}
