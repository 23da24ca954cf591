// Package policy implements the per-state transition allow-list: parsing the
// policy document out of a prompt unit's front matter, validating emitted
// transitions against it, and synthesizing implicit transitions.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// policySchemaJSON is the JSON Schema for policy documents. Embedded as a
// constant to avoid filesystem dependencies.
const policySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://troupe.sh/schemas/policy.json",
  "type": "object",
  "properties": {
    "model": { "type": "string" },
    "reprompt": { "type": "boolean" },
    "transitions": {
      "type": "array",
      "items": { "$ref": "#/$defs/rule" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "rule": {
      "oneOf": [
        { "type": "string", "enum": ["result"] },
        {
          "type": "object",
          "properties": {
            "goto": { "type": "string", "minLength": 1 },
            "reset": { "type": "string", "minLength": 1 },
            "function": { "type": "string", "minLength": 1 },
            "call": { "type": "string", "minLength": 1 },
            "fork": { "type": "string", "minLength": 1 },
            "result": { "type": ["string", "null"] },
            "return": { "type": "string" },
            "next": { "type": "string" },
            "when": { "type": "string" }
          },
          "additionalProperties": false,
          "minProperties": 1
        }
      ]
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// toJSONValue round-trips a decoded YAML value through JSON so the schema
// validator sees json-package value types.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func policySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(policySchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal policy schema: %w", err)
			return
		}
		if err := c.AddResource("https://troupe.sh/schemas/policy.json", doc); err != nil {
			schemaErr = fmt.Errorf("add policy schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("https://troupe.sh/schemas/policy.json")
	})
	return compiledSchema, schemaErr
}

// Rule is one allow-list entry. Target, Return and Next may be abstract
// (extensionless) names, in which case they match any concretely-resolved
// extension. When is an optional expr guard over the emitted transition.
type Rule struct {
	Tag    schema.Tag
	Target string
	Return string
	Next   string
	When   string
}

func (r Rule) String() string {
	var b strings.Builder
	b.WriteString(string(r.Tag))
	if r.Target != "" {
		b.WriteString(" " + r.Target)
	}
	if r.Return != "" {
		b.WriteString(" return=" + r.Return)
	}
	if r.Next != "" {
		b.WriteString(" next=" + r.Next)
	}
	if r.When != "" {
		b.WriteString(fmt.Sprintf(" when=%q", r.When))
	}
	return b.String()
}

// Policy is a per-state declaration restricting which transitions a step may
// emit. An empty rule list means unrestricted.
type Policy struct {
	Rules    []Rule
	Reprompt bool   // re-invoke with a reminder on recoverable step faults
	Model    string // optional model override for this state
}

// Unrestricted reports whether the policy places no constraint on transitions.
func (p *Policy) Unrestricted() bool {
	return p == nil || len(p.Rules) == 0
}

// AllowsReprompt reports whether the reminder loop may re-invoke the step.
// Absent policy defaults to true.
func (p *Policy) AllowsReprompt() bool {
	return p == nil || p.Reprompt
}

// Parse decodes and validates a YAML policy document (the front matter of a
// prompt unit).
func Parse(doc []byte) (*Policy, error) {
	var decoded map[string]any
	if err := yaml.Unmarshal(doc, &decoded); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "policy document is not valid YAML").WithCause(err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}

	sch, err := policySchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "policy schema unavailable").WithCause(err)
	}
	jsonDoc, err := toJSONValue(decoded)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "serialize policy document").WithCause(err)
	}
	if err := sch.Validate(jsonDoc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "policy document rejected by schema").WithCause(err)
	}

	p := &Policy{Reprompt: true}
	if m, ok := decoded["model"].(string); ok {
		p.Model = m
	}
	if r, ok := decoded["reprompt"].(bool); ok {
		p.Reprompt = r
	}

	rawRules, _ := decoded["transitions"].([]any)
	for i, raw := range rawRules {
		rule, err := decodeRule(raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"transitions[%d]: %s", i, err.Error())
		}
		p.Rules = append(p.Rules, rule)
	}

	return p, nil
}

func decodeRule(raw any) (Rule, error) {
	switch v := raw.(type) {
	case string:
		if v != string(schema.TagResult) {
			return Rule{}, fmt.Errorf("bare rule must be %q, got %q", schema.TagResult, v)
		}
		return Rule{Tag: schema.TagResult}, nil
	case map[string]any:
		var rule Rule
		for key, val := range v {
			switch key {
			case "return":
				rule.Return, _ = val.(string)
			case "next":
				rule.Next, _ = val.(string)
			case "when":
				rule.When, _ = val.(string)
			default:
				if !schema.IsKnownTag(key) {
					return Rule{}, fmt.Errorf("unknown transition tag %q", key)
				}
				if rule.Tag != "" {
					return Rule{}, fmt.Errorf("rule names both %q and %q", rule.Tag, key)
				}
				rule.Tag = schema.Tag(key)
				rule.Target, _ = val.(string)
			}
		}
		if rule.Tag == "" {
			return Rule{}, fmt.Errorf("rule does not name a transition tag")
		}
		return rule, nil
	default:
		return Rule{}, fmt.Errorf("rule must be a string or a mapping")
	}
}

// Validate checks a fully resolved transition against the allow-list. A nil
// policy or empty rule list accepts everything.
func (p *Policy) Validate(tr schema.Transition) error {
	if p.Unrestricted() {
		return nil
	}
	for _, rule := range p.Rules {
		ok, err := p.matches(rule, tr)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodePolicy,
		"transition <%s> target %q not allowed; allowed: %s",
		tr.Tag, tr.Target, p.allowedShapes(tr.Tag))
}

func (p *Policy) matches(rule Rule, tr schema.Transition) (bool, error) {
	if rule.Tag != tr.Tag {
		return false, nil
	}
	if rule.Target != "" && !nameMatches(rule.Target, tr.Target) {
		return false, nil
	}
	if rule.Return != "" && !nameMatches(rule.Return, tr.Return()) {
		return false, nil
	}
	if rule.Next != "" && !nameMatches(rule.Next, tr.Next()) {
		return false, nil
	}
	if rule.When != "" {
		return evalGuard(rule.When, tr)
	}
	return true, nil
}

// allowedShapes renders the rules for the offending tag, or every rule when
// none share the tag.
func (p *Policy) allowedShapes(tag schema.Tag) string {
	var same, all []string
	for _, rule := range p.Rules {
		all = append(all, rule.String())
		if rule.Tag == tag {
			same = append(same, rule.String())
		}
	}
	if len(same) > 0 {
		return "[" + strings.Join(same, "; ") + "]"
	}
	return "[" + strings.Join(all, "; ") + "]"
}

// nameMatches compares a rule name against a concretely resolved state name.
// An abstract (extensionless) rule name matches any extension of the same base.
func nameMatches(ruleName, resolved string) bool {
	if ruleName == resolved {
		return true
	}
	if strings.Contains(ruleName, ".") {
		return false
	}
	if idx := strings.LastIndex(resolved, "."); idx > 0 {
		return resolved[:idx] == ruleName
	}
	return false
}

// Implicit returns the transition to synthesize when a step emitted none:
// the policy must declare exactly one non-result rule, that rule must carry a
// concrete target, no guard, and (for function/call/fork) its return or next
// state. Result transitions are never implicit.
func (p *Policy) Implicit() (schema.Transition, bool) {
	if p.Unrestricted() {
		return schema.Transition{}, false
	}
	var candidate *Rule
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.Tag == schema.TagResult {
			continue
		}
		if candidate != nil {
			return schema.Transition{}, false
		}
		candidate = rule
	}
	if candidate == nil || candidate.Target == "" || candidate.When != "" {
		return schema.Transition{}, false
	}

	tr := schema.Transition{Tag: candidate.Tag, Target: candidate.Target}
	switch candidate.Tag {
	case schema.TagFunction, schema.TagCall:
		if candidate.Return == "" {
			return schema.Transition{}, false
		}
		tr.Attrs = map[string]string{schema.AttrReturn: candidate.Return}
	case schema.TagFork:
		if candidate.Next == "" {
			return schema.Transition{}, false
		}
		tr.Attrs = map[string]string{schema.AttrNext: candidate.Next}
	}
	return tr, true
}
