package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Tag identifies one of the six transition semantics.
type Tag string

const (
	TagGoto     Tag = "goto"
	TagReset    Tag = "reset"
	TagFunction Tag = "function"
	TagCall     Tag = "call"
	TagFork     Tag = "fork"
	TagResult   Tag = "result"
)

// AllTags lists every recognized transition tag. Unknown tag names in step
// output are ignored, not errors.
var AllTags = []Tag{TagGoto, TagReset, TagFunction, TagCall, TagFork, TagResult}

// IsKnownTag reports whether name is one of the six transition tags.
func IsKnownTag(name string) bool {
	for _, t := range AllTags {
		if string(t) == name {
			return true
		}
	}
	return false
}

// Reserved attribute names. Everything else on a fork tag becomes a one-shot
// template variable for the spawned child.
const (
	AttrTarget = "target"
	AttrReturn = "return"
	AttrNext   = "next"
	AttrCd     = "cd"
)

// Transition is the single declared next-action a step execution emits.
// Target holds the state-unit name for every tag except result; Attrs holds
// the remaining attributes (return, next, cd, fork extras); Payload is the
// free-form result text.
type Transition struct {
	Tag     Tag               `json:"tag"`
	Target  string            `json:"target,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Payload string            `json:"payload,omitempty"`
}

// Attr returns the named attribute, or "" if absent.
func (t Transition) Attr(name string) string {
	return t.Attrs[name]
}

// Return is the return-state attribute of a function or call transition.
func (t Transition) Return() string { return t.Attrs[AttrReturn] }

// Next is the continuation-state attribute of a fork transition.
func (t Transition) Next() string { return t.Attrs[AttrNext] }

// Cd is the working-directory override attribute of a reset or fork transition.
func (t Transition) Cd() string { return t.Attrs[AttrCd] }

// ExtraAttrs returns the non-reserved attributes of the transition. For fork
// these are handed to the child as one-shot template variables.
func (t Transition) ExtraAttrs() map[string]string {
	extras := make(map[string]string)
	for k, v := range t.Attrs {
		switch k {
		case AttrTarget, AttrReturn, AttrNext, AttrCd:
		default:
			extras[k] = v
		}
	}
	return extras
}

// String renders the transition in its wire form. Parsing the rendered form
// yields an equivalent Transition.
func (t Transition) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(string(t.Tag))
	if t.Target != "" {
		fmt.Fprintf(&b, " %s=%q", AttrTarget, t.Target)
	}
	keys := make([]string, 0, len(t.Attrs))
	for k := range t.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, t.Attrs[k])
	}
	if t.Tag == TagResult && t.Payload != "" {
		b.WriteByte('>')
		b.WriteString(t.Payload)
		b.WriteString("</result>")
	} else {
		b.WriteString("/>")
	}
	return b.String()
}
