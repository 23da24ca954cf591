package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_Substitution(t *testing.T) {
	out := Render("agent ${agent_id} resumes ${state}", map[string]string{
		"agent_id": "main",
		"state":    "PLAN.md",
	})
	assert.Equal(t, "agent main resumes PLAN.md", out)
}

func TestRender_UnresolvedPassesThrough(t *testing.T) {
	out := Render("known ${a}, unknown ${missing}", map[string]string{"a": "x"})
	assert.Equal(t, "known x, unknown ${missing}", out)
}

func TestRender_NoReferences(t *testing.T) {
	assert.Equal(t, "plain text", Render("plain text", nil))
}

func TestRender_UnterminatedReference(t *testing.T) {
	assert.Equal(t, "broken ${tail", Render("broken ${tail", map[string]string{"tail": "x"}))
}

func TestRender_EmptyValue(t *testing.T) {
	assert.Equal(t, "result: ", Render("result: ${result}", map[string]string{"result": ""}))
}

func TestRender_RepeatedKey(t *testing.T) {
	out := Render("${id} and ${id}", map[string]string{"id": "wf-1"})
	assert.Equal(t, "wf-1 and wf-1", out)
}
