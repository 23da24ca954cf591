package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-sh/troupe/pkg/schema"
)

func consumeAll(t *testing.T, tr *turn, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, tr.consume([]byte(line)))
	}
}

func TestTurn_HappyPath(t *testing.T) {
	var tr turn
	consumeAll(t, &tr,
		`{"type":"system","subtype":"init","session_id":"sess-abc"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"thinking about it... "}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"<goto target=\"REVIEW\"/>"}]}}`,
		`{"type":"result","subtype":"success","session_id":"sess-abc","result":"<goto target=\"REVIEW\"/>","total_cost_usd":0.0342,"is_error":false}`,
	)

	require.NoError(t, tr.err())
	assert.Equal(t, `<goto target="REVIEW"/>`, tr.text())
	assert.Equal(t, "sess-abc", tr.sessionID)
	assert.InDelta(t, 0.0342, tr.costUSD, 1e-9)
}

func TestTurn_AssistantFallbackWhenResultTextEmpty(t *testing.T) {
	var tr turn
	consumeAll(t, &tr,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"<result>done</result>"}]}}`,
		`{"type":"result","subtype":"success","session_id":"s1","total_cost_usd":0.01}`,
	)
	require.NoError(t, tr.err())
	assert.Equal(t, "<result>done</result>", tr.text())
}

func TestTurn_SkipsBlankAndUnknownLines(t *testing.T) {
	var tr turn
	consumeAll(t, &tr,
		"",
		"   ",
		`{"type":"stream_event","event":{"type":"message_start"}}`,
		`{"type":"result","session_id":"s1","result":"ok"}`,
	)
	require.NoError(t, tr.err())
	assert.Equal(t, "ok", tr.text())
}

func TestTurn_InvalidJSONLine(t *testing.T) {
	var tr turn
	err := tr.consume([]byte("not json at all"))
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeInvocation, te.Code)
}

func TestTurn_MissingResultLine(t *testing.T) {
	var tr turn
	consumeAll(t, &tr,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}`,
	)
	err := tr.err()
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeInvocation, te.Code)
}

func TestTurn_UsageLimitBecomesRateLimited(t *testing.T) {
	raw := "Claude AI usage limit reached|resets 3pm (America/Chicago)"
	var tr turn
	consumeAll(t, &tr,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"Claude AI usage limit reached|resets 3pm (America/Chicago)"}`,
	)
	err := tr.err()
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeRateLimit, te.Code)
	// The raw provider text must survive for reset-time parsing.
	assert.Equal(t, raw, te.Message)
}

func TestTurn_ErrorResultBecomesInvocationError(t *testing.T) {
	var tr turn
	consumeAll(t, &tr,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"API error: overloaded"}`,
	)
	err := tr.err()
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeInvocation, te.Code)
	assert.Contains(t, te.Message, "overloaded")
}

func TestIsUsageLimit(t *testing.T) {
	assert.True(t, isUsageLimit("Claude AI usage limit reached|resets 5pm (UTC)"))
	assert.True(t, isUsageLimit("Rate limit exceeded, try again later"))
	assert.False(t, isUsageLimit("API error: overloaded"))
	assert.False(t, isUsageLimit(""))
}

func TestClient_Args(t *testing.T) {
	c := NewClient()

	t.Run("new session", func(t *testing.T) {
		args := c.args(InvokeRequest{Prompt: "do the thing", Model: "sonnet"})
		assert.Equal(t, []string{
			"-p", "--verbose", "--output-format", "stream-json",
			"--model", "sonnet", "do the thing",
		}, args)
	})

	t.Run("resume", func(t *testing.T) {
		args := c.args(InvokeRequest{Prompt: "continue", ResumeSession: "sess-1"})
		assert.Contains(t, args, "--resume")
		assert.Contains(t, args, "sess-1")
		assert.NotContains(t, args, "--fork-session")
	})

	t.Run("fork from caller", func(t *testing.T) {
		args := c.args(InvokeRequest{Prompt: "branch", ForkFromSession: "sess-1"})
		assert.Contains(t, args, "--resume")
		assert.Contains(t, args, "--fork-session")
	})

	t.Run("permission mode", func(t *testing.T) {
		args := c.args(InvokeRequest{Prompt: "p", PermissionMode: "bypassPermissions"})
		assert.Contains(t, args, "--permission-mode")
		assert.Contains(t, args, "bypassPermissions")

		args = c.args(InvokeRequest{Prompt: "p", PermissionMode: "default"})
		assert.NotContains(t, args, "--permission-mode")
	})

	t.Run("prompt is last", func(t *testing.T) {
		args := c.args(InvokeRequest{Prompt: "final", ResumeSession: "s", Model: "opus"})
		assert.Equal(t, "final", args[len(args)-1])
	})
}

func TestClient_InvokeRejectsResumePlusFork(t *testing.T) {
	c := NewClient()
	_, err := c.Invoke(t.Context(), InvokeRequest{
		Prompt: "p", ResumeSession: "a", ForkFromSession: "b",
	})
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeInvocation, te.Code)
}
