package claude

import (
	"encoding/json"
	"strings"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// envelope is one line of the CLI's stream-json output. Only the fields the
// orchestrator needs are decoded; everything else in the stream is ignored.
type envelope struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype"`
	SessionID    string         `json:"session_id"`
	Result       string         `json:"result"`
	IsError      bool           `json:"is_error"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	Message      *nestedMessage `json:"message"`
}

type nestedMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// turn accumulates the stream for one invocation. The final "result" line
// carries the authoritative text and cost; assistant text blocks are kept as
// a fallback for streams that end without one.
type turn struct {
	assistant  strings.Builder
	resultText string
	sessionID  string
	costUSD    float64
	isError    bool
	errSubtype string
	sawResult  bool
}

// consume folds one stream line into the turn. Blank lines and unknown line
// types are skipped; a line that is not valid JSON is a parse error.
func (t *turn) consume(line []byte) error {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return schema.NewErrorf(schema.ErrCodeInvocation,
			"invalid stream-json line: %s", truncate(string(line), 200)).WithCause(err)
	}

	if env.SessionID != "" {
		t.sessionID = env.SessionID
	}

	switch env.Type {
	case "assistant":
		if env.Message != nil {
			for _, block := range env.Message.Content {
				if block.Type == "text" {
					t.assistant.WriteString(block.Text)
				}
			}
		}
	case "result":
		t.sawResult = true
		t.resultText = env.Result
		t.costUSD = env.TotalCostUSD
		t.isError = env.IsError
		t.errSubtype = env.Subtype
	}
	return nil
}

// text returns the response text for the turn, preferring the result line.
func (t *turn) text() string {
	if t.sawResult && t.resultText != "" {
		return t.resultText
	}
	return t.assistant.String()
}

// err maps an error-flagged result line to a structured error, or nil for a
// successful turn. Usage-limit messages get their own code so the scheduler
// can pause instead of retrying; the raw provider text is preserved for
// reset-time parsing.
func (t *turn) err() error {
	if !t.sawResult {
		return schema.NewError(schema.ErrCodeInvocation,
			"stream ended without a result message")
	}
	if !t.isError {
		return nil
	}
	if isUsageLimit(t.resultText) {
		return schema.NewError(schema.ErrCodeRateLimit, t.resultText)
	}
	msg := t.resultText
	if msg == "" {
		msg = "invocation failed: " + t.errSubtype
	}
	return schema.NewError(schema.ErrCodeInvocation, msg)
}

// isUsageLimit reports whether the provider text announces a usage limit.
func isUsageLimit(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "usage limit reached") ||
		strings.Contains(lower, "rate limit")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
