package engine

import (
	"context"
	"errors"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// maxStepRetries bounds how often one agent's step is re-run after a
// retryable failure before the exhaustion treatment applies.
const maxStepRetries = 3

// Disposition is the scheduler's tagged verdict on a failed step. Control
// flow runs on these values; raised errors are reserved for genuinely
// unexpected conditions.
type Disposition int

const (
	// DispositionRetry re-runs the step and increments the agent's counter.
	DispositionRetry Disposition = iota
	// DispositionPause parks the agent, retaining the error text for the
	// limit-wait helper.
	DispositionPause
	// DispositionFailAgent drops the agent; siblings keep running.
	DispositionFailAgent
	// DispositionFatal aborts the whole workflow.
	DispositionFatal
)

func (d Disposition) String() string {
	switch d {
	case DispositionRetry:
		return "retry"
	case DispositionPause:
		return "pause"
	case DispositionFailAgent:
		return "fail_agent"
	case DispositionFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps a step error and the agent's persisted retry count to a
// disposition. Rate limits pause immediately; timeouts retry then pause;
// generic invocation errors retry then fail the agent; script and storage
// errors are always workflow-fatal, as is anything unrecognized.
func Classify(err error, retries int) Disposition {
	if errors.Is(err, context.Canceled) {
		return DispositionFatal
	}

	var te *schema.TroupeError
	if !errors.As(err, &te) {
		return DispositionFatal
	}

	switch te.Code {
	case schema.ErrCodeRateLimit:
		return DispositionPause
	case schema.ErrCodeTimeout:
		if retries+1 >= maxStepRetries {
			return DispositionPause
		}
		return DispositionRetry
	case schema.ErrCodeInvocation:
		if retries+1 >= maxStepRetries {
			return DispositionFailAgent
		}
		return DispositionRetry
	case schema.ErrCodeParse, schema.ErrCodePolicy, schema.ErrCodeResolution, schema.ErrCodeValidation:
		// The executor's reminder loop already spent its attempts.
		return DispositionFailAgent
	case schema.ErrCodeScript, schema.ErrCodeStore:
		return DispositionFatal
	}
	return DispositionFatal
}
