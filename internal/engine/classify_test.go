package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/troupe-sh/troupe/pkg/schema"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retries int
		want    Disposition
	}{
		{"rate limit pauses immediately", schema.NewError(schema.ErrCodeRateLimit, "limit"), 0, DispositionPause},
		{"rate limit pauses even with retries left", schema.NewError(schema.ErrCodeRateLimit, "limit"), 2, DispositionPause},
		{"timeout retries", schema.NewError(schema.ErrCodeTimeout, "slow"), 0, DispositionRetry},
		{"timeout second attempt retries", schema.NewError(schema.ErrCodeTimeout, "slow"), 1, DispositionRetry},
		{"timeout exhaustion pauses", schema.NewError(schema.ErrCodeTimeout, "slow"), 2, DispositionPause},
		{"invocation error retries", schema.NewError(schema.ErrCodeInvocation, "boom"), 0, DispositionRetry},
		{"invocation exhaustion fails agent", schema.NewError(schema.ErrCodeInvocation, "boom"), 2, DispositionFailAgent},
		{"parse exhaustion fails agent", schema.NewError(schema.ErrCodeParse, "no transition"), 0, DispositionFailAgent},
		{"policy violation fails agent", schema.NewError(schema.ErrCodePolicy, "not allowed"), 0, DispositionFailAgent},
		{"resolution failure fails agent", schema.NewError(schema.ErrCodeResolution, "missing"), 0, DispositionFailAgent},
		{"script error is fatal", schema.NewError(schema.ErrCodeScript, "exit 1"), 0, DispositionFatal},
		{"store error is fatal", schema.NewError(schema.ErrCodeStore, "disk"), 0, DispositionFatal},
		{"context cancellation is fatal", context.Canceled, 0, DispositionFatal},
		{"unknown error is fatal", errors.New("surprise"), 0, DispositionFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.retries))
		})
	}
}
