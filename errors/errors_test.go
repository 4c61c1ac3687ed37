package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesLocation(t *testing.T) {
	err := New("bad value %d", 3)
	assert.Regexp(t, `^\[errors_test\.go:\d+\] bad value 3$`, err.Error())
}

func TestWrapfKeepsCause(t *testing.T) {
	cause := Sentinel("boom")
	err := Wrapf(cause, "loading %s", "config")
	require.Error(t, err)
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "loading config: boom")
	assert.Nil(t, Wrapf(nil, "ignored"))
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind APIErrorKind
		want string
	}{
		{"safety", fmt.Errorf("400: SAFETY_CHECK_TYPE_BIO"), APIErrorSafety, "⚠️ Request blocked by safety filters. Try rephrasing your message."},
		{"guidelines", fmt.Errorf("content violates usage guidelines"), APIErrorSafety, "⚠️ Request blocked by safety filters. Try rephrasing your message."},
		{"rate limit", fmt.Errorf("POST: 429 Too Many Requests"), APIErrorRateLimit, "⚠️ Rate limit exceeded. Please wait a moment before trying again."},
		{"rate limit code", fmt.Errorf("rate_limit_exceeded"), APIErrorRateLimit, "⚠️ Rate limit exceeded. Please wait a moment before trying again."},
		{"auth", fmt.Errorf("401 Unauthorized"), APIErrorAuth, "⚠️ API authentication error. Check your API key."},
		{"permission", fmt.Errorf("no permission for model"), APIErrorAuth, "⚠️ API authentication error. Check your API key."},
		{"generic", fmt.Errorf("connection reset"), APIErrorGeneric, "API Error: connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAPIError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.want, got.UserMessage())
			assert.True(t, Is(got, tt.err))
		})
	}
	assert.Nil(t, ClassifyAPIError(nil))
}
