package apierr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResetTime_DurationString(t *testing.T) {
	ms := ParseResetTime(nil, "quota will reset after 1h2m3s")
	assert.Equal(t, int64(3723000), ms)
}

func TestParseResetTime_SecondsOnly(t *testing.T) {
	ms := ParseResetTime(nil, "please retry after 45s")
	assert.Equal(t, int64(45000), ms)
}

func TestParseResetTime_RetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	ms := ParseResetTime(h, "")
	assert.Equal(t, int64(30000), ms)
}

func TestParseResetTime_NoMatch(t *testing.T) {
	ms := ParseResetTime(nil, "something unrelated went wrong")
	assert.Equal(t, int64(0), ms)
}

func TestParseReason_StatusCodeTakesPriority(t *testing.T) {
	assert.Equal(t, ReasonModelCapacityExhausted, ParseReason("irrelevant text", 503))
	assert.Equal(t, ReasonServerError, ParseReason("irrelevant text", 500))
}

func TestParseReason_KeywordFallback(t *testing.T) {
	assert.Equal(t, ReasonQuotaExhausted, ParseReason("daily quota exceeded for this project", 200))
	assert.Equal(t, ReasonRateLimitExceeded, ParseReason("too many requests, rate limit hit", 200))
}

func TestClassify_AuthenticationError(t *testing.T) {
	err := Classify(http.StatusUnauthorized, nil, "invalid credentials", nil)
	require.NotNil(t, err)
	assert.Equal(t, TypeAuthentication, err.ErrType)
	assert.Equal(t, 401, err.StatusCode)
}

func TestClassify_OverloadedCarriesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "10")
	err := Classify(429, h, "rate limit exceeded", nil)
	require.NotNil(t, err)
	assert.Equal(t, TypeOverloaded, err.ErrType)
	assert.Equal(t, int64(10000), err.RetryAfterMs)
}

func TestClassify_InvalidRequest(t *testing.T) {
	err := Classify(http.StatusBadRequest, nil, "missing required field: messages", nil)
	require.NotNil(t, err)
	assert.Equal(t, TypeInvalidRequest, err.ErrType)
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := assert.AnError
	err := NewAPIError("wrapped", 503, cause)
	assert.ErrorIs(t, err, cause)
}
