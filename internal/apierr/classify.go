package apierr

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Reason is the internal classification the gateway computes from an
// upstream failure before mapping it onto the public Type taxonomy. It
// exists because the pool's retry/backoff decisions (spec §4.3) care about
// finer distinctions than the five client-facing error types do.
type Reason string

const (
	ReasonRateLimitExceeded     Reason = "rate_limit_exceeded"
	ReasonQuotaExhausted        Reason = "quota_exhausted"
	ReasonModelCapacityExhausted Reason = "model_capacity_exhausted"
	ReasonServerError           Reason = "server_error"
	ReasonUnknown               Reason = "unknown"
)

var (
	quotaDelayRegex     = regexp.MustCompile(`(?i)"quotaResetDelay"\s*:\s*"?(\d+)`)
	quotaTimestampRegex = regexp.MustCompile(`(?i)"quotaResetTimeStamp"\s*:\s*"([^"]+)"`)
	retrySecondsRegex   = regexp.MustCompile(`(?i)retry[- ]after[- ]?(\d+)\s*seconds?`)
	retryDelayMsRegex   = regexp.MustCompile(`(?i)"retry-after-ms"\s*:\s*"?(\d+)`)
	retryDelaySecRegex  = regexp.MustCompile(`(?i)"retryDelay"\s*:\s*"?(\d+)`)
	durationRegex       = regexp.MustCompile(`(?i)(\d+)h(\d+)m(\d+)s|(\d+)m(\d+)s|(\d+)s`)
	isoTimestampRegex   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z?`)
)

// ParseResetTime returns a millisecond cooldown duration derived from
// response headers first, then from the error body text (spec §7/§8: a
// cooldown string like "quota will reset after 1h2m3s" parses to 3723000ms).
// ParseResetTime itself returns 0 when nothing could be parsed; the Request
// Pipeline then applies the pool's default cooldown when it records the
// failure.
func ParseResetTime(headers http.Header, errorText string) int64 {
	if headers != nil {
		if v := headers.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return sanitizeResetMs(int64(secs) * 1000)
			}
			if t, err := http.ParseTime(v); err == nil {
				return sanitizeResetMs(time.Until(t).Milliseconds())
			}
		}
		if v := headers.Get("x-ratelimit-reset"); v != "" {
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				return sanitizeResetMs(time.Until(time.Unix(ts, 0)).Milliseconds())
			}
		}
		if v := headers.Get("x-ratelimit-reset-after"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return sanitizeResetMs(int64(secs * 1000))
			}
		}
	}

	if ms := parseResetTimeFromBody(errorText); ms >= 0 {
		return sanitizeResetMs(ms)
	}
	return 0
}

func parseResetTimeFromBody(msg string) int64 {
	if msg == "" {
		return -1
	}

	if m := quotaDelayRegex.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return secs * 1000
		}
	}
	if m := quotaTimestampRegex.FindStringSubmatch(msg); m != nil {
		if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
			return time.Until(t).Milliseconds()
		}
	}
	if m := retryDelayMsRegex.FindStringSubmatch(msg); m != nil {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return ms
		}
	}
	if m := retryDelaySecRegex.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return secs * 1000
		}
	}
	if m := retrySecondsRegex.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return secs * 1000
		}
	}
	if m := durationRegex.FindStringSubmatch(msg); m != nil {
		return durationMatchToMs(m)
	}
	if m := isoTimestampRegex.FindString(msg); m != "" {
		layouts := []string{time.RFC3339, "2006-01-02T15:04:05"}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, m); err == nil {
				return time.Until(t).Milliseconds()
			}
		}
	}
	return -1
}

func durationMatchToMs(m []string) int64 {
	atoi := func(s string) int64 {
		if s == "" {
			return 0
		}
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	switch {
	case m[1] != "":
		h, mins, s := atoi(m[1]), atoi(m[2]), atoi(m[3])
		return (h*3600 + mins*60 + s) * 1000
	case m[4] != "":
		mins, s := atoi(m[4]), atoi(m[5])
		return (mins*60 + s) * 1000
	case m[6] != "":
		return atoi(m[6]) * 1000
	}
	return 0
}

// sanitizeResetMs clamps degenerate values the way the upstream sometimes
// returns them: non-positive or implausibly small cooldowns are bumped to a
// safe minimum so the pool doesn't busy-loop retrying an account.
func sanitizeResetMs(ms int64) int64 {
	if ms <= 0 {
		return 500
	}
	if ms < 500 {
		return ms + 200
	}
	return ms
}

// ParseReason classifies an upstream failure by status code first, falling
// back to keyword matching in the error body.
func ParseReason(errorText string, status int) Reason {
	switch status {
	case 529, 503:
		return ReasonModelCapacityExhausted
	case 500:
		return ReasonServerError
	}

	lower := strings.ToLower(errorText)
	switch {
	case strings.Contains(lower, "quota") && (strings.Contains(lower, "exceed") || strings.Contains(lower, "exhaust")):
		return ReasonQuotaExhausted
	case strings.Contains(lower, "capacity") || strings.Contains(lower, "overloaded"):
		return ReasonModelCapacityExhausted
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") || status == 429:
		return ReasonRateLimitExceeded
	case strings.Contains(lower, "internal error") || strings.Contains(lower, "server error"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// Classify turns a raw upstream failure into the typed, client-facing
// APIError, picking the taxonomy member and cooldown the account pool and
// HTTP layer both need (spec §4.3, §7).
func Classify(status int, headers http.Header, errorText string, cause error) *APIError {
	switch status {
	case http.StatusUnauthorized:
		return NewAuthError(fallbackMessage(errorText, "authentication failed"), cause)
	case http.StatusForbidden:
		return NewPermissionError(fallbackMessage(errorText, "permission denied"), cause)
	case http.StatusBadRequest:
		return NewInvalidRequestError(fallbackMessage(errorText, "invalid request"))
	}

	reason := ParseReason(errorText, status)
	switch reason {
	case ReasonRateLimitExceeded, ReasonQuotaExhausted, ReasonModelCapacityExhausted:
		retryMs := ParseResetTime(headers, errorText)
		return NewOverloadedError(fallbackMessage(errorText, "upstream is temporarily overloaded"), retryMs, cause)
	case ReasonServerError:
		return NewAPIError(fallbackMessage(errorText, "upstream server error"), 500, cause)
	default:
		if status >= 500 || status == 0 {
			return NewAPIError(fallbackMessage(errorText, "upstream error"), 503, cause)
		}
		return NewAPIError(fallbackMessage(errorText, "upstream error"), status, cause)
	}
}

func fallbackMessage(errorText, fallback string) string {
	if strings.TrimSpace(errorText) == "" {
		return fallback
	}
	return errorText
}
