package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIHeaders reads the x-ratelimit-* family OpenAI-compatible APIs
// return, plus retry-after.
func ParseOpenAIHeaders(headers http.Header) RateLimit {
	var limit RateLimit

	if v := headers.Get("retry-after"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			limit.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	// Reset headers carry Go-style durations ("1s", "6m0s", "120ms").
	for _, h := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if v := headers.Get(h); v != "" {
			if d, err := time.ParseDuration(v); err == nil && limit.RetryAfter == 0 {
				limit.RetryAfter = d
			}
		}
	}
	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		limit.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("x-ratelimit-remaining-tokens"); v != "" {
		limit.TokensRemaining, _ = strconv.Atoi(v)
	}
	return limit
}

// ParseAnthropicHeaders reads the anthropic-ratelimit-* family, whose reset
// values are RFC3339 timestamps.
func ParseAnthropicHeaders(headers http.Header) RateLimit {
	var limit RateLimit

	if v := headers.Get("retry-after"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			limit.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	for _, h := range []string{
		"anthropic-ratelimit-requests-reset",
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
	} {
		if v := headers.Get(h); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				limit.ResetAt = t.Unix()
				break
			}
		}
	}
	if v := headers.Get("anthropic-ratelimit-requests-remaining"); v != "" {
		limit.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("anthropic-ratelimit-input-tokens-remaining"); v != "" {
		limit.TokensRemaining, _ = strconv.Atoi(v)
	}
	return limit
}
