package ports

import "net/http"

// ValidationVerdict is the response validator's judgement on a fetched page.
type ValidationVerdict struct {
	Valid      bool
	SoftBlock  bool
	Reason     string
	RetryAfter int64 // seconds, 0 when absent
}

// ResponseValidator inspects a fetched response body for soft-block
// signatures (CAPTCHA pages, empty result sets reported as non-empty) that
// a bare status-code check would miss.
type ResponseValidator interface {
	Validate(resp *http.Response, body []byte) ValidationVerdict
}
