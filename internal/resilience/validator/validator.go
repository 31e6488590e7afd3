// Package validator implements the response validator: a post-fetch check
// that catches soft blocks a bare 2xx status code would miss, such as a
// CAPTCHA challenge page or a search results page reporting itself empty
// when the site actually has listings.
package validator

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/harvestnet/harvestor/internal/core/ports"
)

// captchaSignatures are substrings observed in known CAPTCHA/anti-bot
// interstitial pages. Matching is case-sensitive on purpose: these are
// vendor markup fragments, not prose.
var captchaSignatures = [][]byte{
	[]byte("g-recaptcha"),
	[]byte("cf-challenge"),
	[]byte("hcaptcha"),
	[]byte("Checking your browser before accessing"),
	[]byte("unusual traffic from your computer network"),
	[]byte("Please verify you are a human"),
	[]byte("PerimeterX"),
	[]byte("px-captcha"),
}

// EmptyResultDetector reports whether body, despite a 2xx status, is a
// results page that declares itself non-empty while actually carrying no
// listings. Strategies that know their own site's markup supply this; a
// nil detector disables the check.
type EmptyResultDetector func(body []byte) (claimsNonEmpty bool, actuallyEmpty bool)

// HasCaptchaSignature reports whether body matches any known CAPTCHA or
// anti-bot interstitial fragment. The error classifier shares this check so
// a blocked body classifies the same whether it arrives through the
// response validator or a raw fetch error.
func HasCaptchaSignature(body []byte) bool {
	for _, sig := range captchaSignatures {
		if bytes.Contains(body, sig) {
			return true
		}
	}
	return false
}

// Validator is the default ResponseValidator.
type Validator struct {
	emptyResult EmptyResultDetector
}

// New builds a Validator. emptyResult may be nil to skip the
// declared-non-empty-but-actually-empty check.
func New(emptyResult EmptyResultDetector) *Validator {
	return &Validator{emptyResult: emptyResult}
}

// Validate inspects resp/body for soft-block signatures and returns a
// verdict the dispatcher uses to decide whether to treat an HTTP success as
// an actual failure.
func (v *Validator) Validate(resp *http.Response, body []byte) ports.ValidationVerdict {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		verdict := ports.ValidationVerdict{Valid: false, Reason: "non-2xx status"}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseInt(ra, 10, 64); err == nil {
				verdict.RetryAfter = secs
			}
		}
		return verdict
	}

	if HasCaptchaSignature(body) {
		return ports.ValidationVerdict{Valid: false, SoftBlock: true, Reason: "captcha signature detected"}
	}

	if v.emptyResult != nil {
		claimsNonEmpty, actuallyEmpty := v.emptyResult(body)
		if claimsNonEmpty && actuallyEmpty {
			return ports.ValidationVerdict{Valid: false, SoftBlock: true, Reason: "page claims results but none were found"}
		}
	}

	return ports.ValidationVerdict{Valid: true}
}
