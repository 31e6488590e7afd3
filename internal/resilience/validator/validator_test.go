package validator

import (
	"net/http"
	"testing"
)

func resp(status int, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestValidate_NonSuccessStatus(t *testing.T) {
	v := New(nil)
	got := v.Validate(resp(503, map[string]string{"Retry-After": "30"}), []byte("<html></html>"))
	if got.Valid {
		t.Fatalf("expected invalid for 503")
	}
	if got.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %d, want 30", got.RetryAfter)
	}
}

func TestValidate_CaptchaSignature(t *testing.T) {
	v := New(nil)
	body := []byte(`<div class="g-recaptcha" data-sitekey="x"></div>`)
	got := v.Validate(resp(200, nil), body)
	if got.Valid || !got.SoftBlock {
		t.Fatalf("expected soft-blocked verdict, got %+v", got)
	}
}

func TestValidate_DeclaredNonEmptyButActuallyEmpty(t *testing.T) {
	v := New(func(body []byte) (bool, bool) {
		return true, true
	})
	got := v.Validate(resp(200, nil), []byte(`{"total_results": 42, "listings": []}`))
	if got.Valid || !got.SoftBlock {
		t.Fatalf("expected soft-blocked verdict, got %+v", got)
	}
}

func TestValidate_OK(t *testing.T) {
	v := New(func(body []byte) (bool, bool) { return true, false })
	got := v.Validate(resp(200, nil), []byte(`{"listings": [{"id": 1}]}`))
	if !got.Valid {
		t.Fatalf("expected valid verdict, got %+v", got)
	}
}
