package backend

import "testing"

func TestErrorFromHTTPStatusRetryableClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{599, true},
	}
	for _, c := range cases {
		err := ErrorFromHTTPStatus("openai", c.status, "boom", nil, nil)
		var be Error
		if e, ok := err.(Error); ok {
			be = e
		} else {
			t.Fatalf("status %d: error does not implement Error", c.status)
		}
		if be.Retryable() != c.retryable {
			t.Errorf("status %d: Retryable()=%v, want %v", c.status, be.Retryable(), c.retryable)
		}
	}
}

func TestErrorFromHTTPStatusDetectsModelUnavailable(t *testing.T) {
	err := ErrorFromHTTPStatus("openai", 404, "model not found", nil, nil)
	if !IsModelUnavailable(err) {
		t.Fatal("expected 404 to classify as model unavailable")
	}

	err = ErrorFromHTTPStatus("openai", 400, "invalid request: the model `gpt-9` does not exist", nil, nil)
	if !IsModelUnavailable(err) {
		t.Fatal("expected 400 with model-not-found message to classify as model unavailable")
	}

	err = ErrorFromHTTPStatus("openai", 500, "internal error", nil, nil)
	if IsModelUnavailable(err) {
		t.Fatal("expected 500 to not classify as model unavailable")
	}
}
