package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"paperflow/internal/util"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":              ErrorQuota,
		"429 rate":                        ErrorRate,
		"rate limit reached for requests": ErrorRate,
		"rate_limit_exceeded":             ErrorRate,
		"too many requests":               ErrorRate,
		"input too long for model":        ErrorContext,
		"timeout":                         ErrorTransient,
		"service temporarily unavailable": ErrorTransient,
		"bad request":                     ErrorPermanent,
		"failed to generate embedding":    ErrorPermanent,
		"separate inputs are required":    ErrorPermanent,
		"accurate model name required":    ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{statusError("jina", "embeddings", 429, []byte("slow down")), ErrorRate},
		{statusError("jina", "embeddings", 402, []byte("no balance")), ErrorQuota},
		{statusError("jina", "embeddings", 503, nil), ErrorTransient},
		{statusError("jina", "embeddings", 400, []byte("bad input")), ErrorPermanent},
		{requestError("jina", "embeddings", context.DeadlineExceeded), ErrorTransient},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrorTransient},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Fatalf("classify %v: got %s want %s", c.err, got, c.want)
		}
	}
	if !errors.Is(requestError("jina", "embeddings", context.DeadlineExceeded), util.ErrTimeout) {
		t.Fatalf("deadline should surface as timeout-class transport error")
	}
	if Retryable(statusError("openai", "embeddings", 401, nil)) {
		t.Fatalf("401 must not be retryable")
	}
	if !Retryable(statusError("openai", "embeddings", 502, nil)) {
		t.Fatalf("502 should be retryable")
	}
}
