package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paperflow/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, util.ErrTimeout) {
		return ErrorTransient
	}
	var te *util.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		switch {
		case te.StatusCode == http.StatusPaymentRequired:
			return ErrorQuota
		case te.StatusCode == http.StatusTooManyRequests:
			return ErrorRate
		case te.StatusCode >= 500:
			return ErrorTransient
		}
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "rate-limit"),
		strings.Contains(e, "too many requests"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, "connection reset"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether another attempt against the same provider can succeed.
func Retryable(err error) bool {
	switch ClassifyError(err) {
	case ErrorRate, ErrorTransient:
		return true
	default:
		return false
	}
}

func statusError(provider, op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &util.TransportError{Op: provider + " " + op, StatusCode: status, Err: errors.New(msg)}
}

func requestError(provider, op string, err error) error {
	var ne interface{ Timeout() bool }
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
	return &util.TransportError{Op: provider + " " + op, Timeout: timeout, Err: err}
}

func countError(provider string, want, got int) error {
	return fmt.Errorf("%s returned %d embeddings for %d inputs", provider, got, want)
}
