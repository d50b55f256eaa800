package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/tutord/internal/courseproxy"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrUnavailable covers network, authentication and timeout failures.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRateLimited indicates the provider rejected the call for rate or
	// quota reasons.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformedResponse indicates an empty or unparsable completion.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrInvalidConfig indicates the gateway cannot be built from config.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrStreamConsumed is yielded when a stream is iterated a second time.
	ErrStreamConsumed = errors.New("stream already consumed")
)

// Classify maps err onto ErrUnavailable, ErrRateLimited or
// ErrMalformedResponse. It returns nil for a nil error. Errors it does not
// recognize are treated as unavailability.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrRateLimited, ErrMalformedResponse, ErrUnavailable} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	var statusErr *courseproxy.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests {
			return ErrRateLimited
		}
		return ErrUnavailable
	}
	if errors.Is(err, courseproxy.ErrMalformedResponse) {
		return ErrMalformedResponse
	}

	var llmErr *llms.Error
	if !errors.As(err, &llmErr) {
		// Pattern-match SDK error strings into standard codes.
		if !errors.As(llms.NewErrorMapper("provider").Map(err), &llmErr) {
			return ErrUnavailable
		}
	}
	switch llmErr.Code {
	case llms.ErrCodeRateLimit, llms.ErrCodeQuotaExceeded:
		return ErrRateLimited
	default:
		return ErrUnavailable
	}
}

// classified wraps err with its class, keeping the cause in the chain.
func classified(err error) error {
	if err == nil {
		return nil
	}
	class := Classify(err)
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}
