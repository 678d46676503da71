package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	timeout := &url.Error{Op: "Post", URL: "https://api.example.test", Err: context.DeadlineExceeded}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"request timeout", &TransientNetworkError{Err: timeout}, CodeTransient},
		{"breaker wrapped timeout", &ServiceUnavailableError{Name: "marketplace", Err: &TransientNetworkError{Err: timeout}}, CodeTransient},
		{"caller cancelled", fmt.Errorf("page 2: %w", context.Canceled), CodeCancelled},
		{"caller deadline", context.DeadlineExceeded, CodeCancelled},
		{"circuit open", &CircuitOpenError{Name: "marketplace"}, CodeCircuitOpen},
		{"vendor throttle", &RateLimitExceededError{}, CodeRateLimited},
		{"auth", &AuthError{StatusCode: 401}, CodeAuth},
		{"config", &ConfigError{Field: "sync.scopes"}, CodeConfig},
		{"unknown", errors.New("boom"), CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
