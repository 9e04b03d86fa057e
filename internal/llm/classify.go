package llm

import (
	"context"
	"errors"
	"net"

	"github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse marks a terminal provider failure: the response could
// not be parsed even after one repair attempt. The chunk is skipped, never
// retried.
var ErrMalformedResponse = errors.New("malformed extraction response")

// IsTransient classifies a provider failure as retryable. Network errors,
// timeouts, 429s and 5xx responses are transient; everything else
// (malformed output, bad request, auth) is terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Transport-level failures surface as RequestError without a response.
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	return false
}
