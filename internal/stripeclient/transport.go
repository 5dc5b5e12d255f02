package stripeclient

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedTransport throttles outbound requests with a token bucket. Waiting honours
// the request context.
type RateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport allows perSecond requests per second with a burst of the same
// size. A non-positive rate disables throttling.
func NewRateLimitedTransport(next http.RoundTripper, perSecond float64) *RateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimitedTransport{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
