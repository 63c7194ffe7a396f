package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"AlertSentinel/internal/model"
)

// Provider fetches current USD prices for a batch of assets in one call.
// Assets the upstream does not know are simply absent from the result.
type Provider interface {
	Name() string
	GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error)
}

var (
	// ErrRateLimited is returned when the local limiter refused a permit or
	// the upstream reported quota exhaustion.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformed is returned for bodies that cannot be decoded.
	ErrMalformed = errors.New("malformed response")
)

// StatusError is a non-200 response from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: status %d, body: %s", e.Provider, e.Code, e.Body)
}

// Transient reports whether retrying later may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsTransient reports whether err is worth retrying on a later pass.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}
