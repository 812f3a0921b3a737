package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// retryableStatus lists the response codes worth retrying.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ErrBodyTooLarge is returned when a response exceeds the configured limit.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// FetchError is a failed GET. StatusCode is zero for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error

	transient  bool
	retryAfter time.Duration
}

func (e *FetchError) Error() string {
	msg := "fetch " + e.URL
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryAfter is the server-requested backoff, if any.
func (e *FetchError) RetryAfter() time.Duration { return e.retryAfter }

// IsTransient reports whether err is a failure a later attempt might not
// repeat: a retryable status or a transport error other than cancellation.
func IsTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.transient
}

func statusError(url string, resp *http.Response) *FetchError {
	fe := &FetchError{
		URL:        url,
		StatusCode: resp.StatusCode,
		transient:  retryableStatus[resp.StatusCode],
	}
	if fe.transient {
		fe.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return fe
}

func transportError(url string, err error) *FetchError {
	return &FetchError{
		URL:       url,
		Err:       err,
		transient: !errors.Is(err, context.Canceled),
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
