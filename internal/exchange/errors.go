package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication bad credentials or rejected signature. Never retried.
	ErrAuthentication = errors.New("exchange: authentication failed")
	// ErrTransient timeout, rate limit or server fault. Retried on the next pass.
	ErrTransient = errors.New("exchange: transient failure")
	// ErrPartialData close detected but the exchange history is incomplete.
	ErrPartialData = errors.New("exchange: partial data")
)

// APIError ответ биржи с ошибкой. Kind один из sentinel-ов выше или nil.
type APIError struct {
	Exchange   string
	HTTPStatus int
	Code       string
	Message    string
	Kind       error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d code=%s msg=%s", e.Exchange, e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Exchange, e.HTTPStatus, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ClassifyStatus maps an HTTP status onto the taxonomy; nil for anything else.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return ErrTransient
	case status >= 500:
		return ErrTransient
	}
	return nil
}

// TransportError wraps a failed round trip. A cancelled parent context is
// returned as is.
func TransportError(exchange string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", exchange, ErrTransient, err)
}

func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }
func IsTransient(err error) bool      { return errors.Is(err, ErrTransient) }
