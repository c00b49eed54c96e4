package yeti

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrorKind classifies a TransportError.
type ErrorKind string

const (
	// KindTimeout covers request timeouts and deadline expirations.
	KindTimeout ErrorKind = "timeout"
	// KindConnectionRefused means the device actively refused the connection.
	KindConnectionRefused ErrorKind = "connectionRefused"
	// KindHTTPStatus means the device answered with a non-200 status.
	KindHTTPStatus ErrorKind = "httpStatus"
	// KindBadPayload means the device answered 200 but the body failed the
	// schema (unknown fields, missing required fields, out-of-range values).
	KindBadPayload ErrorKind = "badPayload"
)

// TransportError is a classified failure talking to the device. Callers
// branch on Kind with errors.As; the underlying cause stays wrapped.
type TransportError struct {
	Kind ErrorKind
	// StatusCode is set when Kind is KindHTTPStatus.
	StatusCode int
	err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("device returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("device %s: %s", e.Kind, e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// classifyErr maps a transport failure onto the kinds callers branch on.
// Failures outside the taxonomy (DNS, resets, cancellation) pass through
// unchanged.
func classifyErr(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &TransportError{Kind: KindConnectionRefused, err: err}
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		return &TransportError{Kind: KindTimeout, err: err}
	}
	return err
}

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}
