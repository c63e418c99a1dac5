package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for callback rejection. A callback that maps to any of
// these produces no Transaction and no state change.
var (
	// ErrInvalidSignature indicates the recomputed signature did not match
	// the supplied one.
	ErrInvalidSignature = errors.New("gateway: invalid signature")
	// ErrUnsupportedEvent indicates an event type outside the accepted set.
	ErrUnsupportedEvent = errors.New("gateway: unsupported event")
	// ErrFakeSuccess indicates a return-redirect claimed success but the
	// remote gateway did not confirm a completed payment.
	ErrFakeSuccess = errors.New("gateway: fake success payment")
	// ErrMissingClientID indicates the paying-client identifier could not be
	// extracted from the callback metadata.
	ErrMissingClientID = errors.New("gateway: missing client id")
	// ErrUnsupportedOperation indicates the gateway does not implement the
	// requested operation.
	ErrUnsupportedOperation = errors.New("gateway: operation not supported")
	// ErrMissingTransaction indicates the remote gateway returned no
	// transaction for a callback that referenced one.
	ErrMissingTransaction = errors.New("gateway: transaction missing")
)

// RemoteError wraps a transport failure or gateway-reported error from the
// remote payment API. It is recoverable from the caller's perspective; no
// partial transaction is ever recorded behind it.
type RemoteError struct {
	Gateway   string
	Operation string
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Gateway, e.Operation, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError wraps err as a RemoteError for the given gateway operation.
func NewRemoteError(gateway, operation string, err error) *RemoteError {
	return &RemoteError{Gateway: gateway, Operation: operation, Err: err}
}

// IsRemoteError reports whether err is a RemoteError.
func IsRemoteError(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}
