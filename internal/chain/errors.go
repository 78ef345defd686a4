package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// ValidationError reports an address that does not fit the chain's format.
// It is never retried.
type ValidationError struct {
	Chain   Chain
	Address string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s address %q: %s", e.Chain, e.Address, e.Reason)
}

// RPCError is a failed call to a chain endpoint. Transient errors (timeouts,
// connection resets, rate limiting) may be retried by the caller; all other
// failures are fatal.
type RPCError struct {
	Chain     Chain
	Op        string
	Transient bool
	Err       error
}

func (e *RPCError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s: %s rpc error: %v", e.Chain, e.Op, kind, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// TransientError builds a retryable RPCError.
func TransientError(c Chain, op string, err error) *RPCError {
	return &RPCError{Chain: c, Op: op, Transient: true, Err: err}
}

// FatalError builds a non-retryable RPCError.
func FatalError(c Chain, op string, err error) *RPCError {
	return &RPCError{Chain: c, Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err carries a transient RPCError.
func IsTransient(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Transient
	}
	return false
}

// JSON-RPC error codes that providers use for throttling and overload.
var transientRPCCodes = map[int]bool{
	-32005: true, // limit exceeded
	-32603: true, // internal error, usually an overloaded node
	-32429: true,
	429:    true,
}

// Classify wraps a transport-level error into an RPCError, deciding whether
// a retry can help. Errors that are already classified are returned as is.
func Classify(c Chain, op string, err error) error {
	if err == nil {
		return nil
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return err
	}

	if isTransient(err) {
		return TransientError(c, op, err)
	}
	return FatalError(c, op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return IsTransientStatus(httpErr.StatusCode)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsTransientStatus(statusErr.StatusCode)
	}

	var codeErr rpc.Error
	if errors.As(err, &codeErr) {
		return transientRPCCodes[codeErr.ErrorCode()]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}

// StatusError is a non-2xx answer from a REST endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}
