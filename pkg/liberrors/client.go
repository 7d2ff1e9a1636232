package liberrors

import (
	"fmt"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

// ErrClientTerminated is returned when the client has been closed.
type ErrClientTerminated struct{}

// Error implements the error interface.
func (e ErrClientTerminated) Error() string {
	return "terminated"
}

// ErrClientAuthorized is returned when the server refuses credentials.
type ErrClientAuthorized struct{}

// Error implements the error interface.
func (e ErrClientAuthorized) Error() string {
	return "authentication failed"
}

// ErrClientStreamNotFound is returned when the server replies with a 4xx status code.
type ErrClientStreamNotFound struct {
	Code    base.StatusCode
	Message string
}

// Error implements the error interface.
func (e ErrClientStreamNotFound) Error() string {
	return fmt.Sprintf("stream not found: %d (%s)", e.Code, e.Message)
}

// ErrClientConnect is returned when the server replies with an unexpected status code.
type ErrClientConnect struct {
	Code    base.StatusCode
	Message string
}

// Error implements the error interface.
func (e ErrClientConnect) Error() string {
	return fmt.Sprintf("unable to connect: %d (%s)", e.Code, e.Message)
}

// ErrClientCSeqMismatch is returned in case of a CSeq mismatch.
type ErrClientCSeqMismatch struct {
	Expected string
	Value    string
}

// Error implements the error interface.
func (e ErrClientCSeqMismatch) Error() string {
	return fmt.Sprintf("CSeq mismatch: expected %s, got %s", e.Expected, e.Value)
}

// ErrClientContentTypeMissing is returned in case the Content-Type header is missing.
type ErrClientContentTypeMissing struct{}

// Error implements the error interface.
func (e ErrClientContentTypeMissing) Error() string {
	return "Content-Type header is missing"
}

// ErrClientContentTypeUnsupported is returned in case the Content-Type header is unsupported.
type ErrClientContentTypeUnsupported struct {
	CT base.HeaderValue
}

// Error implements the error interface.
func (e ErrClientContentTypeUnsupported) Error() string {
	return fmt.Sprintf("unsupported Content-Type header '%v'", e.CT)
}

// ErrClientSDPInvalid is returned in case of an invalid SDP.
type ErrClientSDPInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientSDPInvalid) Error() string {
	return fmt.Sprintf("invalid SDP: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrClientSDPInvalid) Unwrap() error {
	return e.Err
}

// ErrClientSessionHeaderInvalid is returned in case of an invalid session header.
type ErrClientSessionHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientSessionHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid session header: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrClientSessionHeaderInvalid) Unwrap() error {
	return e.Err
}

// ErrClientTransportHeaderInvalid is returned in case the transport header is invalid.
type ErrClientTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrClientTransportHeaderInvalid) Unwrap() error {
	return e.Err
}

// ErrClientReadTimeout is returned when no data is received in a while.
type ErrClientReadTimeout struct{}

// Error implements the error interface.
func (e ErrClientReadTimeout) Error() string {
	return "read timeout"
}

// ErrClientAlreadyConnected is returned when Connect() is called twice.
type ErrClientAlreadyConnected struct{}

// Error implements the error interface.
func (e ErrClientAlreadyConnected) Error() string {
	return "already connected"
}
