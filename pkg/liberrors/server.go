// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

// ErrServerTerminated is an error that can be returned by a server.
type ErrServerTerminated struct{}

// Error implements the error interface.
func (e ErrServerTerminated) Error() string {
	return "terminated"
}

// ErrServerCSeqMissing is an error that can be returned by a server.
type ErrServerCSeqMissing struct{}

// Error implements the error interface.
func (e ErrServerCSeqMissing) Error() string {
	return "CSeq is missing"
}

// ErrServerInvalidMessage is an error that can be returned by a server.
type ErrServerInvalidMessage struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerInvalidMessage) Error() string {
	return fmt.Sprintf("invalid message: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrServerInvalidMessage) Unwrap() error {
	return e.Err
}

// ErrServerInvalidState is an error that can be returned by a server.
type ErrServerInvalidState struct {
	Method base.Method
	State  fmt.Stringer
}

// Error implements the error interface.
func (e ErrServerInvalidState) Error() string {
	return fmt.Sprintf("method %s is not allowed in state %v", e.Method, e.State)
}

// ErrServerPathNotFound is an error that can be returned by a server.
type ErrServerPathNotFound struct {
	Path string
}

// Error implements the error interface.
func (e ErrServerPathNotFound) Error() string {
	return fmt.Sprintf("no stream is available on path '%s'", e.Path)
}

// ErrServerSessionNotFound is an error that can be returned by a server.
type ErrServerSessionNotFound struct{}

// Error implements the error interface.
func (e ErrServerSessionNotFound) Error() string {
	return "session not found"
}

// ErrServerContentTypeMissing is an error that can be returned by a server.
type ErrServerContentTypeMissing struct{}

// Error implements the error interface.
func (e ErrServerContentTypeMissing) Error() string {
	return "Content-Type header is missing"
}

// ErrServerContentTypeUnsupported is an error that can be returned by a server.
type ErrServerContentTypeUnsupported struct {
	CT base.HeaderValue
}

// Error implements the error interface.
func (e ErrServerContentTypeUnsupported) Error() string {
	return fmt.Sprintf("unsupported Content-Type header '%v'", e.CT)
}

// ErrServerSDPInvalid is an error that can be returned by a server.
type ErrServerSDPInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerSDPInvalid) Error() string {
	return fmt.Sprintf("invalid SDP: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrServerSDPInvalid) Unwrap() error {
	return e.Err
}

// ErrServerSDPAlreadySet is an error that can be returned by a server.
type ErrServerSDPAlreadySet struct{}

// Error implements the error interface.
func (e ErrServerSDPAlreadySet) Error() string {
	return "session description can't be changed after SETUP"
}

// ErrServerTransportHeaderInvalid is an error that can be returned by a server.
type ErrServerTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrServerTransportHeaderInvalid) Unwrap() error {
	return e.Err
}

// ErrServerTransportUnsupported is an error that can be returned by a server.
type ErrServerTransportUnsupported struct {
	Reason string
}

// Error implements the error interface.
func (e ErrServerTransportUnsupported) Error() string {
	return fmt.Sprintf("unsupported transport: %s", e.Reason)
}

// ErrServerInterleavedIDsInvalid is an error that can be returned by a server.
type ErrServerInterleavedIDsInvalid struct {
	IDs [2]int
}

// Error implements the error interface.
func (e ErrServerInterleavedIDsInvalid) Error() string {
	return fmt.Sprintf("invalid interleaved IDs %d-%d, RTP must be even and RTCP must be RTP+1",
		e.IDs[0], e.IDs[1])
}

// ErrServerChannelInUse is an error that can be returned by a server.
type ErrServerChannelInUse struct {
	Channel int
}

// Error implements the error interface.
func (e ErrServerChannelInUse) Error() string {
	return fmt.Sprintf("interleaved channel %d is already in use", e.Channel)
}

// ErrServerStreamNotFound is an error that can be returned by a server.
type ErrServerStreamNotFound struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerStreamNotFound) Error() string {
	return fmt.Sprintf("stream not found: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrServerStreamNotFound) Unwrap() error {
	return e.Err
}

// ErrServerNoStreamsSetup is an error that can be returned by a server.
type ErrServerNoStreamsSetup struct{}

// Error implements the error interface.
func (e ErrServerNoStreamsSetup) Error() string {
	return "no streams have been setup"
}

// ErrServerReadTimeout is an error that can be returned by a server.
type ErrServerReadTimeout struct{}

// Error implements the error interface.
func (e ErrServerReadTimeout) Error() string {
	return "read timeout"
}

// ErrServerSessionReplaced is an error that can be returned by a server.
type ErrServerSessionReplaced struct{}

// Error implements the error interface.
func (e ErrServerSessionReplaced) Error() string {
	return "session replaced"
}

// ErrServerSessionTornDown is an error that can be returned by a server.
type ErrServerSessionTornDown struct{}

// Error implements the error interface.
func (e ErrServerSessionTornDown) Error() string {
	return "torn down by client"
}

// ErrServerListenerFailed is an error that can be returned by a server.
type ErrServerListenerFailed struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerListenerFailed) Error() string {
	return fmt.Sprintf("listener failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrServerListenerFailed) Unwrap() error {
	return e.Err
}
