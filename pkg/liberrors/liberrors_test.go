package liberrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

type testState string

func (s testState) String() string {
	return string(s)
}

func TestErrorStrings(t *testing.T) {
	for _, ca := range []struct {
		err error
		str string
	}{
		{ErrServerInvalidState{Method: base.Play, State: testState("announcing")},
			"method PLAY is not allowed in state announcing"},
		{ErrServerPathNotFound{Path: "/cam1"}, "no stream is available on path '/cam1'"},
		{ErrServerInterleavedIDsInvalid{IDs: [2]int{1, 2}},
			"invalid interleaved IDs 1-2, RTP must be even and RTCP must be RTP+1"},
		{ErrServerReadTimeout{}, "read timeout"},
		{ErrServerSessionReplaced{}, "session replaced"},
		{ErrClientAuthorized{}, "authentication failed"},
		{ErrClientStreamNotFound{Code: 404, Message: "Not Found"}, "stream not found: 404 (Not Found)"},
		{ErrClientConnect{Code: 500, Message: "Internal Server Error"},
			"unable to connect: 500 (Internal Server Error)"},
	} {
		require.EqualError(t, ca.err, ca.str)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("inner")
	err := fmt.Errorf("wrapped: %w", ErrServerListenerFailed{Err: inner})

	var lf ErrServerListenerFailed
	require.True(t, errors.As(err, &lf))
	require.True(t, errors.Is(err, inner))
}
