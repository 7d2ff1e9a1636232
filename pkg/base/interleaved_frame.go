package base

import (
	"fmt"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = 0x24

	// InterleavedFrameMaxPayloadSize is the maximum payload size of an interleaved frame.
	InterleavedFrameMaxPayloadSize = 0xFFFF
)

// InterleavedFrame is an interleaved frame, and allows to transfer binary data
// within RTSP/TCP connections. It is used to send and receive RTP and RTCP packets with TCP.
type InterleavedFrame struct {
	// channel ID
	Channel int

	// payload
	Payload []byte
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if f.Channel < 0 || f.Channel > 255 {
		return 0, fmt.Errorf("invalid channel (%d)", f.Channel)
	}

	payloadLen := len(f.Payload)
	if payloadLen > InterleavedFrameMaxPayloadSize {
		return 0, fmt.Errorf("payload size exceeds %d (it's %d)", InterleavedFrameMaxPayloadSize, payloadLen)
	}

	pos := 0

	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)

	return pos, nil
}

// Marshal writes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	n, err := f.MarshalTo(buf)
	return buf[:n], err
}
