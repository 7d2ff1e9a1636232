package conn

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

const (
	// DefaultMaxInitialLineSize is the default maximum size of the initial line of a message.
	DefaultMaxInitialLineSize = 4096

	// DefaultMaxHeaderSize is the default maximum cumulative size of the headers of a message.
	DefaultMaxHeaderSize = 8192

	// DefaultMaxBodySize is the default maximum size of the body of a message.
	DefaultMaxBodySize = 65536
)

type decoderState int

const (
	stateAwaitLeadByte decoderState = iota
	stateReadChannel
	stateReadFrameLength
	stateReadFrameBody
	stateReadInitialLine
	stateReadHeaders
	stateReadBody
	stateDiscardBody
	stateSkip
)

// InvalidMessage is returned by the decoder in place of a malformed
// RTSP message. It does not interrupt decoding.
type InvalidMessage struct {
	Err error
}

// Decoder demultiplexes a byte stream into RTSP requests, RTSP responses
// and interleaved frames.
// It is resumable: input can be fed in chunks of any size, and bytes that
// have already been classified are never examined again.
type Decoder struct {
	// maximum size of the initial line, CRLF excluded.
	// It defaults to DefaultMaxInitialLineSize.
	MaxInitialLineSize int

	// maximum cumulative size of header lines, CRLFs included.
	// It defaults to DefaultMaxHeaderSize.
	MaxHeaderSize int

	// maximum size of a body.
	// It defaults to DefaultMaxBodySize.
	MaxBodySize int

	buf   []byte
	pos   int
	state decoderState

	// line scanning
	scanPos int

	// interleaved frame
	channel  int
	frameLen int

	// text message
	isResponse  bool
	req         *base.Request
	res         *base.Response
	header      base.Header
	headerSize  int
	msgErr      error
	bodyLen     int
	discardLeft int

	// recovery
	skipSawControl bool
}

func (d *Decoder) maxInitialLineSize() int {
	if d.MaxInitialLineSize <= 0 {
		return DefaultMaxInitialLineSize
	}
	return d.MaxInitialLineSize
}

func (d *Decoder) maxHeaderSize() int {
	if d.MaxHeaderSize <= 0 {
		return DefaultMaxHeaderSize
	}
	return d.MaxHeaderSize
}

func (d *Decoder) maxBodySize() int {
	if d.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return d.MaxBodySize
}

// Buffered returns the number of bytes that have been fed and not consumed yet.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Feed appends input to the decoder.
func (d *Decoder) Feed(p []byte) {
	// compact consumed bytes before growing
	if d.pos > 0 && d.pos >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.scanPos -= d.pos
		d.pos = 0
	}

	d.buf = append(d.buf, p...)
}

func (d *Decoder) available() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) consume(n int) []byte {
	ret := d.buf[d.pos : d.pos+n]
	d.pos += n
	d.scanPos = d.pos
	return ret
}

// readLine looks for a line terminated by LF within the first limit bytes of the
// pending input. It returns the line without its terminator.
// When no terminator is found and limit bytes are available, overflow is true.
func (d *Decoder) readLine(limit int) (line []byte, ok bool, overflow bool) {
	end := d.pos + limit
	if end > len(d.buf) {
		end = len(d.buf)
	}

	if d.scanPos < d.pos {
		d.scanPos = d.pos
	}

	if d.scanPos < end {
		i := bytes.IndexByte(d.buf[d.scanPos:end], '\n')
		if i >= 0 {
			lineEnd := d.scanPos + i
			line = d.buf[d.pos:lineEnd]
			line = bytes.TrimSuffix(line, []byte{'\r'})
			d.pos = lineEnd + 1
			d.scanPos = d.pos
			return line, true, false
		}
		d.scanPos = end
	}

	if end-d.pos >= limit {
		return nil, false, true
	}

	return nil, false, false
}

func (d *Decoder) resetMessage() {
	d.req = nil
	d.res = nil
	d.header = nil
	d.headerSize = 0
	d.msgErr = nil
	d.bodyLen = 0
}

func (d *Decoder) fail(err error) *InvalidMessage {
	d.resetMessage()
	d.skipSawControl = false
	d.state = stateSkip
	return &InvalidMessage{Err: err}
}

func isControl(b byte) bool {
	return b == '\r' || b == '\n'
}

// Next returns the next decoded element, that can be a *base.Request,
// a *base.Response, a *base.InterleavedFrame or a *InvalidMessage.
// ok is false when more input is needed.
func (d *Decoder) Next() (interface{}, bool) {
	for {
		switch d.state {
		case stateAwaitLeadByte:
			if d.available() < 1 {
				return nil, false
			}

			b := d.buf[d.pos]

			switch {
			case b == base.InterleavedFrameMagicByte:
				d.consume(1)
				d.state = stateReadChannel

			// stray line terminators between messages are tolerated
			case isControl(b):
				d.consume(1)

			default:
				d.resetMessage()
				d.state = stateReadInitialLine
			}

		case stateReadChannel:
			if d.available() < 1 {
				return nil, false
			}
			d.channel = int(d.consume(1)[0])
			d.state = stateReadFrameLength

		case stateReadFrameLength:
			if d.available() < 2 {
				return nil, false
			}
			byts := d.consume(2)
			d.frameLen = int(uint16(byts[0])<<8 | uint16(byts[1]))
			d.state = stateReadFrameBody

		case stateReadFrameBody:
			if d.available() < d.frameLen {
				return nil, false
			}

			// the payload is copied since the decoder buffer is reused
			payload := make([]byte, d.frameLen)
			copy(payload, d.consume(d.frameLen))

			d.state = stateAwaitLeadByte
			return &base.InterleavedFrame{
				Channel: d.channel,
				Payload: payload,
			}, true

		case stateReadInitialLine:
			// allow room for CRLF
			line, ok, overflow := d.readLine(d.maxInitialLineSize() + 2)
			if overflow {
				d.pos += d.maxInitialLineSize() + 2
				d.scanPos = d.pos
				return d.fail(fmt.Errorf("initial line exceeds %d bytes", d.maxInitialLineSize())), true
			}
			if !ok {
				return nil, false
			}

			d.header = make(base.Header)

			switch {
			case len(line) > d.maxInitialLineSize():
				d.msgErr = fmt.Errorf("initial line exceeds %d bytes", d.maxInitialLineSize())

			case bytes.HasPrefix(line, []byte("RTSP/")):
				d.isResponse = true
				d.res = &base.Response{}
				d.msgErr = d.res.UnmarshalStartLine(string(line))

			default:
				d.isResponse = false
				d.req = &base.Request{}
				d.msgErr = d.req.UnmarshalStartLine(string(line))
			}

			d.state = stateReadHeaders

		case stateReadHeaders:
			before := d.pos

			// the terminating blank line is not counted
			limit := d.maxHeaderSize() - d.headerSize + 2
			line, ok, overflow := d.readLine(limit)
			if overflow {
				d.pos += limit
				d.scanPos = d.pos
				return d.fail(fmt.Errorf("headers exceed %d bytes", d.maxHeaderSize())), true
			}
			if !ok {
				return nil, false
			}

			if len(line) != 0 {
				d.headerSize += d.pos - before
				if d.headerSize > d.maxHeaderSize() {
					return d.fail(fmt.Errorf("headers exceed %d bytes", d.maxHeaderSize())), true
				}

				if d.msgErr == nil {
					d.msgErr = d.header.UnmarshalLine(string(line))
				}
				continue
			}

			d.bodyLen = contentLength(d.header)

			if d.bodyLen > d.maxBodySize() {
				d.discardLeft = d.bodyLen
				d.resetMessage()
				d.state = stateDiscardBody
				return &InvalidMessage{
					Err: fmt.Errorf("body exceeds %d bytes", d.maxBodySize()),
				}, true
			}

			d.state = stateReadBody

		case stateReadBody:
			if d.available() < d.bodyLen {
				return nil, false
			}

			var body []byte
			if d.bodyLen != 0 {
				body = make([]byte, d.bodyLen)
				copy(body, d.consume(d.bodyLen))
			}

			d.state = stateAwaitLeadByte

			var ret interface{}

			switch {
			case d.msgErr != nil:
				ret = &InvalidMessage{Err: d.msgErr}

			case d.isResponse:
				d.res.Header = d.header
				d.res.Body = body
				ret = d.res

			default:
				d.req.Header = d.header
				d.req.Body = body
				ret = d.req
			}

			d.resetMessage()
			return ret, true

		case stateDiscardBody:
			n := d.available()
			if n > d.discardLeft {
				n = d.discardLeft
			}
			d.consume(n)
			d.discardLeft -= n

			if d.discardLeft != 0 {
				return nil, false
			}
			d.state = stateAwaitLeadByte

		case stateSkip:
			for d.available() > 0 {
				b := d.buf[d.pos]

				if isControl(b) {
					d.skipSawControl = true
					d.consume(1)
					continue
				}

				if d.skipSawControl {
					d.state = stateAwaitLeadByte
					break
				}

				d.consume(1)
			}

			if d.state == stateSkip {
				return nil, false
			}
		}
	}
}

func contentLength(h base.Header) int {
	cls, ok := h["Content-Length"]
	if !ok || len(cls) != 1 {
		return 0
	}

	cl, err := strconv.ParseUint(cls[0], 10, 31)
	if err != nil {
		return 0
	}

	return int(cl)
}
