// Package conn contains a RTSP connection implementation.
package conn

import (
	"fmt"
	"io"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

const (
	readBufferSize = 4096
)

// Conn is a RTSP connection.
type Conn struct {
	r io.Reader
	w io.Writer

	dec     Decoder
	readBuf []byte
	readErr error
}

// NewConn allocates a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		r:       rw,
		w:       rw,
		readBuf: make([]byte, readBufferSize),
	}
}

// SetLimits sets the limits of the decoder.
// Zero values leave the defaults in place.
func (c *Conn) SetLimits(maxInitialLineSize int, maxHeaderSize int, maxBodySize int) {
	c.dec.MaxInitialLineSize = maxInitialLineSize
	c.dec.MaxHeaderSize = maxHeaderSize
	c.dec.MaxBodySize = maxBodySize
}

// Read reads a Request, a Response, an InterleavedFrame or an InvalidMessage.
func (c *Conn) Read() (interface{}, error) {
	for {
		if what, ok := c.dec.Next(); ok {
			return what, nil
		}

		if c.readErr != nil {
			return nil, c.readErr
		}

		n, err := c.r.Read(c.readBuf)
		if n > 0 {
			c.dec.Feed(c.readBuf[:n])
		}

		// data read together with an error is decoded before returning the error
		if err != nil {
			c.readErr = err
		}
	}
}

// ReadRequest reads a Request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	what, err := c.Read()
	if err != nil {
		return nil, err
	}

	switch what := what.(type) {
	case *base.Request:
		return what, nil

	case *InvalidMessage:
		return nil, what.Err
	}

	return nil, fmt.Errorf("unexpected %T", what)
}

// ReadResponse reads a Response.
func (c *Conn) ReadResponse() (*base.Response, error) {
	what, err := c.Read()
	if err != nil {
		return nil, err
	}

	switch what := what.(type) {
	case *base.Response:
		return what, nil

	case *InvalidMessage:
		return nil, what.Err
	}

	return nil, fmt.Errorf("unexpected %T", what)
}

// ReadResponseIgnoreFrames reads a Response and ignores interleaved frames sent before it.
func (c *Conn) ReadResponseIgnoreFrames() (*base.Response, error) {
	for {
		what, err := c.Read()
		if err != nil {
			return nil, err
		}

		switch what := what.(type) {
		case *base.Response:
			return what, nil

		case *base.InterleavedFrame:

		case *InvalidMessage:
			return nil, what.Err

		default:
			return nil, fmt.Errorf("unexpected %T", what)
		}
	}
}

// ReadInterleavedFrame reads an InterleavedFrame.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	what, err := c.Read()
	if err != nil {
		return nil, err
	}

	switch what := what.(type) {
	case *base.InterleavedFrame:
		return what, nil

	case *InvalidMessage:
		return nil, what.Err
	}

	return nil, fmt.Errorf("unexpected %T", what)
}

// WriteRequest writes a request.
func (c *Conn) WriteRequest(req *base.Request) error {
	buf, _ := req.Marshal()
	_, err := c.w.Write(buf)
	return err
}

// WriteResponse writes a response.
func (c *Conn) WriteResponse(res *base.Response) error {
	buf, _ := res.Marshal()
	_, err := c.w.Write(buf)
	return err
}

// WriteInterleavedFrame writes an interleaved frame.
// buf is used as scratch space when it is large enough.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	if len(buf) < fr.MarshalSize() {
		buf = make([]byte, fr.MarshalSize())
	}

	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}

	_, err = c.w.Write(buf[:n])
	return err
}
