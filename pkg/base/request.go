package base

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	requestMaxMethodLength   = 64
	requestMaxURLLength      = 2048
	requestMaxProtocolLength = 64
)

// Request is a RTSP request.
type Request struct {
	// request method
	Method Method

	// request url
	URL *URL

	// map of header values
	Header Header

	// optional body
	Body []byte
}

// UnmarshalStartLine decodes the initial line of a request (without CRLF).
func (req *Request) UnmarshalStartLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return fmt.Errorf("invalid request line (%v)", line)
	}

	if parts[0] == "" || len(parts[0]) > requestMaxMethodLength {
		return fmt.Errorf("invalid method (%v)", parts[0])
	}
	req.Method = Method(parts[0])

	if len(parts[1]) > requestMaxURLLength {
		return fmt.Errorf("URL exceeds %d", requestMaxURLLength)
	}

	// OPTIONS can target the whole server
	if parts[1] == "*" {
		req.URL = nil
	} else {
		ur, err := ParseURL(parts[1])
		if err != nil {
			return fmt.Errorf("invalid URL (%v)", parts[1])
		}
		req.URL = ur
	}

	if len(parts[2]) > requestMaxProtocolLength || parts[2] != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, parts[2])
	}

	return nil
}

func (req Request) startLine() string {
	urStr := "*"
	if req.URL != nil {
		urStr = req.URL.CloneWithoutCredentials().String()
	}
	return string(req.Method) + " " + urStr + " " + rtspProtocol10 + "\r\n"
}

// Marshal encodes a Request.
func (req Request) Marshal() ([]byte, error) {
	header := make(Header, len(req.Header)+1)
	for k, v := range req.Header {
		header[k] = v
	}

	if len(req.Body) != 0 {
		header["Content-Length"] = HeaderValue{strconv.FormatInt(int64(len(req.Body)), 10)}
	}

	sl := req.startLine()
	buf := make([]byte, len(sl)+header.marshalSize()+len(req.Body))

	pos := copy(buf, sl)
	pos += header.marshalTo(buf[pos:])
	copy(buf[pos:], req.Body)

	return buf, nil
}

// String implements fmt.Stringer.
func (req Request) String() string {
	buf, _ := req.Marshal()
	return string(buf)
}
