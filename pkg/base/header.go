package base

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	headerMaxEntryCount  = 255
	headerMaxKeyLength   = 512
	headerMaxValueLength = 2048
)

func headerKeyNormalize(in string) string {
	switch strings.ToLower(in) {
	case "rtp-info":
		return "RTP-Info"

	case "www-authenticate":
		return "WWW-Authenticate"

	case "cseq":
		return "CSeq"
	}
	return http.CanonicalHeaderKey(in)
}

// HeaderValue is an header value.
type HeaderValue []string

// Header is a RTSP header, present in both Requests and Responses.
type Header map[string]HeaderValue

// UnmarshalLine decodes a single "Name: value" header line (without CRLF)
// and appends it to the header.
func (h Header) UnmarshalLine(line string) error {
	if len(h) >= headerMaxEntryCount {
		return fmt.Errorf("headers count exceeds %d", headerMaxEntryCount)
	}

	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return fmt.Errorf("invalid header line (%v)", line)
	}

	key := line[:i]
	if len(key) > headerMaxKeyLength {
		return fmt.Errorf("header key exceeds %d", headerMaxKeyLength)
	}
	key = headerKeyNormalize(key)

	// https://tools.ietf.org/html/rfc2616
	// The field value MAY be preceded by any amount of spaces
	val := strings.TrimLeft(line[i+1:], " \t")
	if len(val) > headerMaxValueLength {
		return fmt.Errorf("header value exceeds %d", headerMaxValueLength)
	}

	h[key] = append(h[key], val)
	return nil
}

func (h Header) marshalSize() int {
	n := 0
	for key, vals := range h {
		for _, val := range vals {
			n += len(key) + 2 + len(val) + 2
		}
	}
	n += 2
	return n
}

func (h Header) marshalTo(buf []byte) int {
	// sort headers by key
	// in order to obtain deterministic results
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pos := 0

	for _, key := range keys {
		for _, val := range h[key] {
			pos += copy(buf[pos:], key+": "+val+"\r\n")
		}
	}

	pos += copy(buf[pos:], "\r\n")

	return pos
}
