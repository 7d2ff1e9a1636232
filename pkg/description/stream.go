// Package description contains objects to describe streams.
package description

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/timeunit"
)

// StreamKind is the kind of a stream.
type StreamKind string

// stream kinds.
const (
	StreamKindVideo       StreamKind = "video"
	StreamKindAudio       StreamKind = "audio"
	StreamKindApplication StreamKind = "application"
)

type staticPayloadType struct {
	codec     string
	clockRate int
}

// payload types with a static mapping (RFC 3551).
var staticPayloadTypes = map[uint8]staticPayloadType{
	0:  {"PCMU", 8000},
	3:  {"GSM", 8000},
	4:  {"G723", 8000},
	8:  {"PCMA", 8000},
	9:  {"G722", 8000},
	10: {"L16", 44100},
	11: {"L16", 44100},
	14: {"MPA", 90000},
	18: {"G729", 8000},
	26: {"JPEG", 90000},
	31: {"H261", 90000},
	32: {"MPV", 90000},
	33: {"MP2T", 90000},
	34: {"H263", 90000},
}

// Stream is a media stream of a session.
type Stream struct {
	// position of the stream inside the session description.
	Index int

	// kind of the stream.
	Kind StreamKind

	// codec name, upper case.
	Codec string

	// payload type of the first format.
	PayloadType uint8

	// time unit of RTP timestamps.
	TimeUnit timeunit.TimeUnit

	// control attribute.
	Control string

	// interleaved channel that carries RTP packets.
	RTPChannel int

	// interleaved channel that carries RTCP packets.
	RTCPChannel int

	// synchronization source.
	SSRC uint32

	// whether SSRC has been assigned.
	SSRCSet bool
}

func getFormatAttribute(attributes []psdp.Attribute, payloadType uint8, key string) string {
	for _, attr := range attributes {
		if attr.Key == key {
			v := strings.TrimSpace(attr.Value)
			if parts := strings.SplitN(v, " ", 2); len(parts) == 2 {
				if tmp, err := strconv.ParseUint(parts[0], 10, 8); err == nil && uint8(tmp) == payloadType {
					return parts[1]
				}
			}
		}
	}
	return ""
}

func getAttribute(attributes []psdp.Attribute, key string) string {
	for _, attr := range attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// parseRTPMap decodes the value of a rtpmap attribute, without payload type.
// Example: "H264/90000", "MPEG4-GENERIC/44100/2".
func parseRTPMap(v string) (string, int, error) {
	parts := strings.Split(v, "/")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("invalid rtpmap (%v)", v)
	}

	rate, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil || rate == 0 {
		return "", 0, fmt.Errorf("invalid clock rate (%v)", parts[1])
	}

	return strings.ToUpper(parts[0]), int(rate), nil
}

func (s *Stream) unmarshal(index int, md *psdp.MediaDescription) error {
	s.Index = index
	s.Kind = StreamKind(md.MediaName.Media)
	s.Control = getAttribute(md.Attributes, "control")

	if len(md.MediaName.Formats) == 0 {
		return fmt.Errorf("no formats found")
	}

	tmp, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 7)
	if err != nil {
		return fmt.Errorf("invalid payload type (%v)", md.MediaName.Formats[0])
	}
	s.PayloadType = uint8(tmp)

	clockRate := 0

	if rtpMap := getFormatAttribute(md.Attributes, s.PayloadType, "rtpmap"); rtpMap != "" {
		s.Codec, clockRate, err = parseRTPMap(rtpMap)
		if err != nil {
			return err
		}
	} else if st, ok := staticPayloadTypes[s.PayloadType]; ok {
		s.Codec, clockRate = st.codec, st.clockRate
	}

	switch s.Kind {
	case StreamKindAudio:
		if clockRate == 0 {
			s.TimeUnit = timeunit.Audio8k
		} else {
			s.TimeUnit = timeunit.FromClockRate(clockRate)
		}

	case StreamKindVideo:
		s.TimeUnit = timeunit.Video90k

	default:
		s.TimeUnit = timeunit.Millisecond
	}

	// default channels, overridden by SETUP
	s.RTPChannel = index * 2
	s.RTCPChannel = index*2 + 1

	return nil
}

// ParseStreams decodes the streams contained in a session description.
func ParseStreams(byts []byte) ([]*Stream, error) {
	var sd psdp.SessionDescription
	err := sd.Unmarshal(byts)
	if err != nil {
		return nil, err
	}

	if len(sd.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("no media streams found")
	}

	streams := make([]*Stream, len(sd.MediaDescriptions))

	for i, md := range sd.MediaDescriptions {
		var s Stream
		err = s.unmarshal(i, md)
		if err != nil {
			return nil, fmt.Errorf("media %d is invalid: %w", i+1, err)
		}
		streams[i] = &s
	}

	return streams, nil
}

// URL returns the absolute URL of the stream.
func (s Stream) URL(contentBase *base.URL) (*base.URL, error) {
	if contentBase == nil {
		return nil, fmt.Errorf("Content-Base header not provided")
	}

	// no control attribute, use base URL
	if s.Control == "" || s.Control == "*" {
		return contentBase, nil
	}

	// control attribute contains an absolute path
	if strings.HasPrefix(s.Control, "rtsp://") ||
		strings.HasPrefix(s.Control, "rtsps://") {
		ur, err := base.ParseURL(s.Control)
		if err != nil {
			return nil, err
		}

		// copy host and credentials
		ur.Host = contentBase.Host
		ur.User = contentBase.User
		return ur, nil
	}

	// relative control attribute, appended to the path or to the query
	strURL := contentBase.String()
	if s.Control[0] != '?' && !strings.HasSuffix(strURL, "/") {
		strURL += "/"
	}

	return base.ParseURL(strURL + s.Control)
}

func controlSuffix(control string) string {
	if strings.HasPrefix(control, "rtsp://") || strings.HasPrefix(control, "rtsps://") {
		u, err := base.ParseURL(control)
		if err != nil {
			return control
		}
		ret := strings.TrimPrefix(u.Path, "/")
		if u.RawQuery != "" {
			ret += "?" + u.RawQuery
		}
		return ret
	}
	return control
}

func trackNumber(v string) (int, bool) {
	for _, prefix := range []string{"trackID=", "streamid=", "track"} {
		if i := strings.LastIndex(v, prefix); i >= 0 {
			n, err := strconv.ParseUint(v[i+len(prefix):], 10, 31)
			if err == nil {
				return int(n), true
			}
		}
	}
	return 0, false
}

// StreamIndexFromControl finds the stream addressed by a SETUP request.
// basePath is the canonical path of the session, setupURL is the URL of the request.
func StreamIndexFromControl(streams []*Stream, basePath string, setupURL *base.URL) (int, error) {
	// path and query relative to the session path
	full := strings.TrimPrefix(setupURL.Path, "/")
	if setupURL.RawQuery != "" {
		full += "?" + setupURL.RawQuery
	}

	rel := full
	if bp := strings.TrimPrefix(basePath, "/"); bp != "" && strings.HasPrefix(full, bp) {
		rest := full[len(bp):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' {
			rel = strings.TrimPrefix(rest, "/")
		}
	}

	for i, s := range streams {
		if s.Control == "" {
			continue
		}

		suffix := controlSuffix(s.Control)
		if suffix == rel || suffix == full || (rel != "" && strings.HasSuffix(full, "/"+suffix)) {
			return i, nil
		}
	}

	if n, ok := trackNumber(rel); ok {
		if n < len(streams) {
			return n, nil
		}
		return 0, fmt.Errorf("stream %d does not exist", n)
	}

	if len(streams) == 1 {
		return 0, nil
	}

	return 0, fmt.Errorf("unable to find a stream for path '%s'", setupURL.Path)
}
