// Package headers contains various RTSP headers.
package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

// TransportProtocol is a transport protocol.
type TransportProtocol int

// transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// String implements fmt.Stringer.
func (p TransportProtocol) String() string {
	if p == TransportProtocolTCP {
		return "RTP/AVP/TCP"
	}
	return "RTP/AVP"
}

// TransportDelivery is a delivery method.
type TransportDelivery int

// transport delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode is a transport mode.
type TransportMode int

const (
	// TransportModePlay is the "play" transport mode
	TransportModePlay TransportMode = iota

	// TransportModeRecord is the "record" transport mode
	TransportModeRecord
)

// String implements fmt.Stringer.
func (tm TransportMode) String() string {
	switch tm {
	case TransportModePlay:
		return "play"

	case TransportModeRecord:
		return "record"
	}
	return "unknown"
}

// Transport is a Transport header.
type Transport struct {
	// protocol of the stream
	Protocol TransportProtocol

	// (optional) delivery method of the stream
	Delivery *TransportDelivery

	// (optional) interleaved frame IDs
	InterleavedIDs *[2]int

	// (optional) SSRC of the packets of the stream
	SSRC *uint32

	// (optional) mode
	Mode *TransportMode

	// parameters that are not interpreted, in order of appearance
	Params []string
}

func parsePorts(val string) (*[2]int, error) {
	ports := strings.Split(val, "-")
	if len(ports) == 2 {
		port1, err := strconv.ParseUint(ports[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		port2, err := strconv.ParseUint(ports[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{int(port1), int(port2)}, nil
	}

	if len(ports) == 1 {
		port1, err := strconv.ParseUint(ports[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{int(port1), int(port1 + 1)}, nil
	}

	return nil, fmt.Errorf("invalid ports (%v)", val)
}

// Unmarshal decodes a Transport header.
// When the header contains multiple comma-separated transports, the first
// one that uses TCP is picked, otherwise the first one.
func (h *Transport) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	candidates := strings.Split(v[0], ",")
	chosen := candidates[0]
	for _, c := range candidates {
		if strings.HasPrefix(strings.TrimSpace(c), "RTP/AVP/TCP") {
			chosen = c
			break
		}
	}

	return h.unmarshalSingle(strings.TrimSpace(chosen))
}

func (h *Transport) unmarshalSingle(v string) error {
	*h = Transport{}

	parts := strings.Split(v, ";")

	switch parts[0] {
	case "RTP/AVP", "RTP/AVP/UDP":
		h.Protocol = TransportProtocolUDP

	case "RTP/AVP/TCP":
		h.Protocol = TransportProtocolTCP

	default:
		return fmt.Errorf("invalid protocol (%v)", v)
	}
	parts = parts[1:]

	for _, t := range parts {
		t = strings.TrimSpace(t)

		switch {
		case t == "unicast":
			v := TransportDeliveryUnicast
			h.Delivery = &v

		case t == "multicast":
			v := TransportDeliveryMulticast
			h.Delivery = &v

		case strings.HasPrefix(t, "interleaved="):
			ports, err := parsePorts(t[len("interleaved="):])
			if err != nil {
				return err
			}
			h.InterleavedIDs = ports

		case strings.HasPrefix(t, "ssrc="):
			str := strings.TrimLeft(t[len("ssrc="):], " ")

			// some cameras send the SSRC without leading zeroes
			if len(str) > 8 {
				return fmt.Errorf("invalid SSRC (%v)", str)
			}

			tmp, err := strconv.ParseUint(str, 16, 32)
			if err != nil {
				return fmt.Errorf("invalid SSRC (%v)", str)
			}
			v := uint32(tmp)
			h.SSRC = &v

		case strings.HasPrefix(t, "mode="):
			str := strings.ToLower(t[len("mode="):])
			str = strings.TrimPrefix(str, "\"")
			str = strings.TrimSuffix(str, "\"")

			switch str {
			case "play":
				v := TransportModePlay
				h.Mode = &v

				// receive is an old alias for record, used by ffmpeg with the
				// -listen flag, and by Darwin Streaming Server
			case "record", "receive":
				v := TransportModeRecord
				h.Mode = &v

			default:
				return fmt.Errorf("invalid transport mode: '%s'", str)
			}

		case t == "":

		default:
			h.Params = append(h.Params, t)
		}
	}

	return nil
}

// Marshal encodes a Transport header.
func (h Transport) Marshal() base.HeaderValue {
	rets := []string{h.Protocol.String()}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			rets = append(rets, "unicast")
		} else {
			rets = append(rets, "multicast")
		}
	}

	if h.InterleavedIDs != nil {
		ports := *h.InterleavedIDs
		rets = append(rets, "interleaved="+strconv.FormatInt(int64(ports[0]), 10)+"-"+strconv.FormatInt(int64(ports[1]), 10))
	}

	if h.SSRC != nil {
		rets = append(rets, "ssrc="+fmt.Sprintf("%08X", *h.SSRC))
	}

	if h.Mode != nil {
		rets = append(rets, "mode="+h.Mode.String())
	}

	return base.HeaderValue{strings.Join(rets, ";")}
}
