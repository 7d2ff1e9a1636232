// Package base contains the primitives of the RTSP protocol.
package base

const (
	rtspProtocol10 = "RTSP/1.0"
)

// Method is the method of a RTSP request.
type Method string

// methods.
const (
	Announce     Method = "ANNOUNCE"
	Describe     Method = "DESCRIBE"
	GetParameter Method = "GET_PARAMETER"
	Options      Method = "OPTIONS"
	Pause        Method = "PAUSE"
	Play         Method = "PLAY"
	Record       Method = "RECORD"
	Setup        Method = "SETUP"
	SetParameter Method = "SET_PARAMETER"
	Teardown     Method = "TEARDOWN"
)

// StreamType is the stream type.
type StreamType int

const (
	// StreamTypeRTP means that the stream contains RTP packets
	StreamTypeRTP StreamType = iota

	// StreamTypeRTCP means that the stream contains RTCP packets
	StreamTypeRTCP
)

var streamTypeLabels = map[StreamType]string{
	StreamTypeRTP:  "RTP",
	StreamTypeRTCP: "RTCP",
}

// String implements fmt.Stringer.
func (st StreamType) String() string {
	if l, ok := streamTypeLabels[st]; ok {
		return l
	}
	return "unknown"
}

// StreamTypeOfChannel returns the stream type carried by an interleaved channel.
// Even channels carry RTP, odd channels carry RTCP.
func StreamTypeOfChannel(channel int) StreamType {
	if channel%2 == 0 {
		return StreamTypeRTP
	}
	return StreamTypeRTCP
}
