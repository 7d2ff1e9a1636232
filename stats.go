package rtsprelay

// SessionStreamStats are the statistics of a stream of a session.
type SessionStreamStats struct {
	Index           int
	PacketsReceived uint64
	PacketsLost     uint32
	Jitter          float64
}

// SessionStats are session statistics.
type SessionStats struct {
	// frames delivered to the write queue of a listener.
	FramesRelayed uint64
	// frames dropped because of backpressure.
	FramesDropped uint64
	// number of times a stream has been marked for resynchronization.
	StreamResets uint64
	// RTCP packets received from the peer.
	RTCPPacketsReceived uint64
	// per-stream RTP statistics.
	Streams []SessionStreamStats
}

// ConnStats are connection statistics.
type ConnStats struct {
	BytesReceived uint64
	BytesSent     uint64
}
