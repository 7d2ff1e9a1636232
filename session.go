package rtsprelay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/internal/asyncprocessor"
	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/description"
	"github.com/bluenviron/rtsprelay/pkg/headers"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
	"github.com/bluenviron/rtsprelay/pkg/rtcpreceiver"
	"github.com/bluenviron/rtsprelay/pkg/scheduler"
)

// slots of the write queue reserved to frames that are not subject to backpressure.
const writeQueueReserve = 16

var errStreamNotSetup = errors.New("stream is not set up")

// sessionConn is the connection that carries a session.
type sessionConn interface {
	// writeFrame writes a frame. It is safe for concurrent use.
	writeFrame(fr *base.InterleavedFrame) error

	// close closes the connection asynchronously.
	// The connection then closes the session.
	close(err error)
}

// relayedFrame is a frame relayed from a producer to its listeners.
// The payload is shared between listeners and must not be modified.
type relayedFrame struct {
	streamIndex int
	typ         base.StreamType
	payload     []byte
}

// RTCPPeer is the RTCP capability of a session.
type RTCPPeer interface {
	// ReceiveRTCP processes RTCP packets received on a stream.
	ReceiveRTCP(streamIndex int, pkts []rtcp.Packet)

	// SendRTCP sends RTCP packets on a stream.
	SendRTCP(streamIndex int, pkts []rtcp.Packet) error

	// Participant returns a RTCP participant of a stream.
	Participant(streamIndex int, ssrc uint32) (rtcpreceiver.Participant, bool)
}

type sessionStream struct {
	desc     *description.Stream
	setup    bool
	receiver *rtcpreceiver.Receiver

	// set when frames have been dropped and the stream must be
	// resynchronized before delivering further frames.
	resync atomic.Bool
}

type sessionConf struct {
	uri              string
	mode             SessionMode
	conn             sessionConn
	registry         *Registry
	scheduler        *scheduler.Scheduler
	rtcpPeriod       time.Duration
	writeIdleTimeout time.Duration
	logger           logrus.FieldLogger
}

// Session is a RTSP session.
// It is either a producer that feeds a path or a listener that reads from it.
type Session struct {
	id               string
	uri              string
	mode             SessionMode
	conn             sessionConn
	registry         *Registry
	sched            *scheduler.Scheduler
	rtcpPeriod       time.Duration
	writeIdleTimeout time.Duration
	maxOutstanding   int64
	log              logrus.FieldLogger

	mutex    sync.RWMutex
	state    SessionState
	sdp      []byte
	streams  []*sessionStream
	channels map[int]*sessionStream
	writer   *asyncprocessor.Processor
	tasks    []*scheduler.Task
	closed   bool

	outstanding   atomic.Int64
	lastWrite     atomic.Int64
	framesRelayed atomic.Uint64
	framesDropped atomic.Uint64
	streamResets  atomic.Uint64
	rtcpPackets   atomic.Uint64
}

func newSession(conf sessionConf) *Session {
	id := uuid.NewString()

	return &Session{
		id:               id,
		uri:              conf.uri,
		mode:             conf.mode,
		conn:             conf.conn,
		registry:         conf.registry,
		sched:            conf.scheduler,
		rtcpPeriod:       conf.rtcpPeriod,
		writeIdleTimeout: conf.writeIdleTimeout,
		maxOutstanding:   int64(conf.registry.maxOutstanding()),
		log: conf.logger.WithFields(logrus.Fields{
			"session": id,
			"path":    conf.uri,
			"mode":    conf.mode.String(),
		}),
		state:    SessionStateInit,
		channels: make(map[int]*sessionStream),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// URI returns the canonical path of the session.
func (s *Session) URI() string {
	return s.uri
}

// Mode returns the session mode.
func (s *Session) Mode() SessionMode {
	return s.mode
}

// State returns the session state.
func (s *Session) State() SessionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// SDP returns the session description.
func (s *Session) SDP() []byte {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sdp
}

// Streams returns a copy of the stream descriptors.
func (s *Session) Streams() []description.Stream {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ret := make([]description.Stream, len(s.streams))
	for i, st := range s.streams {
		ret[i] = *st.desc
	}
	return ret
}

// Stats returns session statistics.
func (s *Session) Stats() *SessionStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	st := &SessionStats{
		FramesRelayed:       s.framesRelayed.Load(),
		FramesDropped:       s.framesDropped.Load(),
		StreamResets:        s.streamResets.Load(),
		RTCPPacketsReceived: s.rtcpPackets.Load(),
		Streams:             make([]SessionStreamStats, 0, len(s.streams)),
	}

	for _, ss := range s.streams {
		if !ss.setup {
			continue
		}
		rs := ss.receiver.Stats()
		st.Streams = append(st.Streams, SessionStreamStats{
			Index:           ss.desc.Index,
			PacketsReceived: rs.PacketsReceived,
			PacketsLost:     rs.PacketsLost,
			Jitter:          rs.Jitter,
		})
	}

	return st
}

// checkTransition returns an error if method can't be applied in the current state.
func (s *Session) checkTransition(method base.Method) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, err := nextState(s.state, s.mode, method)
	return err
}

// transition applies method to the state of the session.
func (s *Session) transition(method base.Method) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next, err := nextState(s.state, s.mode, method)
	if err != nil {
		return err
	}

	s.state = next
	return nil
}

// setSDP sets the session description and parses streams from it.
func (s *Session) setSDP(byts []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state >= SessionStateSetup {
		return liberrors.ErrServerSDPAlreadySet{}
	}

	descs, err := description.ParseStreams(byts)
	if err != nil {
		return liberrors.ErrServerSDPInvalid{Err: err}
	}

	streams := make([]*sessionStream, len(descs))
	for i, desc := range descs {
		var rr *rtcpreceiver.Receiver
		rr, err = rtcpreceiver.New(nil, desc.TimeUnit)
		if err != nil {
			return err
		}

		streams[i] = &sessionStream{
			desc:     desc,
			receiver: rr,
		}
	}

	s.sdp = byts
	s.streams = streams
	return nil
}

func (s *Session) freeChannels() [2]int {
	for ch := 0; ch < 256; ch += 2 {
		_, ok1 := s.channels[ch]
		_, ok2 := s.channels[ch+1]
		if !ok1 && !ok2 {
			return [2]int{ch, ch + 1}
		}
	}
	return [2]int{-1, -1}
}

func (s *Session) producerSSRC(streamIndex int) (uint32, bool) {
	p := s.registry.Producer(s.uri)
	if p == nil || p == s {
		return 0, false
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if streamIndex >= len(p.streams) {
		return 0, false
	}
	return p.streams[streamIndex].receiver.SenderSSRC()
}

// setupStream binds a SETUP request to a stream and negotiates its transport.
// On error, the session is left unchanged.
func (s *Session) setupStream(u *base.URL, th *headers.Transport) (*headers.Transport, error) {
	if th.Protocol != headers.TransportProtocolTCP {
		return nil, liberrors.ErrServerTransportUnsupported{Reason: "only interleaved TCP is supported"}
	}

	if th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast {
		return nil, liberrors.ErrServerTransportUnsupported{Reason: "multicast is not supported"}
	}

	if th.Mode != nil {
		if (*th.Mode == headers.TransportModeRecord) != (s.mode == SessionModePublishing) {
			return nil, liberrors.ErrServerTransportUnsupported{
				Reason: "transport mode " + th.Mode.String() + " is not allowed in a " + s.mode.String() + " session",
			}
		}
	}

	if err := s.checkTransition(base.Setup); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	descs := make([]*description.Stream, len(s.streams))
	for i, st := range s.streams {
		descs[i] = st.desc
	}
	s.mutex.RUnlock()

	index, err := description.StreamIndexFromControl(descs, s.uri, u)
	if err != nil {
		return nil, liberrors.ErrServerStreamNotFound{Err: err}
	}

	// outside the lock, since the producer is another session
	ssrc, ssrcFromProducer := s.producerSSRC(index)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := s.streams[index]

	var ids [2]int
	if th.InterleavedIDs != nil {
		ids = *th.InterleavedIDs
		if ids[0]%2 != 0 || ids[1] != ids[0]+1 || ids[0] < 0 || ids[1] > 255 {
			return nil, liberrors.ErrServerInterleavedIDsInvalid{IDs: ids}
		}

		for _, ch := range ids {
			if other, ok := s.channels[ch]; ok && other != st {
				return nil, liberrors.ErrServerChannelInUse{Channel: ch}
			}
		}
	} else {
		if st.setup {
			ids = [2]int{st.desc.RTPChannel, st.desc.RTCPChannel}
		} else {
			ids = s.freeChannels()
			if ids[0] < 0 {
				return nil, liberrors.ErrServerTransportUnsupported{Reason: "no interleaved channels available"}
			}
		}
	}

	if st.setup {
		delete(s.channels, st.desc.RTPChannel)
		delete(s.channels, st.desc.RTCPChannel)
	}

	st.desc.RTPChannel = ids[0]
	st.desc.RTCPChannel = ids[1]
	s.channels[ids[0]] = st
	s.channels[ids[1]] = st
	st.setup = true

	if !st.desc.SSRCSet {
		switch {
		case th.SSRC != nil && s.mode == SessionModePublishing:
			st.desc.SSRC = *th.SSRC

		case ssrcFromProducer:
			st.desc.SSRC = ssrc

		default:
			st.desc.SSRC, err = rtcpreceiver.RandUint32()
			if err != nil {
				return nil, err
			}
		}
		st.desc.SSRCSet = true
	}

	s.state = SessionStateSetup

	delivery := headers.TransportDeliveryUnicast
	res := &headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		Delivery:       &delivery,
		InterleavedIDs: &ids,
		SSRC:           &st.desc.SSRC,
	}
	if s.mode == SessionModePublishing {
		mode := headers.TransportModeRecord
		res.Mode = &mode
	}

	s.log.WithFields(logrus.Fields{
		"stream":   index,
		"codec":    st.desc.Codec,
		"channels": ids,
	}).Debug("stream set up")

	return res, nil
}

// setupStreamIndex marks a stream as set up on the given channels.
// It is used by the client, that sets up streams on the remote server.
func (s *Session) setupStreamIndex(index int, ids [2]int, ssrc *uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next, err := nextState(s.state, s.mode, base.Setup)
	if err != nil {
		return err
	}

	st := s.streams[index]
	st.desc.RTPChannel = ids[0]
	st.desc.RTCPChannel = ids[1]
	s.channels[ids[0]] = st
	s.channels[ids[1]] = st
	st.setup = true

	if ssrc != nil {
		st.desc.SSRC = *ssrc
		st.desc.SSRCSet = true
	}

	s.state = next
	return nil
}

func (s *Session) setupCount() int {
	n := 0
	for _, st := range s.streams {
		if st.setup {
			n++
		}
	}
	return n
}

func (s *Session) startWriter() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.writer != nil {
		return nil
	}

	w := &asyncprocessor.Processor{
		BufferSize: int(s.maxOutstanding) + writeQueueReserve,
		OnError: func(_ context.Context, err error) {
			s.conn.close(err)
		},
	}
	err := w.Initialize()
	if err != nil {
		return err
	}

	w.Start()
	s.writer = w
	return nil
}

func (s *Session) addTask(t *scheduler.Task) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		go t.Cancel()
		return
	}
	s.tasks = append(s.tasks, t)
}

// play registers the session as a listener of its path.
func (s *Session) play() error {
	s.mutex.Lock()
	next, err := nextState(s.state, s.mode, base.Play)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	if s.setupCount() == 0 {
		s.mutex.Unlock()
		return liberrors.ErrServerNoStreamsSetup{}
	}
	s.mutex.Unlock()

	err = s.startWriter()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.state = next
	s.mutex.Unlock()

	if s.mode == SessionModePlaying {
		err = s.registry.AddListener(s.uri, s)
		if err != nil {
			s.mutex.Lock()
			s.state = SessionStateSetup
			s.mutex.Unlock()
			return err
		}

		if s.writeIdleTimeout > 0 {
			s.lastWrite.Store(time.Now().UnixNano())
			s.addTask(s.sched.Every(s.writeIdleTimeout/2, s.checkWriteIdle))
		}
	} else {
		s.addTask(s.sched.Every(s.rtcpPeriod, s.sendReceiverReports))
	}

	s.log.Info("is reading")
	return nil
}

// record registers the session as the producer of its path.
func (s *Session) record() error {
	s.mutex.Lock()
	next, err := nextState(s.state, s.mode, base.Record)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	if s.setupCount() == 0 {
		s.mutex.Unlock()
		return liberrors.ErrServerNoStreamsSetup{}
	}
	s.mutex.Unlock()

	err = s.startWriter()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.state = next
	s.mutex.Unlock()

	s.registry.SetProducer(s.uri, s)
	s.addTask(s.sched.Every(s.rtcpPeriod, s.sendReceiverReports))

	s.log.Info("is publishing")
	return nil
}

// becomeProducer registers a client pull session as the producer of its path.
func (s *Session) becomeProducer() {
	s.registry.SetProducer(s.uri, s)
}

// close tears the session down.
// Timers are cancelled first, then the session is removed from the registry,
// then the writer is stopped and buffers are released.
func (s *Session) close(err error) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	tasks := s.tasks
	s.tasks = nil
	s.mutex.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}

	if s.mode.isProducer() {
		s.registry.RemoveProducer(s.uri, s)
	} else {
		s.registry.RemoveListener(s.uri, s)
	}

	s.mutex.Lock()
	w := s.writer
	s.mutex.Unlock()

	if w != nil {
		w.Close()
	}

	s.mutex.Lock()
	s.state = SessionStateTeardown
	s.streams = nil
	s.channels = nil
	s.mutex.Unlock()

	s.log.WithError(err).Info("destroyed")
}

// closeWithError asks the connection of the session to close.
func (s *Session) closeWithError(err error) {
	s.conn.close(err)
}

// push queues frames for writing.
// When counted, the frames are subject to backpressure and are accounted
// in the outstanding-send counter until written.
func (s *Session) push(counted bool, frames ...*base.InterleavedFrame) bool {
	s.mutex.RLock()
	w := s.writer
	s.mutex.RUnlock()

	if w == nil {
		return false
	}

	return w.Push(func() error {
		if counted {
			defer s.outstanding.Add(-1)
		}

		for _, fr := range frames {
			err := s.conn.writeFrame(fr)
			if err != nil {
				return err
			}
		}

		s.lastWrite.Store(time.Now().UnixNano())
		return nil
	})
}

func (s *Session) markResync(st *sessionStream) {
	s.framesDropped.Add(1)
	if !st.resync.Swap(true) {
		s.streamResets.Add(1)
	}
}

// relayFrame delivers a frame of producer p to this listener.
// It never blocks: when too many sends are outstanding, the frame is dropped
// and the stream is marked for resynchronization.
func (s *Session) relayFrame(p *Session, fr relayedFrame) error {
	s.mutex.RLock()
	if s.state != SessionStatePlay || fr.streamIndex >= len(s.streams) {
		s.mutex.RUnlock()
		return nil
	}
	st := s.streams[fr.streamIndex]
	if !st.setup {
		s.mutex.RUnlock()
		return nil
	}
	rtpChannel := st.desc.RTPChannel
	rtcpChannel := st.desc.RTCPChannel
	s.mutex.RUnlock()

	if s.outstanding.Add(1) > s.maxOutstanding {
		s.outstanding.Add(-1)
		s.markResync(st)
		return nil
	}

	frames := make([]*base.InterleavedFrame, 0, 2)

	if fr.typ == base.StreamTypeRTP {
		if st.resync.Swap(false) {
			if sr := p.senderReport(fr.streamIndex, time.Now()); sr != nil {
				frames = append(frames, &base.InterleavedFrame{Channel: rtcpChannel, Payload: sr})
			}
		}
		frames = append(frames, &base.InterleavedFrame{Channel: rtpChannel, Payload: fr.payload})
	} else {
		frames = append(frames, &base.InterleavedFrame{Channel: rtcpChannel, Payload: fr.payload})
	}

	if !s.push(true, frames...) {
		s.outstanding.Add(-1)
		s.markResync(st)
		return nil
	}

	s.framesRelayed.Add(1)
	return nil
}

// primeSync sends to the listener the synchronization state of producer p.
func (s *Session) primeSync(p *Session) {
	now := time.Now()

	s.mutex.RLock()
	type target struct {
		index   int
		channel int
	}
	var targets []target
	for _, st := range s.streams {
		if st.setup {
			targets = append(targets, target{st.desc.Index, st.desc.RTCPChannel})
		}
	}
	s.mutex.RUnlock()

	for _, t := range targets {
		if sr := p.senderReport(t.index, now); sr != nil {
			s.push(false, &base.InterleavedFrame{Channel: t.channel, Payload: sr})
		}
	}
}

// onProducerRemoved is called when the producer of the path goes away.
func (s *Session) onProducerRemoved() {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, st := range s.streams {
		st.resync.Store(true)
	}
}

// senderReport returns a marshaled RTCP sender report aligned with the
// synchronization point of a stream of this session.
func (s *Session) senderReport(streamIndex int, now time.Time) []byte {
	s.mutex.RLock()
	if streamIndex >= len(s.streams) {
		s.mutex.RUnlock()
		return nil
	}
	st := s.streams[streamIndex]
	s.mutex.RUnlock()

	sync, ok := st.receiver.NtpTime()
	if !ok {
		return nil
	}

	ssrc, ok := st.receiver.SenderSSRC()
	if !ok {
		ssrc = st.desc.SSRC
	}

	byts, err := rtcpreceiver.SenderReport(ssrc, sync, st.desc.TimeUnit, now).Marshal()
	if err != nil {
		return nil
	}
	return byts
}

// handleFrame processes a frame received from the connection.
func (s *Session) handleFrame(fr *base.InterleavedFrame) {
	s.mutex.RLock()
	st, ok := s.channels[fr.Channel]
	s.mutex.RUnlock()

	// no stream claims the channel
	if !ok {
		return
	}

	now := time.Now()

	if fr.Channel == st.desc.RTPChannel {
		if !s.mode.isProducer() {
			return
		}

		var pkt rtp.Packet
		err := pkt.Unmarshal(fr.Payload)
		if err != nil {
			s.log.WithError(err).Debug("invalid RTP packet")
			return
		}

		err = st.receiver.ProcessPacketRTP(now, &pkt)
		if err != nil {
			s.log.WithError(err).Debug("RTP stream restarted")
			st.receiver.Reset()
			st.receiver.ProcessPacketRTP(now, &pkt) //nolint:errcheck
		}

		s.registry.Relay(s.uri, s, relayedFrame{
			streamIndex: st.desc.Index,
			typ:         base.StreamTypeRTP,
			payload:     fr.Payload,
		})
		return
	}

	pkts, err := rtcp.Unmarshal(fr.Payload)
	if err != nil {
		s.log.WithError(err).Debug("invalid RTCP packet")
		return
	}

	s.receiveRTCP(st, now, pkts)

	if s.mode.isProducer() {
		s.registry.Relay(s.uri, s, relayedFrame{
			streamIndex: st.desc.Index,
			typ:         base.StreamTypeRTCP,
			payload:     fr.Payload,
		})
	}
}

func (s *Session) receiveRTCP(st *sessionStream, now time.Time, pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		s.rtcpPackets.Add(1)
		st.receiver.ProcessPacketRTCP(now, pkt)
	}
}

func (s *Session) setupStreamByIndex(streamIndex int) *sessionStream {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if streamIndex < 0 || streamIndex >= len(s.streams) || !s.streams[streamIndex].setup {
		return nil
	}
	return s.streams[streamIndex]
}

// ReceiveRTCP implements RTCPPeer.
func (s *Session) ReceiveRTCP(streamIndex int, pkts []rtcp.Packet) {
	st := s.setupStreamByIndex(streamIndex)
	if st == nil {
		return
	}
	s.receiveRTCP(st, time.Now(), pkts)
}

// SendRTCP implements RTCPPeer.
func (s *Session) SendRTCP(streamIndex int, pkts []rtcp.Packet) error {
	st := s.setupStreamByIndex(streamIndex)
	if st == nil {
		return liberrors.ErrServerStreamNotFound{Err: errStreamNotSetup}
	}

	byts, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}

	fr := &base.InterleavedFrame{Channel: st.desc.RTCPChannel, Payload: byts}

	if !s.push(false, fr) {
		return s.conn.writeFrame(fr)
	}
	return nil
}

// Participant implements RTCPPeer.
func (s *Session) Participant(streamIndex int, ssrc uint32) (rtcpreceiver.Participant, bool) {
	st := s.setupStreamByIndex(streamIndex)
	if st == nil {
		return rtcpreceiver.Participant{}, false
	}
	return st.receiver.Participant(ssrc)
}

func (s *Session) setupIndexes() []int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ret []int
	for _, st := range s.streams {
		if st.setup {
			ret = append(ret, st.desc.Index)
		}
	}
	return ret
}

// sendReceiverReports sends a receiver report for every stream that received packets.
func (s *Session) sendReceiverReports() {
	now := time.Now()

	for _, i := range s.setupIndexes() {
		st := s.setupStreamByIndex(i)
		if st == nil {
			continue
		}

		if rr := st.receiver.Report(now); rr != nil {
			err := s.SendRTCP(i, []rtcp.Packet{rr})
			if err != nil {
				s.log.WithError(err).Debug("unable to send receiver report")
			}
		}
	}
}

// checkWriteIdle sends a heartbeat when nothing has been written in a while.
func (s *Session) checkWriteIdle() {
	if time.Since(time.Unix(0, s.lastWrite.Load())) < s.writeIdleTimeout {
		return
	}

	now := time.Now()
	p := s.registry.Producer(s.uri)

	for _, i := range s.setupIndexes() {
		st := s.setupStreamByIndex(i)
		if st == nil {
			continue
		}

		var sr []byte
		if p != nil {
			sr = p.senderReport(i, now)
		}

		if sr != nil {
			s.push(false, &base.InterleavedFrame{Channel: st.desc.RTCPChannel, Payload: sr})
			continue
		}

		rr, err := (&rtcp.ReceiverReport{SSRC: st.receiver.ReceiverSSRC()}).Marshal()
		if err != nil {
			continue
		}
		s.push(false, &base.InterleavedFrame{Channel: st.desc.RTCPChannel, Payload: rr})
	}

	s.log.Debug("write idle, heartbeat sent")
}

// rtpInfo returns the RTP-Info entries of the streams read by a listener,
// computed from the last packets received by the producer.
func (s *Session) rtpInfo(u *base.URL) headers.RTPInfo {
	p := s.registry.Producer(s.uri)
	if p == nil {
		return nil
	}

	var ri headers.RTPInfo

	for _, i := range s.setupIndexes() {
		st := s.setupStreamByIndex(i)
		pst := p.setupStreamByIndex(i)
		if st == nil || pst == nil {
			continue
		}

		seq, ts, ok := pst.receiver.LastRTP()
		if !ok {
			continue
		}
		seq++

		su, err := st.desc.URL(u)
		if err != nil {
			continue
		}

		ri = append(ri, &headers.RTPInfoEntry{
			URL:            su.String(),
			SequenceNumber: &seq,
			Timestamp:      &ts,
		})
	}

	return ri
}
