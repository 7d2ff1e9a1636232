package rtsprelay

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/headers"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
	"github.com/bluenviron/rtsprelay/pkg/scheduler"
)

var testSDP = []byte("v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Stream\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=control:trackID=0\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"m=audio 0 RTP/AVP 97\r\n" +
	"a=control:trackID=1\r\n" +
	"a=rtpmap:97 MPEG4-GENERIC/44100/2\r\n")

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testSessionConn struct {
	block chan struct{}

	mutex     sync.Mutex
	frames    []*base.InterleavedFrame
	closeErrs []error
}

func (c *testSessionConn) writeFrame(fr *base.InterleavedFrame) error {
	if c.block != nil {
		<-c.block
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.frames = append(c.frames, fr)
	return nil
}

func (c *testSessionConn) close(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closeErrs = append(c.closeErrs, err)
}

func (c *testSessionConn) written() []*base.InterleavedFrame {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]*base.InterleavedFrame(nil), c.frames...)
}

func (c *testSessionConn) closed() []error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]error(nil), c.closeErrs...)
}

type testListener struct {
	fail func() error

	mutex           sync.Mutex
	frames          []relayedFrame
	primed          int
	producerRemoved int
	closeErr        error
}

func (l *testListener) relayFrame(_ *Session, fr relayedFrame) error {
	if l.fail != nil {
		return l.fail()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.frames = append(l.frames, fr)
	return nil
}

func (l *testListener) primeSync(*Session) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.primed++
}

func (l *testListener) onProducerRemoved() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.producerRemoved++
}

func (l *testListener) closeWithError(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.closeErr = err
}

func (l *testListener) received() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.frames)
}

func (l *testListener) err() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.closeErr
}

func newTestSession(t *testing.T, r *Registry, uri string, mode SessionMode, conn sessionConn) *Session {
	sched := scheduler.New()
	t.Cleanup(sched.Close)

	return newSession(sessionConf{
		uri:        uri,
		mode:       mode,
		conn:       conn,
		registry:   r,
		scheduler:  sched,
		rtcpPeriod: time.Hour,
		logger:     testLogger(),
	})
}

func newTestProducer(t *testing.T, r *Registry, uri string) (*Session, *testSessionConn) {
	conn := &testSessionConn{}
	p := newTestSession(t, r, uri, SessionModePublishing, conn)

	require.NoError(t, p.transition(base.Announce))
	require.NoError(t, p.setSDP(testSDP))

	for i := 0; i < 2; i++ {
		mode := headers.TransportModeRecord
		_, err := p.setupStream(base.MustParseURL("rtsp://localhost"+uri+"/trackID="+strconv.Itoa(i)),
			&headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				InterleavedIDs: &[2]int{i * 2, i*2 + 1},
				Mode:           &mode,
			})
		require.NoError(t, err)
	}

	require.NoError(t, p.record())
	t.Cleanup(func() { p.close(nil) })

	return p, conn
}

func rtpFrame(t *testing.T, seq uint16) []byte {
	byts, err := (&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      54352,
			SSRC:           753621,
		},
		Payload: []byte{1, 2, 3, 4},
	}).Marshal()
	require.NoError(t, err)
	return byts
}

func TestRegistryRelayIsolation(t *testing.T) {
	r := &Registry{Logger: testLogger()}
	p, _ := newTestProducer(t, r, "/cam1")

	good1 := &testListener{}
	failing := &testListener{fail: func() error { return errors.New("write failed") }}
	panicking := &testListener{fail: func() error { panic("boom") }}
	good2 := &testListener{}

	for _, l := range []*testListener{good1, failing, panicking, good2} {
		require.NoError(t, r.AddListener("/cam1", l))
		require.Equal(t, 1, l.primed)
	}
	require.Equal(t, 4, r.Listeners("/cam1"))

	fr := relayedFrame{streamIndex: 0, typ: base.StreamTypeRTP, payload: rtpFrame(t, 1)}

	r.Relay("/cam1", p, fr)

	require.Equal(t, 1, good1.received())
	require.Equal(t, 1, good2.received())

	var lf liberrors.ErrServerListenerFailed
	require.ErrorAs(t, failing.err(), &lf)
	require.EqualError(t, lf.Err, "write failed")
	require.ErrorAs(t, panicking.err(), &lf)
	require.EqualError(t, lf.Err, "panic: boom")

	require.NoError(t, good1.err())
	require.NoError(t, good2.err())
	require.Equal(t, 2, r.Listeners("/cam1"))

	r.Relay("/cam1", p, fr)

	require.Equal(t, 2, good1.received())
	require.Equal(t, 2, good2.received())
}

func TestRegistryRelayFromNonProducer(t *testing.T) {
	r := &Registry{Logger: testLogger()}
	newTestProducer(t, r, "/cam1")

	other := newTestSession(t, r, "/cam1", SessionModePublishing, &testSessionConn{})

	l := &testListener{}
	require.NoError(t, r.AddListener("/cam1", l))

	r.Relay("/cam1", other, relayedFrame{typ: base.StreamTypeRTP, payload: rtpFrame(t, 1)})
	require.Equal(t, 0, l.received())
}

func TestRegistryProducerReplaced(t *testing.T) {
	r := &Registry{Logger: testLogger()}
	p1, conn1 := newTestProducer(t, r, "/cam1")

	l := &testListener{}
	require.NoError(t, r.AddListener("/cam1", l))

	p2, conn2 := newTestProducer(t, r, "/cam1")

	require.Equal(t, p2, r.Producer("/cam1"))
	require.Equal(t, []error{liberrors.ErrServerSessionReplaced{}}, conn1.closed())
	require.Empty(t, conn2.closed())
	require.Equal(t, liberrors.ErrServerSessionReplaced{}, l.err())
	require.Equal(t, 0, r.Listeners("/cam1"))

	// the replaced producer can't remove the new one
	p1.close(nil)
	require.Equal(t, p2, r.Producer("/cam1"))
}

func TestRegistryAddListenerNotFound(t *testing.T) {
	r := &Registry{Logger: testLogger()}

	err := r.AddListener("/missing", &testListener{})
	require.Equal(t, liberrors.ErrServerPathNotFound{Path: "/missing"}, err)

	_, err = r.Describe("/missing")
	require.Equal(t, liberrors.ErrServerPathNotFound{Path: "/missing"}, err)
}

func TestRegistrySDPCache(t *testing.T) {
	t.Run("expiring", func(t *testing.T) {
		r := &Registry{
			SDPCacheTTL: 200 * time.Millisecond,
			Logger:      testLogger(),
		}
		p, _ := newTestProducer(t, r, "/cam1")

		l := &testListener{}
		require.NoError(t, r.AddListener("/cam1", l))

		p.close(nil)
		require.Nil(t, r.Producer("/cam1"))
		require.Equal(t, 1, l.producerRemoved)

		byts, err := r.Describe("/cam1")
		require.NoError(t, err)
		require.Equal(t, testSDP, byts)
		require.Equal(t, []string{"/cam1"}, r.Paths())

		r.RemoveListener("/cam1", l)

		require.Eventually(t, func() bool {
			_, err = r.Describe("/cam1")
			return err != nil && len(r.Paths()) == 0
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("forever", func(t *testing.T) {
		r := &Registry{
			SDPCacheTTL: -1,
			Logger:      testLogger(),
		}
		p, _ := newTestProducer(t, r, "/cam1")
		p.close(nil)

		time.Sleep(50 * time.Millisecond)

		byts, err := r.Describe("/cam1")
		require.NoError(t, err)
		require.Equal(t, testSDP, byts)

		require.NoError(t, r.AddListener("/cam1", &testListener{}))
	})
}

func TestSessionBackpressure(t *testing.T) {
	r := &Registry{
		MaxOutstanding: 1,
		Logger:         testLogger(),
	}
	p, _ := newTestProducer(t, r, "/cam1")

	// the producer learns the SSRC of stream 0
	p.handleFrame(&base.InterleavedFrame{Channel: 0, Payload: rtpFrame(t, 0)})

	conn := &testSessionConn{block: make(chan struct{})}
	l := newTestSession(t, r, "/cam1", SessionModePlaying, conn)

	require.NoError(t, l.transition(base.Describe))
	require.NoError(t, l.setSDP(testSDP))
	_, err := l.setupStream(base.MustParseURL("rtsp://localhost/cam1/trackID=0"), &headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{0, 1},
	})
	require.NoError(t, err)
	require.NoError(t, l.play())
	defer l.close(nil)

	// the producer learns the synchronization point of stream 0
	p.ReceiveRTCP(0, []rtcp.Packet{&rtcp.SenderReport{
		SSRC:        753621,
		NTPTime:     0xe44f3e9b00000000,
		RTPTime:     54352,
		PacketCount: 1,
		OctetCount:  4,
	}})

	// first frame blocks inside the writer, second one is dropped
	r.Relay("/cam1", p, relayedFrame{streamIndex: 0, typ: base.StreamTypeRTP, payload: rtpFrame(t, 1)})
	r.Relay("/cam1", p, relayedFrame{streamIndex: 0, typ: base.StreamTypeRTP, payload: rtpFrame(t, 2)})

	stats := l.Stats()
	require.Equal(t, uint64(1), stats.FramesRelayed)
	require.Equal(t, uint64(1), stats.FramesDropped)
	require.Equal(t, uint64(1), stats.StreamResets)

	close(conn.block)

	require.Eventually(t, func() bool {
		return len(conn.written()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the next frame is preceded by a sender report
	r.Relay("/cam1", p, relayedFrame{streamIndex: 0, typ: base.StreamTypeRTP, payload: rtpFrame(t, 3)})

	require.Eventually(t, func() bool {
		return len(conn.written()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	frames := conn.written()
	require.Equal(t, 0, frames[0].Channel)
	require.Equal(t, 1, frames[1].Channel)
	require.Equal(t, 0, frames[2].Channel)
	require.Equal(t, rtpFrame(t, 3), frames[2].Payload)

	pkts, err := rtcp.Unmarshal(frames[1].Payload)
	require.NoError(t, err)
	sr, ok := pkts[0].(*rtcp.SenderReport)
	require.True(t, ok)
	require.Equal(t, uint32(753621), sr.SSRC)

	stats = l.Stats()
	require.Equal(t, uint64(2), stats.FramesRelayed)
	require.Equal(t, uint64(1), stats.FramesDropped)
}

func TestSessionSetupErrors(t *testing.T) {
	r := &Registry{Logger: testLogger()}

	for _, ca := range []struct {
		name string
		url  string
		th   headers.Transport
		err  error
	}{
		{
			"udp",
			"rtsp://localhost/cam1/trackID=0",
			headers.Transport{Protocol: headers.TransportProtocolUDP},
			liberrors.ErrServerTransportUnsupported{Reason: "only interleaved TCP is supported"},
		},
		{
			"odd channels",
			"rtsp://localhost/cam1/trackID=0",
			headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				InterleavedIDs: &[2]int{1, 2},
			},
			liberrors.ErrServerInterleavedIDsInvalid{IDs: [2]int{1, 2}},
		},
		{
			"channel in use",
			"rtsp://localhost/cam1/trackID=1",
			headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				InterleavedIDs: &[2]int{0, 1},
			},
			liberrors.ErrServerChannelInUse{Channel: 0},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			s := newTestSession(t, r, "/cam1", SessionModePlaying, &testSessionConn{})
			require.NoError(t, s.transition(base.Describe))
			require.NoError(t, s.setSDP(testSDP))

			_, err := s.setupStream(base.MustParseURL("rtsp://localhost/cam1/trackID=0"), &headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				InterleavedIDs: &[2]int{0, 1},
			})
			require.NoError(t, err)

			_, err = s.setupStream(base.MustParseURL(ca.url), &ca.th)
			require.Equal(t, ca.err, err)

			// state is left unchanged
			require.Equal(t, SessionStateSetup, s.State())
			require.Len(t, s.Stats().Streams, 1)
		})
	}
}

func TestSessionSetupStreamNotFound(t *testing.T) {
	r := &Registry{Logger: testLogger()}

	s := newTestSession(t, r, "/cam1", SessionModePlaying, &testSessionConn{})
	require.NoError(t, s.transition(base.Describe))
	require.NoError(t, s.setSDP(testSDP))

	_, err := s.setupStream(base.MustParseURL("rtsp://localhost/cam1/trackID=5"), &headers.Transport{
		Protocol: headers.TransportProtocolTCP,
	})
	var snf liberrors.ErrServerStreamNotFound
	require.ErrorAs(t, err, &snf)
	require.Equal(t, SessionStateDescribing, s.State())
}
