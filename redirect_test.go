package rtsprelay

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/conn"
)

func TestRedirectLocation(t *testing.T) {
	for _, ca := range []struct {
		name   string
		target string
		url    *base.URL
		loc    string
	}{
		{
			"standard",
			"rtsp://relay:8554",
			base.MustParseURL("rtsp://gateway:554/cam1"),
			"rtsp://relay:8554/proxy/cam1",
		},
		{
			"nested path and query",
			"rtsp://relay:8554/",
			base.MustParseURL("rtsp://gateway/live/cam1?token=abc"),
			"rtsp://relay:8554/proxy/live/cam1?token=abc",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			loc, err := redirectLocation(ca.target, ca.url)
			require.NoError(t, err)
			require.Equal(t, ca.loc, loc)
		})
	}

	_, err := redirectLocation("rtsp://relay:8554", nil)
	require.Error(t, err)

	_, err = redirectLocation("rtsp://relay:8554", base.MustParseURL("rtsp://gateway:554/"))
	require.Error(t, err)
}

func TestRedirectServer(t *testing.T) {
	s := &RedirectServer{
		RTSPAddress: "localhost:8556",
		Target:      "rtsp://relay:8554",
		Logger:      testLogger(),
	}
	require.NoError(t, s.Start())
	defer s.Close()

	nconn, err := net.Dial("tcp", "localhost:8556")
	require.NoError(t, err)
	defer nconn.Close()
	c := conn.NewConn(nconn)

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://localhost:8556/cam1"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusMovedPermanently, res.StatusCode)
	require.Equal(t, base.HeaderValue{"rtsp://relay:8554/proxy/cam1"}, res.Header["Location"])
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])

	res, err = writeReqReadRes(c, base.Request{
		Method: base.Options,
		Header: base.Header{"CSeq": base.HeaderValue{"2"}},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusBadRequest, res.StatusCode)
}
