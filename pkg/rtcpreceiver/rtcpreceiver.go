// Package rtcpreceiver contains a utility to keep track of the state of a
// RTP stream and to generate RTCP receiver reports.
package rtcpreceiver

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtsprelay/pkg/ntp"
	"github.com/bluenviron/rtsprelay/pkg/timeunit"
)

// RandUint32 returns a random uint32, used for SSRCs.
func RandUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// NtpTime pairs the NTP timestamp of a sender report with the RTP timestamp
// it corresponds to.
type NtpTime struct {
	NTP      uint64
	RTP      uint32
	Received time.Time
}

// At returns the NTP and RTP timestamps at the given instant,
// moving forward from the sender report.
func (t NtpTime) At(now time.Time, tu timeunit.TimeUnit) (uint64, uint32) {
	elapsed := now.Sub(t.Received)
	if elapsed < 0 {
		elapsed = 0
	}

	ntpv := ntp.Encode(ntp.Decode(t.NTP).Add(elapsed))
	rtpv := t.RTP + uint32(tu.FromDuration(elapsed))

	return ntpv, rtpv
}

// Participant is a RTCP participant.
type Participant struct {
	SSRC     uint32
	CNAME    string
	LastSeen time.Time
}

// Stats are statistics of a Receiver.
type Stats struct {
	PacketsReceived uint64
	PacketsLost     uint32
	Jitter          float64
}

// Receiver keeps track of a RTP stream.
type Receiver struct {
	timeUnit     timeunit.TimeUnit
	receiverSSRC uint32
	mutex        sync.Mutex

	// data from RTP packets
	firstRTPPacketReceived bool
	sequenceNumberCycles   uint16
	lastSequenceNumber     uint16
	senderSSRC             uint32
	lastTimeRTP            uint32
	lastTimeSystem         time.Time
	totalReceived          uint64
	totalLost              uint32
	totalLostSinceReport   uint32
	totalSinceReport       uint32
	jitter                 float64

	// data from RTCP packets
	ntpTime      *NtpTime
	participants map[uint32]*Participant
}

// New allocates a Receiver.
// If receiverSSRC is nil, a random one is generated.
func New(receiverSSRC *uint32, tu timeunit.TimeUnit) (*Receiver, error) {
	if receiverSSRC == nil {
		v, err := RandUint32()
		if err != nil {
			return nil, err
		}
		receiverSSRC = &v
	}

	if !tu.Valid() {
		return nil, fmt.Errorf("invalid time unit %v", tu)
	}

	return &Receiver{
		timeUnit:     tu,
		receiverSSRC: *receiverSSRC,
		participants: make(map[uint32]*Participant),
	}, nil
}

// ReceiverSSRC returns the SSRC used in receiver reports.
func (rr *Receiver) ReceiverSSRC() uint32 {
	return rr.receiverSSRC
}

// Reset clears the state of the stream, keeping participants and synchronization.
func (rr *Receiver) Reset() {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	rr.firstRTPPacketReceived = false
	rr.sequenceNumberCycles = 0
	rr.totalLostSinceReport = 0
	rr.totalSinceReport = 0
	rr.jitter = 0
}

// Report generates a RTCP receiver report.
// It returns nil if no RTP packet has been received yet.
func (rr *Receiver) Report(system time.Time) *rtcp.ReceiverReport {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstRTPPacketReceived {
		return nil
	}

	report := &rtcp.ReceiverReport{
		SSRC: rr.receiverSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               rr.senderSSRC,
				LastSequenceNumber: uint32(rr.sequenceNumberCycles)<<16 | uint32(rr.lastSequenceNumber),
				TotalLost:          rr.totalLost,
				Jitter:             uint32(rr.jitter),
			},
		},
	}

	if rr.totalSinceReport != 0 {
		// equivalent to taking the integer part after multiplying the
		// loss fraction by 256
		report.Reports[0].FractionLost = uint8(uint64(rr.totalLostSinceReport) * 256 / uint64(rr.totalSinceReport))
	}

	if rr.ntpTime != nil {
		report.Reports[0].LastSenderReport = ntp.Middle32(rr.ntpTime.NTP)
		report.Reports[0].Delay = ntp.Delay(system.Sub(rr.ntpTime.Received))
	}

	rr.totalLostSinceReport = 0
	rr.totalSinceReport = 0

	return report
}

// ProcessPacketRTP extracts the needed data from RTP packets.
func (rr *Receiver) ProcessPacketRTP(system time.Time, pkt *rtp.Packet) error {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	rr.totalReceived++

	// first packet
	if !rr.firstRTPPacketReceived {
		rr.firstRTPPacketReceived = true
		rr.totalSinceReport = 1
		rr.lastSequenceNumber = pkt.SequenceNumber
		rr.senderSSRC = pkt.SSRC
		rr.lastTimeRTP = pkt.Timestamp
		rr.lastTimeSystem = system
		return nil
	}

	if pkt.SSRC != rr.senderSSRC {
		return fmt.Errorf("received packet with wrong SSRC %d, expected %d", pkt.SSRC, rr.senderSSRC)
	}

	diff := int32(pkt.SequenceNumber) - int32(rr.lastSequenceNumber)

	// overflow
	if diff < -0x0FFF {
		rr.sequenceNumberCycles++
	}

	// detect lost packets
	if pkt.SequenceNumber != (rr.lastSequenceNumber + 1) {
		lost := uint32(uint16(diff) - 1)
		rr.totalLost += lost
		rr.totalLostSinceReport += lost

		// allow up to 24 bits
		if rr.totalLost > 0xFFFFFF {
			rr.totalLost = 0xFFFFFF
		}
		if rr.totalLostSinceReport > 0xFFFFFF {
			rr.totalLostSinceReport = 0xFFFFFF
		}
	}

	rr.totalSinceReport += uint32(uint16(diff))
	rr.lastSequenceNumber = pkt.SequenceNumber

	// https://tools.ietf.org/html/rfc3550#page-39
	d := float64(rr.timeUnit.FromDuration(system.Sub(rr.lastTimeSystem))) -
		(float64(pkt.Timestamp) - float64(rr.lastTimeRTP))
	if d < 0 {
		d = -d
	}
	rr.jitter += (d - rr.jitter) / 16

	rr.lastTimeRTP = pkt.Timestamp
	rr.lastTimeSystem = system

	return nil
}

func (rr *Receiver) touch(ssrc uint32, system time.Time) *Participant {
	p, ok := rr.participants[ssrc]
	if !ok {
		p = &Participant{SSRC: ssrc}
		rr.participants[ssrc] = p
	}
	p.LastSeen = system
	return p
}

// ProcessPacketRTCP extracts the needed data from RTCP packets.
func (rr *Receiver) ProcessPacketRTCP(system time.Time, pkt rtcp.Packet) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	switch pkt := pkt.(type) {
	case *rtcp.SenderReport:
		rr.touch(pkt.SSRC, system)
		rr.ntpTime = &NtpTime{
			NTP:      pkt.NTPTime,
			RTP:      pkt.RTPTime,
			Received: system,
		}

	case *rtcp.ReceiverReport:
		rr.touch(pkt.SSRC, system)

	case *rtcp.SourceDescription:
		for _, chunk := range pkt.Chunks {
			p := rr.touch(chunk.Source, system)
			for _, item := range chunk.Items {
				if item.Type == rtcp.SDESCNAME {
					p.CNAME = item.Text
				}
			}
		}

	case *rtcp.Goodbye:
		for _, ssrc := range pkt.Sources {
			delete(rr.participants, ssrc)
		}

	case *rtcp.ApplicationDefined:
		rr.touch(pkt.SSRC, system)
	}
}

// NtpTime returns the synchronization point of the last sender report.
func (rr *Receiver) NtpTime() (NtpTime, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if rr.ntpTime == nil {
		return NtpTime{}, false
	}
	return *rr.ntpTime, true
}

// PacketNTP returns the NTP timestamp of a packet.
func (rr *Receiver) PacketNTP(ts uint32) (time.Time, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if rr.ntpTime == nil {
		return time.Time{}, false
	}

	timeDiff := int64(int32(ts - rr.ntpTime.RTP))

	return ntp.Decode(rr.ntpTime.NTP).Add(rr.timeUnit.ToDuration(timeDiff)), true
}

// SenderSSRC returns the SSRC of incoming RTP packets.
func (rr *Receiver) SenderSSRC() (uint32, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()
	return rr.senderSSRC, rr.firstRTPPacketReceived
}

// LastRTP returns sequence number and timestamp of the last RTP packet.
func (rr *Receiver) LastRTP() (uint16, uint32, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()
	return rr.lastSequenceNumber, rr.lastTimeRTP, rr.firstRTPPacketReceived
}

// Participant returns a participant by SSRC.
func (rr *Receiver) Participant(ssrc uint32) (Participant, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	p, ok := rr.participants[ssrc]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns all participants, sorted by SSRC.
func (rr *Receiver) Participants() []Participant {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	ret := make([]Participant, 0, len(rr.participants))
	for _, p := range rr.participants {
		ret = append(ret, *p)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].SSRC < ret[j].SSRC
	})

	return ret
}

// Stats returns statistics.
func (rr *Receiver) Stats() Stats {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	return Stats{
		PacketsReceived: rr.totalReceived,
		PacketsLost:     rr.totalLost,
		Jitter:          rr.jitter,
	}
}

// SenderReport generates a RTCP sender report for a stream forwarded with the given SSRC,
// aligned with the synchronization point of the last sender report received.
func SenderReport(ssrc uint32, sync NtpTime, tu timeunit.TimeUnit, now time.Time) *rtcp.SenderReport {
	ntpv, rtpv := sync.At(now, tu)
	return &rtcp.SenderReport{
		SSRC:    ssrc,
		NTPTime: ntpv,
		RTPTime: rtpv,
	}
}
