package consult

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96

	opusFrameDuration = 20 * time.Millisecond
	vp8FrameDuration  = 100 * time.Millisecond

	opusClockRate = 48000
	vp8ClockRate  = 90000
)

// MediaSource is the session's handle on local capture. Stop releases the
// devices; it must be safe to call during teardown regardless of where the
// session failed.
type MediaSource interface {
	Stop()
}

// LocalMedia owns the local audio and video tracks. This is a headless
// client, so "capture" means keepalive RTP streams: a silent Opus track and
// an empty VP8 track that keep the transceivers alive and give the remote
// side real packet flow to measure.
type LocalMedia struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rtcpPackets atomic.Int64
}

func NewLocalMedia() (*LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "medlink",
	)
	if err != nil {
		return nil, mediaError(err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: vp8ClockRate},
		"video", "medlink",
	)
	if err != nil {
		return nil, mediaError(err)
	}

	m := &LocalMedia{
		audio: audio,
		video: video,
		stop:  make(chan struct{}),
	}

	m.wg.Add(2)
	go m.writeLoop(audio, opusPayloadType, opusFrameDuration, opusTimestampStep())
	go m.writeLoop(video, vp8PayloadType, vp8FrameDuration, vp8TimestampStep())

	return m, nil
}

func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func opusTimestampStep() uint32 {
	return uint32(opusClockRate / int(time.Second/opusFrameDuration))
}

func vp8TimestampStep() uint32 {
	return uint32(vp8ClockRate / int(time.Second/vp8FrameDuration))
}

// writeLoop emits one minimal RTP packet per frame interval. Write errors
// other than ErrClosedPipe are ignored too: the track simply is not bound to
// a sender yet.
func (m *LocalMedia) writeLoop(track *webrtc.TrackLocalStaticRTP, payloadType uint8, interval time.Duration, tsStep uint32) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: uint16(rand.Intn(1 << 16)),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: []byte{0x00},
	}

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			pkt.Header.SequenceNumber++
			pkt.Header.Timestamp += tsStep
			if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return
			}
		}
	}
}

// DrainRTCP consumes RTCP reports for a sender. Without this the
// interceptors never see feedback; the packet count doubles as a cheap link
// liveness signal.
func (m *LocalMedia) DrainRTCP(sender *webrtc.RTPSender) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		buf := make([]byte, 1500)
		for {
			n, _, err := sender.Read(buf)
			if err != nil {
				return
			}
			if pkts, err := rtcp.Unmarshal(buf[:n]); err == nil {
				m.rtcpPackets.Add(int64(len(pkts)))
			}
		}
	}()
}

// RTCPReceived reports how many RTCP packets arrived across all senders.
func (m *LocalMedia) RTCPReceived() int64 {
	return m.rtcpPackets.Load()
}

// Stop halts the keepalive writers. Sender RTCP drains exit when the peer
// connection closes their senders.
func (m *LocalMedia) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}
