// Package video is the Reed-Solomon-protected video packetizer. It pulls
// encoded frames off the session's video queue, shards and FEC-encodes each
// one, and best-effort UDP-sends the result to the peer discovered via PING.
package video

import (
	"bytes"
	"context"
	"log"
	"net"
	"time"

	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/fec"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/wire"
)

const (
	h264IDRNeedle = "\x00\x00\x01\x65"
	h264IDRFixed  = "\x00\x00\x00\x01\x65"
	hevcIDRNeedle = "\x00\x00\x01\x28"
	hevcIDRFixed  = "\x00\x00\x00\x01\x28"

	pingDiscoveryPoll = 100 * time.Millisecond
	startingPoll      = time.Millisecond
)

var pingPayload = []byte("PING")

// Streamer runs the video send loop for one session.
type Streamer struct {
	Port   int
	Logger *log.Logger
	Source capture.VideoSource
}

// New builds a Streamer bound to port, logging through logger, pulling
// encoded frames from source.
func New(port int, logger *log.Logger, source capture.VideoSource) *Streamer {
	return &Streamer{Port: port, Logger: logger, Source: source}
}

// Run executes the full lifecycle: wait out STARTING, bind, discover the
// peer, spawn the capture collaborator, and drain frames until the queue is
// stopped. Callers spawn Run on its own goroutine and must have already
// called sess.WaitGroup().Add(1).
func (s *Streamer) Run(sess *session.Session) {
	defer sess.WaitGroup().Done()

	for sess.State() == session.Starting {
		time.Sleep(startingPoll)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.Port})
	if err != nil {
		s.Logger.Printf("video: listen on port %d: %v", s.Port, err)
		sess.Stop()
		return
	}
	defer conn.Close()

	peer, err := s.discoverPeer(conn, sess)
	if err != nil {
		s.Logger.Printf("video: peer discovery: %v", err)
		sess.Stop()
		return
	}

	captureCtx, cancelCapture := context.WithCancel(context.Background())
	defer cancelCapture()

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- s.Source.Start(captureCtx, sess.VideoQueue)
	}()

	idrDone := make(chan struct{})
	go func() {
		defer close(idrDone)
		s.watchIDR(sess)
	}()

	s.drain(sess, conn, peer)

	cancelCapture()
	<-captureDone
	<-idrDone
}

// watchIDR forwards IDR-refresh requests raised by the control channel to
// the capture collaborator until the session's IDR event is stopped.
func (s *Streamer) watchIDR(sess *session.Session) {
	for {
		rng, ok := sess.IDREvents.Pop()
		if !ok {
			return
		}
		s.Source.RequestIDR(rng.FirstFrame, rng.LastFrame)
	}
}

// discoverPeer blocks reading datagrams until one is exactly the literal
// "PING", returning the address it arrived from.
func (s *Streamer) discoverPeer(conn *net.UDPConn, sess *session.Session) (*net.UDPAddr, error) {
	deadline := time.Now().Add(sess.PingTimeout)
	buf := make([]byte, 64)

	for {
		if time.Now().After(deadline) {
			return nil, session.ErrPingTimeout
		}
		conn.SetReadDeadline(time.Now().Add(pingDiscoveryPoll))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, err
		}
		if bytes.Equal(buf[:n], pingPayload) {
			return addr, nil
		}
	}
}

// drain pops frames from the session video queue until it is stopped,
// packetizing and sending each one to peer.
func (s *Streamer) drain(sess *session.Session, conn *net.UDPConn, peer *net.UDPAddr) {
	blockSize := sess.Config.PacketSize + wire.MaxRTPHeaderSize
	payloadSize := blockSize - wire.VideoHeaderSize
	fecPercentage := sess.Config.Monitor.FECPercentage
	isH264 := sess.Config.Monitor.VideoFormat == 0

	var lowseq uint32

	for {
		frame, ok := sess.VideoQueue.Pop()
		if !ok {
			sess.Stop()
			return
		}

		payload := prependMarker(frame.Data)
		if frame.IsKeyframe {
			payload = fixupNALUStartCode(payload, isH264)
		}

		n := s.sendFrame(conn, peer, payload, blockSize, payloadSize, fecPercentage, frame.PTS, lowseq)
		if n > 0 {
			lowseq += uint32(n)
		}
	}
}

func prependMarker(data []byte) []byte {
	out := make([]byte, 0, len(wire.NVVideoMarker)+len(data))
	out = append(out, wire.NVVideoMarker...)
	out = append(out, data...)
	return out
}

// fixupNALUStartCode forces a 4-byte start code ahead of the IDR slice NALU,
// tolerant of encoders that already emit the 4-byte form.
func fixupNALUStartCode(data []byte, isH264 bool) []byte {
	needle, fixed := h264IDRNeedle, h264IDRFixed
	if !isH264 {
		needle, fixed = hevcIDRNeedle, hevcIDRFixed
	}

	idx := bytes.Index(data, []byte(needle))
	if idx < 0 {
		return data
	}
	if idx > 0 && data[idx-1] == 0 {
		// Already the 4-byte form: leave the payload unchanged.
		return data
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, data[:idx]...)
	out = append(out, fixed...)
	out = append(out, data[idx+len(needle):]...)
	return out
}

// buildShards slices payload into headered, FEC-protected shards ready to
// send. Pure and side-effect free aside from the fec package's matrix cache.
func buildShards(payload []byte, blockSize, payloadSize, fecPercentage int, pts uint32, lowseq uint32) (*fec.Shards, error) {
	dataShards := (len(payload) + payloadSize - 1) / payloadSize
	if dataShards == 0 {
		dataShards = 1
	}

	buf := make([]byte, dataShards*blockSize)
	for i := 0; i < dataShards; i++ {
		dst := buf[i*blockSize : (i+1)*blockSize]

		flags := wire.FlagContainsPicData
		if i == 0 {
			flags |= wire.FlagSOF
		}
		if i == dataShards-1 {
			flags |= wire.FlagEOF
		}

		wire.PutVideoShardHeader(dst, uint16(lowseq+uint32(i)), wire.VideoShardHeader{
			Flags:             flags,
			FrameIndex:        pts,
			StreamPacketIndex: (lowseq + uint32(i)) << 8,
			FECInfo:           wire.FECInfo(i, dataShards, fecPercentage),
		})

		start := i * payloadSize
		end := start + payloadSize
		if end > len(payload) {
			end = len(payload)
		}
		copy(dst[wire.VideoHeaderSize:], payload[start:end])
	}

	shards, err := fec.Encode(buf, blockSize, fecPercentage)
	if err != nil {
		return nil, err
	}

	for i := dataShards; i < shards.Total(); i++ {
		shard := shards.Shard(i)
		wire.PatchParityShardHeader(shard, uint16(lowseq+uint32(i)), pts, wire.FECInfo(i, dataShards, fecPercentage))
	}

	return shards, nil
}

// sendFrame shards, FEC-encodes, and best-effort sends one frame. Returns the
// number of shards sent (0 on FEC overflow, in which case the frame is
// dropped entirely).
func (s *Streamer) sendFrame(conn *net.UDPConn, peer *net.UDPAddr, payload []byte, blockSize, payloadSize int, fecPercentage int, pts uint32, lowseq uint32) int {
	shards, err := buildShards(payload, blockSize, payloadSize, fecPercentage, pts, lowseq)
	if err != nil {
		s.Logger.Printf("video: dropping frame pts=%d: %v", pts, err)
		return 0
	}

	for i := 0; i < shards.Total(); i++ {
		conn.WriteToUDP(shards.Shard(i), peer)
	}

	return shards.Total()
}
