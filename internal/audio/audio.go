// Package audio is the RTP audio packetizer. It pulls fixed-size opus frames
// off the session's audio queue, wraps each in a 12-byte RTP header, and
// UDP-sends it to the peer discovered via PING. Same startup/shutdown shape
// as internal/video.
package audio

import (
	"bytes"
	"context"
	"log"
	"net"
	"time"

	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/wire"
)

const (
	pingDiscoveryPoll = 100 * time.Millisecond
	startingPoll      = time.Millisecond
)

var pingPayload = []byte("PING")

// Streamer runs the audio send loop for one session.
type Streamer struct {
	Port   int
	Logger *log.Logger
	Source capture.AudioSource
}

// New builds a Streamer bound to port, logging through logger, pulling opus
// frames from source.
func New(port int, logger *log.Logger, source capture.AudioSource) *Streamer {
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
		s.Logger.Printf("audio: listen on port %d: %v", s.Port, err)
		sess.Stop()
		return
	}
	defer conn.Close()

	peer, err := s.discoverPeer(conn, sess)
	if err != nil {
		s.Logger.Printf("audio: peer discovery: %v", err)
		sess.Stop()
		return
	}

	captureCtx, cancelCapture := context.WithCancel(context.Background())
	defer cancelCapture()

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- s.Source.Start(captureCtx, sess.AudioQueue)
	}()

	s.drain(sess, conn, peer)

	cancelCapture()
	<-captureDone
}

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

// drain pops opus frames from the session audio queue until it is stopped,
// wrapping each in an RTP header and sending it to peer. The first datagram
// on the wire carries sequence 1, not 0; Moonlight has only ever been fed
// 1-based audio sequences, so keep it that way.
func (s *Streamer) drain(sess *session.Session, conn *net.UDPConn, peer *net.UDPAddr) {
	var seq uint16 = 1

	for {
		frame, ok := sess.AudioQueue.Pop()
		if !ok {
			sess.Stop()
			return
		}

		datagram := make([]byte, wire.RTPHeaderSize+len(frame))
		wire.PutAudioPacket(datagram, seq, frame)
		conn.WriteToUDP(datagram, peer)
		seq++
	}
}
