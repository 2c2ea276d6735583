// Package rtsp implements the session setup state machine: OPTIONS,
// DESCRIBE, SETUP, ANNOUNCE, and PLAY over the reliable-UDP transport.
// ANNOUNCE drives the session lifecycle; the listener goroutine also owns
// the STOPPING->STOPPED teardown pass.
package rtsp

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvstream/hostcore/internal/audio"
	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/control"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/transport"
	"github.com/nvstream/hostcore/internal/video"
)

const pollInterval = 500 * time.Millisecond

// describeH264Body and describeHEVCBody are the normative DESCRIBE response
// bodies, character-for-character as Moonlight expects.
const (
	describeH264Body = "surround-params=NONE"
	describeHEVCBody = "sprop-parameter-sets=AAAAAU;surround-params=NONE"

	// setupSessionOption is the exact literal (including the internal
	// spaces around '=') SETUP responds with for the audio stream.
	setupSessionOption = "DEADBEEFCAFE;timeout = 90"
)

// Server is the RTSP setup listener for one process-wide session.
type Server struct {
	Port          int
	Logger        *log.Logger
	HEVCEnabled   bool
	FECPercentage int

	Video   *video.Streamer
	Audio   *audio.Streamer
	Control *control.Controller
	Input   capture.InputInjector

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds a Server. The video/audio/control streamers are pre-constructed
// (bound to their ports and capture collaborators) and spawned by ANNOUNCE.
func New(port int, logger *log.Logger, hevcEnabled bool, fecPercentage int, v *video.Streamer, a *audio.Streamer, c *control.Controller, input capture.InputInjector) *Server {
	return &Server{
		Port:          port,
		Logger:        logger,
		HEVCEnabled:   hevcEnabled,
		FECPercentage: fecPercentage,
		Video:         v,
		Audio:         a,
		Control:       c,
		Input:         input,
		quit:          make(chan struct{}),
	}
}

// Shutdown asks Run to tear down any active session and return. Idempotent;
// safe to call from a signal handler goroutine.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run listens and serves RTSP requests for sess until Shutdown is called.
// It returns an error only if the listener cannot be created; poll errors
// are logged and the loop continues. It also drives the STOPPING->STOPPED
// shutdown sequence each time it observes the session in STOPPING.
func (s *Server) Run(sess *session.Session) error {
	host, err := transport.Listen(uint16(s.Port))
	if err != nil {
		return err
	}
	defer host.Destroy()

	var pending []byte

	for {
		select {
		case <-s.quit:
			s.quiesce(sess)
			return nil
		default:
		}

		if sess.State() == session.Stopping {
			s.shutdown(sess)
		}

		ev, err := host.Poll(pollInterval)
		if err != nil {
			s.Logger.Printf("rtsp: poll: %v", err)
			continue
		}

		if ev.Kind != transport.EventReceive {
			continue
		}

		raw := ev.Data
		if pending != nil {
			raw = append(pending, raw...)
			pending = nil
		} else if hasContentLength(raw) {
			pending = append([]byte(nil), raw...)
			continue
		}

		req := parseRequest(raw)
		resp := s.dispatch(sess, req)
		if err := transport.SendTo(ev.Peer, host.HostHandle(), resp.Serialize()); err != nil {
			s.Logger.Printf("rtsp: send response: %v", err)
		}
	}
}

// quiesce tears down whatever session is active when the server itself is
// asked to stop: waits out a STARTING session, triggers the cooperative
// stop, then joins and resets as a normal STOPPING pass would.
func (s *Server) quiesce(sess *session.Session) {
	for sess.State() == session.Starting {
		time.Sleep(time.Millisecond)
	}
	if sess.State() == session.Stopped {
		return
	}
	sess.Stop()
	s.shutdown(sess)
}

// shutdown joins the three session workers, drains queues, resets the input
// injector, and marks the session STOPPED. A single shared WaitGroup joins
// all three worker goroutines together; a fixed audio/video/control join
// order would have no observable effect once every worker is guaranteed to
// have exited before DrainQueues runs.
func (s *Server) shutdown(sess *session.Session) {
	sess.WaitGroup().Wait()
	sess.DrainQueues()
	if s.Input != nil {
		s.Input.Reset()
	}
	s.Logger.Printf("rtsp: session %s stopped", sess.InstanceID)
	sess.MarkStopped()
}

func (s *Server) dispatch(sess *session.Session, req *Request) *Response {
	switch req.Method {
	case "OPTIONS":
		return s.handleOptions(req)
	case "DESCRIBE":
		return s.handleDescribe(req)
	case "SETUP":
		return s.handleSetup(sess, req)
	case "ANNOUNCE":
		return s.handleAnnounce(sess, req)
	case "PLAY":
		return s.handlePlay(req)
	default:
		return respond(req.CSeq, 404, "NOT FOUND", "")
	}
}

func (s *Server) handleOptions(req *Request) *Response {
	return respond(req.CSeq, 200, "OK", "")
}

func (s *Server) handleDescribe(req *Request) *Response {
	body := describeH264Body
	if s.HEVCEnabled {
		body = describeHEVCBody
	}
	return respond(req.CSeq, 200, "OK", body)
}

func (s *Server) handleSetup(sess *session.Session, req *Request) *Response {
	if sess.VideoQueue != nil {
		return respond(req.CSeq, 503, "Service Unavailable", "")
	}

	streamType := parseStreamType(req.Target)

	switch streamType {
	case "audio":
		return respond(req.CSeq, 200, "OK", "", Header{Name: "Session", Value: setupSessionOption})
	case "video", "control":
		return respond(req.CSeq, 200, "OK", "")
	default:
		return respond(req.CSeq, 404, "NOT FOUND", "")
	}
}

// parseStreamType extracts <type> out of a SETUP target of the form
// "...streamid=<type>/...".
func parseStreamType(target string) string {
	idx := strings.Index(target, "streamid=")
	if idx < 0 {
		return ""
	}
	rest := target[idx+len("streamid="):]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func (s *Server) handleAnnounce(sess *session.Session, req *Request) *Response {
	if !sess.BeginStarting() {
		return respond(req.CSeq, 503, "Service Unavailable", "")
	}

	if !sess.Launch.Peek() {
		s.Logger.Printf("rtsp: %v", session.ErrNoLaunchHandoff)
		sess.AbortStarting()
		return respond(req.CSeq, 503, "Service Unavailable", "")
	}

	launch, ok := sess.Launch.Pop()
	if !ok {
		sess.AbortStarting()
		return respond(req.CSeq, 503, "Service Unavailable", "")
	}

	cfg, err := parseAnnounceBody(req.Body, s.FECPercentage)
	if err != nil {
		sess.AbortStarting()
		return respond(req.CSeq, 400, "BAD REQUEST", "")
	}

	if cfg.Monitor.VideoFormat != 0 && !s.HEVCEnabled {
		s.Logger.Printf("rtsp: %v: HEVC requested but disabled", session.ErrClientProtocol)
		sess.AbortStarting()
		return respond(req.CSeq, 400, "BAD REQUEST", "")
	}

	sess.Config = cfg
	sess.InstanceID = uuid.New().String()[:8]
	sess.GCMKey = launch.GCMKey
	sess.SetIV(launch.IV)
	sess.HasProcess = launch.HasProcess
	sess.ResetPingDeadline()
	sess.ResetQueues()

	sess.WaitGroup().Add(3)
	go s.Video.Run(sess)
	go s.Audio.Run(sess)
	go s.Control.Run(sess)

	sess.MarkRunning()
	s.Logger.Printf("rtsp: session %s started", sess.InstanceID)
	return respond(req.CSeq, 200, "OK", "")
}

func (s *Server) handlePlay(req *Request) *Response {
	return respond(req.CSeq, 200, "OK", "")
}
