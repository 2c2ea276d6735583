package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// LaunchSession is the one-shot handoff produced by the out-of-scope launch
// endpoint and consumed by ANNOUNCE.
type LaunchSession struct {
	GCMKey     [16]byte
	IV         [16]byte
	HasProcess bool
}

// AudioConfig is populated from the ANNOUNCE SDP body.
type AudioConfig struct {
	Channels         int
	Mask             int
	PacketDurationMs int
}

// MonitorConfig is populated from the ANNOUNCE SDP body. VideoFormat == 0
// selects H.264; any other value selects HEVC.
type MonitorConfig struct {
	Height         int
	Width          int
	Framerate      int
	BitrateKbps    int
	SlicesPerFrame int
	NumRefFrames   int
	EncoderCscMode int
	VideoFormat    int
	DynamicRange   int
	FECPercentage  int
}

// Config is the session-wide configuration negotiated by ANNOUNCE.
type Config struct {
	PacketSize int
	Audio      AudioConfig
	Monitor    MonitorConfig
}

// EncodedFrame is one frame pulled from the out-of-scope video capture
// collaborator.
type EncodedFrame struct {
	Data       []byte
	PTS        uint32
	IsKeyframe bool
}

// IDRRange carries a client-requested reference-frame invalidation range.
type IDRRange struct {
	FirstFrame int64
	LastFrame  int64
}

// Session is the process-wide singleton streaming session. Exactly one
// session is ever non-STOPPED; worker goroutines are handed a pointer to it
// at spawn time rather than closing over a package-level global, so the
// RTSP server and the session never hold a cyclic reference to each other.
type Session struct {
	state stateAtom

	Config Config

	// InstanceID tags log lines for one ANNOUNCE-to-STOPPED lifetime, so
	// reconnects after a dropped session don't interleave in the log.
	InstanceID string

	GCMKey     [16]byte
	ivMu       sync.Mutex
	iv         [16]byte
	HasProcess bool

	pingDeadline atomic.Int64 // UnixNano
	PingTimeout  time.Duration

	VideoQueue *Queue[EncodedFrame]
	AudioQueue *Queue[[]byte]
	IDREvents  *Event[IDRRange]

	wg sync.WaitGroup

	// Launch is the single-slot handoff ANNOUNCE consumes. Populated by the
	// out-of-scope launch endpoint via Offer.
	Launch *Event[LaunchSession]
}

// New creates a STOPPED session ready to accept ANNOUNCE.
func New(pingTimeout time.Duration) *Session {
	return &Session{
		PingTimeout: pingTimeout,
		Launch:      NewEvent[LaunchSession](),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.Load()
}

// Offer stages a launch handoff for the next ANNOUNCE to consume.
func (s *Session) Offer(ls LaunchSession) {
	s.Launch.Raise(ls)
}

// IV returns a copy of the current rolling input IV.
func (s *Session) IV() [16]byte {
	s.ivMu.Lock()
	defer s.ivMu.Unlock()
	return s.iv
}

// SetIV replaces the rolling input IV (called by the control channel after a
// successfully decrypted INPUT_DATA packet whose ciphertext was long enough
// to carry a fresh IV).
func (s *Session) SetIV(iv [16]byte) {
	s.ivMu.Lock()
	defer s.ivMu.Unlock()
	s.iv = iv
}

// ResetPingDeadline pushes the ping deadline PingTimeout into the future.
// Called by the control channel on every recognized incoming packet.
func (s *Session) ResetPingDeadline() {
	s.pingDeadline.Store(time.Now().Add(s.PingTimeout).UnixNano())
}

// PingDeadlineExpired reports whether the ping deadline has passed.
func (s *Session) PingDeadlineExpired() bool {
	return time.Now().UnixNano() > s.pingDeadline.Load()
}

// Stop is the idempotent cooperative-shutdown trigger: it wakes every queue
// waiter and attempts the RUNNING->STOPPING transition. Safe to call from
// any goroutine, any number of times.
func (s *Session) Stop() {
	if s.VideoQueue != nil {
		s.VideoQueue.Stop()
	}
	if s.AudioQueue != nil {
		s.AudioQueue.Stop()
	}
	if s.IDREvents != nil {
		s.IDREvents.Stop()
	}
	s.state.CompareAndSwap(Running, Stopping)
}

// BeginStarting performs the STOPPED->STARTING CAS that guards ANNOUNCE
// against concurrent or duplicate session setup. Returns false if a session
// is already active.
func (s *Session) BeginStarting() bool {
	return s.state.CompareAndSwap(Stopped, Starting)
}

// AbortStarting reverts STARTING back to STOPPED; used when ANNOUNCE's own
// validation fails after the CAS has already claimed the session.
func (s *Session) AbortStarting() {
	s.state.Store(Stopped)
}

// MarkRunning finalizes ANNOUNCE once all three worker goroutines have been
// spawned.
func (s *Session) MarkRunning() {
	s.state.Store(Running)
}

// WaitGroup exposes the worker-goroutine join handle for the three streamers.
func (s *Session) WaitGroup() *sync.WaitGroup {
	return &s.wg
}

// ResetQueues replaces the video/audio queues and IDR event channel with
// fresh ones, called from ANNOUNCE before spawning workers.
func (s *Session) ResetQueues() {
	s.VideoQueue = NewQueue[EncodedFrame]()
	s.AudioQueue = NewQueue[[]byte]()
	s.IDREvents = NewEvent[IDRRange]()
}

// DrainQueues drops the video/audio queues and IDR event channel, pending
// frames included, leaving them nil until the next ResetQueues. Called during
// the STOPPING->STOPPED shutdown step.
func (s *Session) DrainQueues() {
	s.VideoQueue = nil
	s.AudioQueue = nil
	s.IDREvents = nil
}

// MarkStopped completes the STOPPING->STOPPED transition.
func (s *Session) MarkStopped() {
	s.state.Store(Stopped)
}
