// Package control is the reliable-UDP control-channel dispatcher: ping
// monitoring, input decryption, IDR-refresh requests, and process/peer
// termination.
package control

import (
	"encoding/binary"
	"log"
	"time"

	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/crypto"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/transport"
	"github.com/nvstream/hostcore/internal/wire"
)

const (
	startingPoll        = time.Millisecond
	controlPollInterval = 500 * time.Millisecond

	// terminationReason is the reason code sent alongside a server-initiated
	// TERMINATION when a launched process exits.
	terminationReason uint16 = 0x0100
)

// host is the subset of transport.Host the control loop drives, split out so
// tests can run the loop against an in-memory fake instead of a live ENet
// socket.
type host interface {
	Poll(timeout time.Duration) (transport.Event, error)
	Send(payload []byte) error
	Destroy()
}

// Controller runs the control-channel dispatch loop for one session.
type Controller struct {
	Port     int
	Logger   *log.Logger
	Injector capture.InputInjector
	Probe    capture.ProcessProbe

	// listen overrides how the loop acquires its transport; nil means a real
	// ENet host bound to Port.
	listen func() (host, error)
}

// New builds a Controller bound to port.
func New(port int, logger *log.Logger, injector capture.InputInjector, probe capture.ProcessProbe) *Controller {
	return &Controller{Port: port, Logger: logger, Injector: injector, Probe: probe}
}

// Run executes the dispatch loop until the session leaves RUNNING. Callers
// spawn Run on its own goroutine and must have already called
// sess.WaitGroup().Add(1).
func (c *Controller) Run(sess *session.Session) {
	defer sess.WaitGroup().Done()

	for sess.State() == session.Starting {
		time.Sleep(startingPoll)
	}

	listen := c.listen
	if listen == nil {
		listen = func() (host, error) { return transport.Listen(uint16(c.Port)) }
	}

	h, err := listen()
	if err != nil {
		c.Logger.Printf("control: listen on port %d: %v", c.Port, err)
		sess.Stop()
		return
	}
	defer h.Destroy()

	cipher, err := crypto.New(sess.GCMKey)
	if err != nil {
		c.Logger.Printf("control: building cipher: %v", err)
		sess.Stop()
		return
	}

	dispatch := c.buildDispatch(sess, cipher)

	for sess.State() == session.Running {
		if sess.PingDeadlineExpired() {
			c.Logger.Printf("control: %v", session.ErrPingTimeout)
			sess.Stop()
			break
		}

		if sess.HasProcess && c.Probe != nil && !c.Probe.Running() {
			c.Logger.Printf("control: %v", session.ErrProcessExited)
			h.Send(wire.BuildTerminationPacket(terminationReason))
			sess.Stop()
			break
		}

		ev, err := h.Poll(controlPollInterval)
		if err != nil {
			c.Logger.Printf("control: poll: %v", err)
			continue
		}

		switch ev.Kind {
		case transport.EventReceive:
			c.handle(sess, dispatch, ev.Data)
		case transport.EventDisconnect:
			if sess.State() == session.Running {
				c.Logger.Printf("control: %v", session.ErrPeerDisconnect)
				sess.Stop()
			}
		}
	}
}

func (c *Controller) handle(sess *session.Session, dispatch map[uint16]func([]byte), data []byte) {
	if len(data) < wire.CtrlTypeHeaderSize {
		return
	}
	ptype := wire.CtrlType(data)
	fn, ok := dispatch[ptype]
	if !ok {
		c.Logger.Printf("control: unknown packet type %#04x", ptype)
		return
	}
	sess.ResetPingDeadline()
	fn(data[wire.CtrlTypeHeaderSize:])
}

// buildDispatch returns the type-code -> handler table, keyed exactly as
// wire's CtrlXxx constants.
func (c *Controller) buildDispatch(sess *session.Session, cipher *crypto.Cipher) map[uint16]func([]byte) {
	noop := func([]byte) {}

	return map[uint16]func([]byte){
		wire.CtrlStartA:              noop,
		wire.CtrlStartB:              noop,
		wire.CtrlLossStats:           noop,
		wire.CtrlInvalidateRefFrames: c.handleInvalidateRefFrames(sess),
		wire.CtrlInputData:           c.handleInputData(sess, cipher),
	}
}

func (c *Controller) handleInvalidateRefFrames(sess *session.Session) func([]byte) {
	return func(payload []byte) {
		if len(payload) < 16 {
			return
		}
		first := int64(binary.LittleEndian.Uint64(payload[0:8]))
		last := int64(binary.LittleEndian.Uint64(payload[8:16]))
		sess.IDREvents.Raise(session.IDRRange{FirstFrame: first, LastFrame: last})
	}
}

// handleInputData parses the INPUT_DATA payload (big-endian i32 cipher
// length, followed by that many bytes of GCM ciphertext||tag), decrypts it
// against the session's rolling IV, rolls the IV forward from the
// ciphertext on success, and forwards the plaintext to the input injector.
// An authentication failure stops the session.
func (c *Controller) handleInputData(sess *session.Session, cipher *crypto.Cipher) func([]byte) {
	return func(payload []byte) {
		if len(payload) < 4 {
			return
		}
		cipherLen := int(int32(binary.BigEndian.Uint32(payload[0:4])))
		if cipherLen < 0 || len(payload) < 4+cipherLen {
			return
		}
		taggedCiphertext := payload[4 : 4+cipherLen]

		plaintext, err := cipher.Open(sess.IV(), taggedCiphertext)
		if err != nil {
			c.Logger.Printf("control: %v", session.ErrAuthFailure)
			sess.Stop()
			return
		}

		if cipherLen >= crypto.IVSize+crypto.GCMTagSize {
			var nextIV [16]byte
			copy(nextIV[:], taggedCiphertext[len(taggedCiphertext)-16:])
			sess.SetIV(nextIV)
		}

		if c.Injector != nil {
			c.Injector.Passthrough(plaintext)
		}
	}
}
