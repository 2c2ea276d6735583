package control

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/crypto"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/transport"
	"github.com/nvstream/hostcore/internal/wire"
)

func testLogger() *log.Logger {
	return log.New(bytes.NewBuffer(nil), "", 0)
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New(50 * time.Millisecond)
	sess.ResetQueues()
	return sess
}

// fakeHost is an in-memory stand-in for transport.Host: Poll drains a
// buffered event channel or times out, Send records the payload.
type fakeHost struct {
	events chan transport.Event

	mu   sync.Mutex
	sent [][]byte
}

func newFakeHost() *fakeHost {
	return &fakeHost{events: make(chan transport.Event, 8)}
}

func (f *fakeHost) Poll(timeout time.Duration) (transport.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-time.After(timeout):
		return transport.Event{Kind: transport.EventNone}, nil
	}
}

func (f *fakeHost) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeHost) Destroy() {}

func (f *fakeHost) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// newRunningSession walks a fresh session through the ANNOUNCE transitions so
// Run's loop condition holds, with the ping deadline armed.
func newRunningSession(t *testing.T, pingTimeout time.Duration) *session.Session {
	t.Helper()
	sess := session.New(pingTimeout)
	if !sess.BeginStarting() {
		t.Fatal("BeginStarting failed on fresh session")
	}
	sess.ResetQueues()
	sess.ResetPingDeadline()
	sess.MarkRunning()
	return sess
}

// startController spawns Run against the fake host the way ANNOUNCE spawns it
// against a real one.
func startController(t *testing.T, c *Controller, sess *session.Session, h *fakeHost) {
	t.Helper()
	c.listen = func() (host, error) { return h, nil }
	sess.WaitGroup().Add(1)
	go c.Run(sess)
}

func waitForState(t *testing.T, sess *session.Session, want session.State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v within %v", sess.State(), want, within)
}

func TestRunPingTimeoutStopsSession(t *testing.T) {
	sess := newRunningSession(t, 50*time.Millisecond)
	h := newFakeHost()
	c := &Controller{Logger: testLogger()}

	startController(t, c, sess, h)

	// No control packets arrive, so the armed deadline must expire and tear
	// the session down on the loop's next wake.
	waitForState(t, sess, session.Stopping, 2*time.Second)
	sess.WaitGroup().Wait()
}

func TestRunProcessExitSendsTermination(t *testing.T) {
	sess := newRunningSession(t, time.Second)
	sess.HasProcess = true

	probe := &capture.StaticProbe{} // Alive defaults to false: process gone
	h := newFakeHost()
	c := &Controller{Logger: testLogger(), Probe: probe}

	startController(t, c, sess, h)

	waitForState(t, sess, session.Stopping, 2*time.Second)
	sess.WaitGroup().Wait()

	sent := h.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want exactly one termination", len(sent))
	}
	want := wire.BuildTerminationPacket(0x0100)
	if !bytes.Equal(sent[0], want) {
		t.Fatalf("termination packet = %x, want %x", sent[0], want)
	}
}

func TestRunPeerDisconnectStopsSession(t *testing.T) {
	sess := newRunningSession(t, time.Second)
	h := newFakeHost()
	h.events <- transport.Event{Kind: transport.EventDisconnect}
	c := &Controller{Logger: testLogger()}

	startController(t, c, sess, h)

	waitForState(t, sess, session.Stopping, 2*time.Second)
	sess.WaitGroup().Wait()

	if len(h.Sent()) != 0 {
		t.Fatalf("disconnect should not send packets, sent %d", len(h.Sent()))
	}
}

func TestHandleInvalidateRefFramesRaisesIDREvent(t *testing.T) {
	sess := newTestSession(t)
	c := &Controller{Logger: testLogger()}

	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:8], 10)
	binary.LittleEndian.PutUint64(payload[8:16], 20)

	c.handleInvalidateRefFrames(sess)(payload)

	rng, ok := sess.IDREvents.Pop()
	if !ok {
		t.Fatal("expected IDR event to be raised")
	}
	if rng.FirstFrame != 10 || rng.LastFrame != 20 {
		t.Fatalf("got %+v, want {10 20}", rng)
	}
}

func TestHandleInputDataDecryptsAndRollsIV(t *testing.T) {
	sess := newTestSession(t)

	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	sess.GCMKey = key

	var iv [16]byte
	for i := range iv {
		iv[i] = byte(0x10 + i)
	}
	sess.SetIV(iv)

	cipher, err := crypto.New(key)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := bytes.Repeat([]byte{0x42}, 20)
	sealed := cipherSeal(t, key, iv, plaintext)

	payload := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(sealed)))
	copy(payload[4:], sealed)

	injector := &capture.LoopbackInput{}
	c := &Controller{Logger: testLogger(), Injector: injector}

	c.handleInputData(sess, cipher)(payload)

	if injector.Received() != 1 {
		t.Fatalf("Received() = %d, want 1", injector.Received())
	}
	if !bytes.Equal(injector.Last(), plaintext) {
		t.Fatalf("Last() = %x, want %x", injector.Last(), plaintext)
	}

	wantIV := sealed[len(sealed)-16:]
	gotIV := sess.IV()
	if !bytes.Equal(gotIV[:], wantIV) {
		t.Fatalf("IV not rolled: got %x, want %x", gotIV, wantIV)
	}
}

func TestHandleInputDataAuthFailureStopsSession(t *testing.T) {
	sess := newTestSession(t)
	sess.BeginStarting()
	sess.MarkRunning()

	var key [16]byte
	cipher, err := crypto.New(key)
	if err != nil {
		t.Fatal(err)
	}

	sealed := cipherSeal(t, key, sess.IV(), []byte("hello"))
	sealed[len(sealed)-1] ^= 0xFF // corrupt tag

	payload := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(sealed)))
	copy(payload[4:], sealed)

	c := &Controller{Logger: testLogger()}
	c.handleInputData(sess, cipher)(payload)

	if sess.State() != session.Stopping {
		t.Fatalf("state = %v, want STOPPING after auth failure", sess.State())
	}
}

func TestHandleUnknownTypeIsIgnored(t *testing.T) {
	sess := newTestSession(t)
	c := &Controller{Logger: testLogger()}
	dispatch := c.buildDispatch(sess, nil)

	data := make([]byte, wire.CtrlTypeHeaderSize)
	wire.PutCtrlTypeHeader(data, 0xBEEF)

	c.handle(sess, dispatch, data)
}

// cipherSeal encrypts plaintext the way the client does, independent of the
// crypto package's unexported gcm field, so the test exercises control's
// Open path against an oracle built directly from the standard library.
func cipherSeal(t *testing.T, key, iv [16]byte, plaintext []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, crypto.IVSize)
	if err != nil {
		t.Fatal(err)
	}
	return gcm.Seal(nil, iv[:], plaintext, nil)
}
