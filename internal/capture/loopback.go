package capture

import (
	"context"
	"sync/atomic"

	"github.com/nvstream/hostcore/internal/session"
)

// LoopbackVideo feeds a fixed sequence of frames, each pushed once; it exists
// for tests and local development when no real encoder is wired in.
type LoopbackVideo struct {
	Frames     []session.EncodedFrame
	idrFirst   atomic.Int64
	idrLast    atomic.Int64
	idrCount   atomic.Int32
}

// Start pushes every configured frame once, then returns.
func (v *LoopbackVideo) Start(ctx context.Context, out *session.Queue[session.EncodedFrame]) error {
	for _, f := range v.Frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		out.Push(f)
	}
	return nil
}

// RequestIDR records the most recent IDR request for test assertions.
func (v *LoopbackVideo) RequestIDR(first, last int64) {
	v.idrFirst.Store(first)
	v.idrLast.Store(last)
	v.idrCount.Add(1)
}

// IDRRequests returns how many times RequestIDR has been called.
func (v *LoopbackVideo) IDRRequests() int32 {
	return v.idrCount.Load()
}

// LastIDR returns the most recently requested refresh range.
func (v *LoopbackVideo) LastIDR() (first, last int64) {
	return v.idrFirst.Load(), v.idrLast.Load()
}

// LoopbackAudio feeds a fixed sequence of opus-shaped frames.
type LoopbackAudio struct {
	Frames [][]byte
}

// Start pushes every configured frame once, then returns.
func (a *LoopbackAudio) Start(ctx context.Context, out *session.Queue[[]byte]) error {
	for _, f := range a.Frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		out.Push(f)
	}
	return nil
}

// LoopbackInput records passthrough/reset calls for test assertions.
type LoopbackInput struct {
	received atomic.Int32
	resets   atomic.Int32
	last     atomic.Value
}

func (i *LoopbackInput) Passthrough(plaintext []byte) {
	i.received.Add(1)
	cp := make([]byte, len(plaintext))
	copy(cp, plaintext)
	i.last.Store(cp)
}

func (i *LoopbackInput) Reset() {
	i.resets.Add(1)
}

// Received returns how many Passthrough calls have landed.
func (i *LoopbackInput) Received() int32 {
	return i.received.Load()
}

// Resets returns how many Reset calls have landed.
func (i *LoopbackInput) Resets() int32 {
	return i.resets.Load()
}

// Last returns the most recent plaintext passed through, if any.
func (i *LoopbackInput) Last() []byte {
	v, _ := i.last.Load().([]byte)
	return v
}

// StaticProbe is a ProcessProbe that always reports the configured state.
type StaticProbe struct {
	Alive atomic.Bool
}

func (p *StaticProbe) Running() bool {
	return p.Alive.Load()
}
