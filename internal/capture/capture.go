// Package capture defines the narrow interfaces the streaming core consumes
// from its out-of-scope collaborators: the video/audio capture+encoder
// pipelines, the input injector, and process supervision. Production
// deployments provide concrete implementations (GPU capture, libopus
// encoding, OS input injection); this package also carries small loopback
// fakes used by tests and local development.
package capture

import (
	"context"

	"github.com/nvstream/hostcore/internal/session"
)

// VideoSource produces encoded video frames into a session video queue and
// accepts IDR-refresh requests from the control channel.
type VideoSource interface {
	// Start runs until ctx is canceled or the queue is stopped, pushing
	// encoded frames as they become available.
	Start(ctx context.Context, out *session.Queue[session.EncodedFrame]) error
	// RequestIDR asks the encoder to refresh reference frames in [first, last].
	RequestIDR(first, last int64)
}

// AudioSource produces fixed-size opus frames into a session audio queue.
type AudioSource interface {
	Start(ctx context.Context, out *session.Queue[[]byte]) error
}

// InputInjector consumes decrypted input-event byte blobs from the control
// channel and can be reset between sessions.
type InputInjector interface {
	Passthrough(plaintext []byte)
	Reset()
}

// ProcessProbe reports whether a launched application is still running. Used
// by the control channel's liveness check when a session HasProcess.
type ProcessProbe interface {
	Running() bool
}
