package session

import "errors"

// Error taxonomy for the session core. Per-packet errors are recovered
// locally by the component that detects them; only the session-scope ones
// below ever drive a state transition.
var (
	// ErrClientProtocol marks a malformed or unsupported ANNOUNCE body.
	// RTSP layer responds 400; the session stays STOPPED.
	ErrClientProtocol = errors.New("session: malformed or unsupported client request")

	// ErrSessionBusy marks an ANNOUNCE or SETUP attempted while a session is
	// already active. RTSP layer responds 503.
	ErrSessionBusy = errors.New("session: already streaming")

	// ErrUnknownMethod marks an RTSP method with no registered handler.
	ErrUnknownMethod = errors.New("session: unknown RTSP method")

	// ErrUnknownStream marks a SETUP target naming an unrecognized stream type.
	ErrUnknownStream = errors.New("session: unknown stream type")

	// ErrAuthFailure marks an AES-GCM tag mismatch on an INPUT_DATA packet.
	ErrAuthFailure = errors.New("session: input packet failed authentication")

	// ErrPingTimeout marks no recognized control-channel packet within the
	// configured ping interval.
	ErrPingTimeout = errors.New("session: ping timeout")

	// ErrProcessExited marks the supervised launched process having exited.
	ErrProcessExited = errors.New("session: launched process exited")

	// ErrPeerDisconnect marks the control channel's transport reporting the
	// peer disconnected while the session was RUNNING.
	ErrPeerDisconnect = errors.New("session: peer disconnected")

	// ErrFECOverflow marks a video frame whose shard count exceeds the
	// Reed-Solomon block limit. The frame is dropped; playback recovers via
	// client-initiated IDR refresh.
	ErrFECOverflow = errors.New("session: fec shard count exceeds limit")

	// ErrNoLaunchHandoff marks ANNOUNCE finding the launch handoff empty.
	ErrNoLaunchHandoff = errors.New("session: no pending launch handoff")
)
