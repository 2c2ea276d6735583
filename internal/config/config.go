// Package config holds the JSON-decodable top-level configuration for the
// host streaming daemon.
package config

// Ports are the fixed UDP ports Moonlight expects; they are not
// meant to be overridden, but are still JSON-decodable for completeness.
type Ports struct {
	RTSP    int `json:"rtsp"`
	Video   int `json:"video"`
	Control int `json:"control"`
	Audio   int `json:"audio"`
}

// Config is the process-wide configuration loaded from -config and
// selectively overridden by CLI flags.
type Config struct {
	Ports Ports `json:"ports"`

	// HEVCEnabled gates whether DESCRIBE/ANNOUNCE accept HEVC streams.
	HEVCEnabled bool `json:"hevc_enabled"`

	// FECPercentage is injected into every video frame's shard layout; it is
	// not negotiated by ANNOUNCE so it lives in server-level config instead.
	FECPercentage int `json:"fec_percentage"`

	// PingTimeoutMs bounds how long a worker waits for the client's initial
	// PING datagram, and how long the control channel tolerates silence
	// before it tears the session down.
	PingTimeoutMs int `json:"ping_timeout_ms"`

	// Verbose adds microsecond precision to log timestamps. It does not
	// enable any additional per-packet log lines.
	Verbose bool `json:"verbose"`
}

// Default returns a configuration with Moonlight's fixed ports
// and sensible defaults for everything else.
func Default() *Config {
	return &Config{
		Ports: Ports{
			RTSP:    48010,
			Video:   47998,
			Control: 47999,
			Audio:   48000,
		},
		HEVCEnabled:   false,
		FECPercentage: 20,
		PingTimeoutMs: 10000,
		Verbose:       false,
	}
}
