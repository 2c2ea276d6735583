package rtsp

import (
	"strconv"
	"strings"

	"github.com/nvstream/hostcore/internal/session"
)

// announceDefaults are applied for attributes the client is allowed to omit.
var announceDefaults = map[string]string{
	"x-nv-video[0].encoderCscMode":   "0",
	"x-nv-vqos[0].bitStreamFormat":   "0",
	"x-nv-video[0].dynamicRangeMode": "0",
	"x-nv-aqos.packetDuration":       "5",
}

// requiredAnnounceAttrs lists every attribute parseAnnounceBody needs once
// defaults have been applied; a missing one is a ClientProtocolError.
var requiredAnnounceAttrs = []string{
	"x-nv-audio.surround.numChannels",
	"x-nv-audio.surround.channelMask",
	"x-nv-aqos.packetDuration",
	"x-nv-video[0].packetSize",
	"x-nv-video[0].clientViewportHt",
	"x-nv-video[0].clientViewportWd",
	"x-nv-video[0].maxFPS",
	"x-nv-vqos[0].bw.maximumBitrateKbps",
	"x-nv-video[0].videoEncoderSlicesPerFrame",
	"x-nv-video[0].maxNumReferenceFrames",
	"x-nv-video[0].encoderCscMode",
	"x-nv-vqos[0].bitStreamFormat",
	"x-nv-video[0].dynamicRangeMode",
}

// parseAnnounceBody parses the SDP-like ANNOUNCE body into a session.Config.
// Lines starting with "s=" carry the client name (unused beyond acceptance);
// lines starting with "a=name:value" are attributes, with one trailing space
// trimmed from the value. Returns session.ErrClientProtocol if any required
// attribute (after defaults) is missing or non-numeric.
func parseAnnounceBody(body []byte, fecPercentage int) (session.Config, error) {
	args := map[string]string{}

	for _, line := range strings.FieldsFunc(string(body), func(r rune) bool { return r == '\n' || r == '\r' }) {
		switch {
		case strings.HasPrefix(line, "a="):
			rest := line[len("a="):]
			idx := strings.Index(rest, ":")
			if idx < 0 {
				continue
			}
			name := rest[:idx]
			val := rest[idx+1:]
			val = strings.TrimSuffix(val, " ")
			args[name] = val
		case strings.HasPrefix(line, "s="):
			// client name, not consumed by the session core
		}
	}

	for k, v := range announceDefaults {
		if _, ok := args[k]; !ok {
			args[k] = v
		}
	}

	get := func(key string) (int, bool) {
		v, ok := args[key]
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		return n, err == nil
	}

	for _, key := range requiredAnnounceAttrs {
		if _, ok := get(key); !ok {
			return session.Config{}, session.ErrClientProtocol
		}
	}

	channels, _ := get("x-nv-audio.surround.numChannels")
	mask, _ := get("x-nv-audio.surround.channelMask")
	packetDuration, _ := get("x-nv-aqos.packetDuration")
	packetSize, _ := get("x-nv-video[0].packetSize")
	height, _ := get("x-nv-video[0].clientViewportHt")
	width, _ := get("x-nv-video[0].clientViewportWd")
	fps, _ := get("x-nv-video[0].maxFPS")
	bitrate, _ := get("x-nv-vqos[0].bw.maximumBitrateKbps")
	slices, _ := get("x-nv-video[0].videoEncoderSlicesPerFrame")
	refFrames, _ := get("x-nv-video[0].maxNumReferenceFrames")
	cscMode, _ := get("x-nv-video[0].encoderCscMode")
	videoFormat, _ := get("x-nv-vqos[0].bitStreamFormat")
	dynamicRange, _ := get("x-nv-video[0].dynamicRangeMode")

	return session.Config{
		PacketSize: packetSize,
		Audio: session.AudioConfig{
			Channels:         channels,
			Mask:             mask,
			PacketDurationMs: packetDuration,
		},
		Monitor: session.MonitorConfig{
			Height:         height,
			Width:          width,
			Framerate:      fps,
			BitrateKbps:    bitrate,
			SlicesPerFrame: slices,
			NumRefFrames:   refFrames,
			EncoderCscMode: cscMode,
			VideoFormat:    videoFormat,
			DynamicRange:   dynamicRange,
			FECPercentage:  fecPercentage,
		},
	}, nil
}
