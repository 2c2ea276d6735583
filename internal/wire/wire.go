// Package wire defines the on-the-wire packet layouts for the video, audio,
// and control streams: the RTP_PACKET and NV_VIDEO_PACKET structs Moonlight
// parses. Byte order and field order here are a wire contract, not a style
// choice.
package wire

import "encoding/binary"

const (
	// RTPHeaderSize is sizeof(RTP_PACKET) on the wire.
	RTPHeaderSize = 12
	// MaxRTPHeaderSize is the padded header allowance used when sizing shards.
	MaxRTPHeaderSize = 16
	// NVVideoHeaderSize is sizeof(NV_VIDEO_PACKET) on the wire.
	NVVideoHeaderSize = 16
	// VideoHeaderSize is the combined RTP+NV header every video shard carries.
	VideoHeaderSize = RTPHeaderSize + NVVideoHeaderSize
)

// Video packet flags (NV_VIDEO_PACKET.flags).
const (
	FlagContainsPicData uint8 = 0x1
	FlagSOF             uint8 = 0x2
	FlagEOF             uint8 = 0x4
)

// NVVideoMarker is the literal 8-byte prefix Moonlight expects before the
// encoded payload of every video frame.
var NVVideoMarker = []byte("\x01\x37charss")

// AudioPacketType is the RTP payload type used for opus audio packets.
const AudioPacketType = 97

// PutRTPHeader writes a 12-byte RTP header into dst[0:12].
func PutRTPHeader(dst []byte, header, packetType uint8, seq uint16, timestamp, ssrc uint32) {
	dst[0] = header
	dst[1] = packetType
	binary.BigEndian.PutUint16(dst[2:4], seq)
	binary.BigEndian.PutUint32(dst[4:8], timestamp)
	binary.BigEndian.PutUint32(dst[8:12], ssrc)
}

// PutSequenceNumber patches just the sequence-number field of an RTP header
// already written at dst[0:12].
func PutSequenceNumber(dst []byte, seq uint16) {
	binary.BigEndian.PutUint16(dst[2:4], seq)
}

// VideoShardHeader describes one video shard's NV_VIDEO_PACKET fields before
// they're serialized. StreamPacketIndex and FECInfo are little-endian on the
// wire; the RTP sequence number that precedes them is big-endian.
type VideoShardHeader struct {
	Flags             uint8
	FrameIndex        uint32
	StreamPacketIndex uint32
	FECInfo           uint32
}

// PutVideoShardHeader writes the combined RTP+NV header for one video shard
// into dst[0:VideoHeaderSize]. The RTP header's other fields are left zero,
// matching the zero-initialized FEC buffer the header is carved out of.
func PutVideoShardHeader(dst []byte, seq uint16, h VideoShardHeader) {
	PutRTPHeader(dst, 0, 0, seq, 0, 0)

	nv := dst[RTPHeaderSize:VideoHeaderSize]
	binary.LittleEndian.PutUint32(nv[0:4], h.StreamPacketIndex)
	binary.LittleEndian.PutUint32(nv[4:8], h.FrameIndex)
	nv[8] = h.Flags
	nv[9] = 0 // reserved
	binary.LittleEndian.PutUint32(nv[12:16], h.FECInfo)
}

// PatchParityShardHeader rewrites the frameIndex/fecInfo/sequence fields of an
// already FEC-encoded parity shard. The shard's other header bytes
// (streamPacketIndex, flags, RTP timestamp/ssrc) are left as whatever the
// Reed-Solomon XOR produced across the data shards' headers; Moonlight does
// not read them for parity shards.
func PatchParityShardHeader(dst []byte, seq uint16, frameIndex uint32, fecInfo uint32) {
	PutSequenceNumber(dst, seq)
	nv := dst[RTPHeaderSize:VideoHeaderSize]
	binary.LittleEndian.PutUint32(nv[4:8], frameIndex)
	binary.LittleEndian.PutUint32(nv[12:16], fecInfo)
}

// FECInfo packs the fecInfo field shared by data and parity shards: shard
// index, number of data shards in the frame, and the configured FEC
// percentage.
func FECInfo(index, numDataShards, fecPercentage int) uint32 {
	return uint32(index<<12) | uint32(numDataShards<<22) | uint32(fecPercentage<<4)
}

// PutAudioPacket writes an RTP header followed by the opaque opus payload
// into dst[0:RTPHeaderSize+len(payload)].
func PutAudioPacket(dst []byte, seq uint16, payload []byte) {
	PutRTPHeader(dst, 0, AudioPacketType, seq, 0, 0)
	copy(dst[RTPHeaderSize:], payload)
}

// Control channel packet type codes, as transmitted in the 2-byte
// little-endian type header of every control datagram.
const (
	CtrlStartA                 uint16 = 0x0305
	CtrlStartB                 uint16 = 0x0307
	CtrlInvalidateRefFrames    uint16 = 0x0301
	CtrlLossStats              uint16 = 0x0201
	CtrlInputData              uint16 = 0x0206
	CtrlRumbleData             uint16 = 0x010b
	CtrlTermination            uint16 = 0x0100
)

// CtrlTypeHeaderSize is the size of the little-endian type code prefix on
// every control-channel packet.
const CtrlTypeHeaderSize = 2

// PutCtrlTypeHeader writes the 2-byte little-endian type code prefix.
func PutCtrlTypeHeader(dst []byte, ptype uint16) {
	binary.LittleEndian.PutUint16(dst[0:2], ptype)
}

// CtrlType reads the 2-byte little-endian type code prefix from a received
// control packet.
func CtrlType(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data[0:2])
}

// BuildTerminationPacket builds the server->client TERMINATION payload: two
// little-endian uint16s, {type, reason}, sent as a single reliable datagram.
func BuildTerminationPacket(reason uint16) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], CtrlTermination)
	binary.LittleEndian.PutUint16(buf[2:4], reason)
	return buf
}
