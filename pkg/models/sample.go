package models

// PacketType distinguishes the four kinds of ingress packets the stream
// controller accepts (§6 "Ingress contract").
type PacketType int

const (
	PacketVideo PacketType = iota
	PacketAudio
	PacketVideoEvent // ID3v2 data packet correlated to the video track
	PacketAudioEvent // ID3v2 data packet correlated to the audio track
)

// BitstreamFormat names the wire format of a packet's payload as it
// arrives at the packager. Only annexb/avcc are meaningful for media
// samples; data packets carry a bitstream format too and are dropped by
// the packager when it doesn't recognize it (§4.2 step 5).
type BitstreamFormat int

const (
	BitstreamUnknown BitstreamFormat = iota
	BitstreamAnnexB
	BitstreamAVCC
	BitstreamID3v2
)

// SampleFlags carries the per-sample boolean attributes from §3.
type SampleFlags struct {
	KeyFrame    bool
	Independent bool
}

// MediaPacket is a single encoded sample (or, for data tracks, a single
// ID3v2 payload) handed to the stream controller by the sample source
// (§6 "MediaPacket").
type MediaPacket struct {
	TrackID         int32
	MediaType       MediaType
	PacketType      PacketType
	BitstreamFormat BitstreamFormat

	DTS      int64 // decode timestamp, track timebase units
	PTS      int64 // presentation timestamp, track timebase units
	Duration int64 // track timebase units

	Flags   SampleFlags
	Payload []byte
}
