package models

// MediaType identifies the kind of content carried by a track.
type MediaType int

const (
	Video MediaType = iota
	Audio
	Data
)

// String returns the lower-cased media type name used in artifact file names.
func (m MediaType) String() string {
	switch m {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// CodecID identifies the codec carried by a track. VP9 and Opus are
// recognized here so track metadata can describe them, but the fMP4
// packager (internal/packager) rejects tracks using them; see DESIGN.md.
type CodecID int

const (
	CodecUnknown CodecID = iota
	CodecH264
	CodecAAC
	CodecVP9
	CodecOpus
	CodecID3
)

func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "avc1"
	case CodecAAC:
		return "mp4a"
	case CodecVP9:
		return "vp09"
	case CodecOpus:
		return "opus"
	case CodecID3:
		return "id3"
	default:
		return "unknown"
	}
}

// Supported reports whether the fMP4 packager knows how to box this codec.
func (c CodecID) Supported() bool {
	return c == CodecH264 || c == CodecAAC
}

// Timebase is a rational clock rate, e.g. {1, 90000} for a 90kHz video clock.
type Timebase struct {
	Num uint32
	Den uint32
}

// Track is the immutable per-track metadata established once at stream
// start (§3 "Track"). Tracks never change after the stream starts.
type Track struct {
	TrackID   int32
	MediaType MediaType
	CodecID   CodecID
	Timebase  Timebase
	Extradata []byte // SPS/PPS (Annex-B or AVCC) or AudioSpecificConfig, depending on codec

	Width      int
	Height     int
	SampleRate int
	Channels   int
	Bitrate    int

	// Name is how this track is referenced from a Playlist rendition
	// declaration (§4.4).
	Name string
}
