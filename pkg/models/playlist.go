package models

// Rendition names at most one video track and one audio track, by track
// name, to be advertised together under one EXT-X-STREAM-INF entry
// (§3 "MasterPlaylist", §4.4).
type Rendition struct {
	Name           string
	VideoTrackName string
	AudioTrackName string
}

// Playlist declares the rendition set for one master playlist (§3).
// When a stream declares none, the stream controller synthesizes a
// "default" playlist from the first supported video and audio tracks
// discovered at Start (§4.4).
type Playlist struct {
	Name       string
	Renditions []Rendition
}
