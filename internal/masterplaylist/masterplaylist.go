// Package masterplaylist is the Master Playlist component (§4.4,
// C5): it renders a multivariant HLS manifest from a declared
// models.Playlist and the immutable track metadata resolved at stream
// start.
//
// Grounded on the EXT-X-MEDIA/EXT-X-STREAM-INF writing shape in the
// hls-m3u8 module's m3u8/writer.go MasterPlaylist.Encode (attribute-
// list, comma-joined, quoted-string helpers), used as a style
// reference rather than imported for the reason given in DESIGN.md
// "Teacher selection".
package masterplaylist

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"llhls/internal/artifact"
	"llhls/pkg/models"
)

// PathDepth controls how a chunklist URI is prefixed relative to the
// master playlist's own location (§4.4).
type PathDepth int

const (
	DepthSameDirectory PathDepth = 0
	DepthParentStream  PathDepth = 1
	DepthParentApp     PathDepth = 2
	DepthAbsolute      PathDepth = -1
)

// TrackResolver looks up a track by the name used in a models.Rendition.
type TrackResolver func(name string) (*models.Track, bool)

// Render builds the multivariant playlist bytes for playlist, resolving
// rendition track names via resolve. vhost/app/stream are used only
// when depth is DepthAbsolute/DepthParentApp/DepthParentStream.
func Render(playlist *models.Playlist, resolve TrackResolver, depth PathDepth, vhost, app, stream, streamKey string, includePath bool) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n#EXT-X-VERSION:9\n#EXT-X-INDEPENDENT-SEGMENTS\n")

	audioGroups := map[string]bool{}

	for _, r := range playlist.Renditions {
		videoTrack, hasVideo := resolveIfNamed(resolve, r.VideoTrackName)
		audioTrack, hasAudio := resolveIfNamed(resolve, r.AudioTrackName)

		if (r.VideoTrackName != "" && !hasVideo) || (r.AudioTrackName != "" && !hasAudio) {
			log.Printf("masterplaylist: rendition %q: track not found, skipping", r.Name)
			continue
		}
		if hasVideo && !videoTrack.CodecID.Supported() {
			log.Printf("masterplaylist: rendition %q: unsupported video codec %s, skipping", r.Name, videoTrack.CodecID)
			continue
		}
		if hasAudio && !audioTrack.CodecID.Supported() {
			log.Printf("masterplaylist: rendition %q: unsupported audio codec %s, skipping", r.Name, audioTrack.CodecID)
			continue
		}

		if hasAudio {
			groupID := fmt.Sprintf("%d", audioTrack.TrackID)
			if !audioGroups[groupID] {
				audioGroups[groupID] = true
				writeMedia(buf, groupID, audioTrack, chunklistURI(audioTrack, depth, vhost, app, stream, streamKey, includePath))
			}
		}

		writeStreamInf(buf, r, videoTrack, audioTrack, hasVideo, hasAudio, chunklistURIForRendition(videoTrack, hasVideo, audioTrack, hasAudio, depth, vhost, app, stream, streamKey, includePath))
	}

	return buf.Bytes()
}

func resolveIfNamed(resolve TrackResolver, name string) (*models.Track, bool) {
	if name == "" {
		return nil, false
	}
	return resolve(name)
}

func writeMedia(buf *bytes.Buffer, groupID string, track *models.Track, uri string) {
	fmt.Fprintf(buf, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,DEFAULT=YES,AUTOSELECT=YES,URI=%q\n", groupID, track.Name, uri)
}

func writeStreamInf(buf *bytes.Buffer, r models.Rendition, videoTrack, audioTrack *models.Track, hasVideo, hasAudio bool, uri string) {
	bandwidth := 0
	var codecs []string
	if hasVideo {
		bandwidth += videoTrack.Bitrate
		codecs = append(codecs, videoTrack.CodecID.String())
	}
	if hasAudio {
		bandwidth += audioTrack.Bitrate
		codecs = append(codecs, audioTrack.CodecID.String())
	}

	fmt.Fprintf(buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d", bandwidth)
	if len(codecs) > 0 {
		fmt.Fprintf(buf, ",CODECS=%q", strings.Join(codecs, ","))
	}
	if hasVideo && videoTrack.Width > 0 && videoTrack.Height > 0 {
		fmt.Fprintf(buf, ",RESOLUTION=%dx%d", videoTrack.Width, videoTrack.Height)
	}
	if hasAudio {
		fmt.Fprintf(buf, ",AUDIO=%q", fmt.Sprintf("%d", audioTrack.TrackID))
	}
	fmt.Fprintf(buf, "\n%s\n", uri)
}

// chunklistURIForRendition prefers the video track's chunklist as the
// EXT-X-STREAM-INF target, falling back to audio-only.
func chunklistURIForRendition(videoTrack *models.Track, hasVideo bool, audioTrack *models.Track, hasAudio bool, depth PathDepth, vhost, app, stream, streamKey string, includePath bool) string {
	if hasVideo {
		return chunklistURI(videoTrack, depth, vhost, app, stream, streamKey, includePath)
	}
	return chunklistURI(audioTrack, depth, vhost, app, stream, streamKey, includePath)
}

func chunklistURI(track *models.Track, depth PathDepth, vhost, app, stream, streamKey string, includePath bool) string {
	name := artifact.Chunklist(track.TrackID, track.MediaType.String(), streamKey)
	if !includePath {
		return name
	}
	switch depth {
	case DepthAbsolute:
		return fmt.Sprintf("/%s/%s/%s", app, stream, name)
	case DepthParentApp:
		return fmt.Sprintf("../%s/%s/%s", app, stream, name)
	case DepthParentStream:
		return fmt.Sprintf("../%s/%s", stream, name)
	default:
		return name
	}
}

// Default synthesizes a "default" Playlist from the first supported
// video and first supported audio track discovered at Start (§4.4,
// used when the stream declares no explicit Playlist).
func Default(tracks []*models.Track) *models.Playlist {
	var video, audio *models.Track
	for _, t := range tracks {
		if !t.CodecID.Supported() {
			continue
		}
		if t.MediaType == models.Video && video == nil {
			video = t
		}
		if t.MediaType == models.Audio && audio == nil {
			audio = t
		}
	}
	r := models.Rendition{Name: "default"}
	if video != nil {
		r.VideoTrackName = video.Name
	}
	if audio != nil {
		r.AudioTrackName = audio.Name
	}
	return &models.Playlist{
		Name:       "default",
		Renditions: []models.Rendition{r},
	}
}
