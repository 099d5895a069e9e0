package masterplaylist

import (
	"strings"
	"testing"

	"llhls/pkg/models"
)

func trackSet() []*models.Track {
	return []*models.Track{
		{TrackID: 0, Name: "h264", MediaType: models.Video, CodecID: models.CodecH264, Width: 1920, Height: 1080, Bitrate: 4000000},
		{TrackID: 1, Name: "vp9", MediaType: models.Video, CodecID: models.CodecVP9, Width: 1920, Height: 1080, Bitrate: 4000000},
		{TrackID: 2, Name: "aac", MediaType: models.Audio, CodecID: models.CodecAAC, Bitrate: 128000},
	}
}

func resolverFor(tracks []*models.Track) TrackResolver {
	return func(name string) (*models.Track, bool) {
		for _, t := range tracks {
			if t.Name == name {
				return t, true
			}
		}
		return nil, false
	}
}

func TestDefaultPlaylistPicksFirstSupportedVideoAndAudio(t *testing.T) {
	tracks := trackSet()
	pl := Default(tracks)
	if len(pl.Renditions) != 1 {
		t.Fatalf("expected 1 rendition, got %d", len(pl.Renditions))
	}
	r := pl.Renditions[0]
	if r.VideoTrackName != "h264" {
		t.Fatalf("expected h264 video track chosen, got %q", r.VideoTrackName)
	}
	if r.AudioTrackName != "aac" {
		t.Fatalf("expected aac audio track chosen, got %q", r.AudioTrackName)
	}
}

func TestRenderSkipsUnsupportedCodecRendition(t *testing.T) {
	tracks := trackSet()
	playlist := &models.Playlist{
		Name: "multi",
		Renditions: []models.Rendition{
			{Name: "hd", VideoTrackName: "h264", AudioTrackName: "aac"},
			{Name: "vp9-rendition", VideoTrackName: "vp9", AudioTrackName: "aac"},
		},
	}
	out := string(Render(playlist, resolverFor(tracks), DepthSameDirectory, "", "", "", "key1234", false))

	if strings.Count(out, "#EXT-X-STREAM-INF") != 1 {
		t.Fatalf("expected only the supported rendition rendered, got:\n%s", out)
	}
	if strings.Contains(out, "avc1") == false {
		t.Fatalf("expected h264 rendition codecs present: %s", out)
	}
}

func TestRenderBandwidthIsSumOfBitrates(t *testing.T) {
	tracks := trackSet()
	playlist := &models.Playlist{
		Renditions: []models.Rendition{{Name: "hd", VideoTrackName: "h264", AudioTrackName: "aac"}},
	}
	out := string(Render(playlist, resolverFor(tracks), DepthSameDirectory, "", "", "", "key1234", false))
	if !strings.Contains(out, "BANDWIDTH=4128000") {
		t.Fatalf("expected summed bandwidth 4000000+128000, got:\n%s", out)
	}
}

func TestRenderGroupsAudioByTrackID(t *testing.T) {
	tracks := trackSet()
	playlist := &models.Playlist{
		Renditions: []models.Rendition{
			{Name: "a", VideoTrackName: "h264", AudioTrackName: "aac"},
			{Name: "b", AudioTrackName: "aac"},
		},
	}
	out := string(Render(playlist, resolverFor(tracks), DepthSameDirectory, "", "", "", "key1234", false))
	if strings.Count(out, "#EXT-X-MEDIA:TYPE=AUDIO") != 1 {
		t.Fatalf("expected audio group emitted once despite two renditions using it, got:\n%s", out)
	}
}

func TestChunklistURIPathDepth(t *testing.T) {
	tracks := trackSet()
	playlist := &models.Playlist{
		Renditions: []models.Rendition{{Name: "a", VideoTrackName: "h264"}},
	}
	cases := []struct {
		depth PathDepth
		want  string
	}{
		{DepthSameDirectory, "chunklist_0_video_key1234_llhls.m3u8"},
		{DepthParentStream, "../mystream/chunklist_0_video_key1234_llhls.m3u8"},
		{DepthParentApp, "../myapp/mystream/chunklist_0_video_key1234_llhls.m3u8"},
		{DepthAbsolute, "/myapp/mystream/chunklist_0_video_key1234_llhls.m3u8"},
	}
	for _, tc := range cases {
		out := string(Render(playlist, resolverFor(tracks), tc.depth, "vhost", "myapp", "mystream", "key1234", true))
		if !strings.Contains(out, tc.want) {
			t.Errorf("depth %d: expected uri %q in output:\n%s", tc.depth, tc.want, out)
		}
	}
}
