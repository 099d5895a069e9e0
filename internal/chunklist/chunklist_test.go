package chunklist

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
	"time"

	"llhls/pkg/models"
)

func closeSegments(c *Chunklist, n int, maxSegments int) {
	for i := 0; i < n; i++ {
		c.AppendPartialSegmentInfo(int64(i), PartInfo{
			SegmentNumber: int64(i),
			ChunkNumber:   0,
			DurationMs:    333,
			Independent:   true,
			URI:           "part.m4s",
		})
		c.AppendSegmentInfo(SegmentInfo{
			SegmentNumber:   int64(i),
			DurationMs:      1000,
			URI:             "seg.m4s",
			ProgramDateTime: time.Unix(1000, 0),
		}, maxSegments)
	}
}

func TestEmptyChunklistRendersMinimalHeader(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	out := c.ToString(RenderOptions{})
	if !strings.HasPrefix(out, "#EXTM3U\n#EXT-X-VERSION:9\n") {
		t.Fatalf("unexpected header: %s", out)
	}
}

func TestMediaSequencePromotesOnEviction(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	closeSegments(c, 5, 3)

	if c.mediaSequence != 2 {
		t.Fatalf("expected media_sequence promoted to 2 after 2 evictions, got %d", c.mediaSequence)
	}
	out := c.ToString(RenderOptions{})
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:2") {
		t.Fatalf("expected MEDIA-SEQUENCE:2 in output, got: %s", out)
	}
}

func TestSaveOldSegmentInfoSuspendsEviction(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	c.SaveOldSegmentInfo(true)
	closeSegments(c, 6, 3)

	if len(c.entries) != 6 {
		t.Fatalf("expected all 6 entries retained while saveOld is set, got %d", len(c.entries))
	}
}

func TestRenderWithOverrideStartsAtOverriddenSegmentNotIndexZero(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	c.SaveOldSegmentInfo(true)
	// sliding window stops evicting once saveOld is set, so entries
	// can hold segments older than the dump's own first segment.
	closeSegments(c, 10, 3)

	out := c.ToString(RenderOptions{FirstSegOverride: 9, HasOverride: true})

	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:9") {
		t.Fatalf("expected MEDIA-SEQUENCE:9, got: %s", out)
	}
	// segments 0-8 were never written to the dump's output_path; only
	// segment 9 (the override) and onward should be rendered.
	if strings.Count(out, "#EXTINF") != 1 {
		t.Fatalf("expected exactly one rendered segment starting at the override, got: %s", out)
	}
}

func TestOpenEntryEmitsPartAndPreloadHint(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	c.AppendPartialSegmentInfo(0, PartInfo{
		SegmentNumber: 0,
		ChunkNumber:   0,
		DurationMs:    333,
		Independent:   true,
		URI:           "part_0_0.m4s",
	})
	out := c.ToString(RenderOptions{})
	if !strings.Contains(out, `#EXT-X-PART:DURATION=0.333,URI="part_0_0.m4s",INDEPENDENT=YES`) {
		t.Fatalf("expected EXT-X-PART row, got: %s", out)
	}
	if !strings.Contains(out, "#EXT-X-PRELOAD-HINT:TYPE=PART") {
		t.Fatalf("expected preload hint for open segment, got: %s", out)
	}
}

func TestSkipEmitsSkippedSegmentsCount(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	c.SaveOldSegmentInfo(true) // keep all 8 so skip has something to cover
	closeSegments(c, 8, 8)

	out := c.ToString(RenderOptions{Skip: true})
	if !strings.Contains(out, "#EXT-X-SKIP:SKIPPED-SEGMENTS=4") {
		t.Fatalf("expected 8-4=4 skipped segments, got: %s", out)
	}

	renderedExtinf := strings.Count(out, "#EXTINF")
	if renderedExtinf != minFullyRenderedSegments {
		t.Fatalf("expected %d fully-rendered segments, got %d", minFullyRenderedSegments, renderedExtinf)
	}
}

func TestLegacyOmitsLLHLSLines(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	closeSegments(c, 1, 3)
	c.AppendPartialSegmentInfo(1, PartInfo{SegmentNumber: 1, ChunkNumber: 0, DurationMs: 333, URI: "p.m4s"})

	out := c.ToString(RenderOptions{Legacy: true})
	if strings.Contains(out, "EXT-X-PART") || strings.Contains(out, "EXT-X-PRELOAD-HINT") || strings.Contains(out, "EXT-X-SERVER-CONTROL") {
		t.Fatalf("expected legacy render to omit LL-HLS lines, got: %s", out)
	}
}

func TestGetLastSequenceNumberTracksOpenParts(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	c.AppendPartialSegmentInfo(0, PartInfo{SegmentNumber: 0, ChunkNumber: 0, DurationMs: 333, URI: "p0.m4s"})
	c.AppendPartialSegmentInfo(0, PartInfo{SegmentNumber: 0, ChunkNumber: 1, DurationMs: 333, URI: "p1.m4s"})

	msn, part := c.GetLastSequenceNumber()
	if msn != 0 || part != 1 {
		t.Fatalf("expected (0,1), got (%d,%d)", msn, part)
	}
}

func TestToGzipDataRoundTripsWithToString(t *testing.T) {
	c := New(0, models.Video, "abcd1234")
	closeSegments(c, 2, 3)

	plain := c.ToString(RenderOptions{})
	gz, err := c.ToGzipData(RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(gz) == 0 {
		t.Fatal("expected non-empty gzip output")
	}
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	unzipped, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(unzipped) != plain {
		t.Fatalf("gunzipped output differs from ToString:\n%s\nvs\n%s", unzipped, plain)
	}
}
