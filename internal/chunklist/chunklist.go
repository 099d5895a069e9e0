// Package chunklist is the Chunklist Writer component (§4.3, C4):
// per track, it holds the ordered list of segment entries mirroring
// C2's sliding window plus an optional retained head kept alive for
// dumps, and renders RFC-8216bis media playlists from that state.
//
// Grounded on the tag-writing shape of the hls-m3u8 module's
// m3u8/writer.go (writePartialSegment, writePreloadHint, writeSkip,
// writeServerControl use the same comma-joined attribute-list style
// followed here), hand-rolled rather than imported because that
// module's structure.go does not declare the types writer.go
// references (see DESIGN.md "Teacher selection").
package chunklist

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"llhls/internal/artifact"
	"llhls/pkg/models"
)

// minFullyRenderedSegments is the number of most-recent segments that
// EXT-X-SKIP never covers, regardless of window size (DESIGN.md Open
// Question decision 3).
const minFullyRenderedSegments = 4

// PartInfo describes one EXT-X-PART row (§4.3).
type PartInfo struct {
	SegmentNumber int64
	ChunkNumber   int64
	DurationMs    float64
	Independent   bool
	URI           string
}

// SegmentInfo closes a segment entry (§4.3).
type SegmentInfo struct {
	SegmentNumber   int64
	DurationMs      float64
	URI             string
	ProgramDateTime time.Time
	Discontinuity   bool
}

// entry is one segment's worth of bookkeeping: either still open (parts
// accumulating, no EXTINF yet) or closed.
type entry struct {
	info   SegmentInfo
	parts  []PartInfo
	closed bool
}

// Chunklist is the per-track writer state.
type Chunklist struct {
	mu sync.RWMutex

	trackID   int32
	mediaType models.MediaType
	streamKey string

	entries       []*entry // oldest first
	mediaSequence int64    // segment_number of entries[0]
	saveOld       bool     // SaveOldSegmentInfo; suspends eviction from entries for dumps

	maxChunkDurationMs float64 // running max, drives PART-TARGET
	partHoldBackSec    float64

	lastSegmentNumber int64
	lastChunkNumber   int64

	firstProgramDateTimeSet bool
}

// New creates a writer for one track. streamKey is mixed into
// generated preload-hint URIs so they match the artifact names the
// stream controller assigns to the chunks they point at (§4.6).
func New(trackID int32, mediaType models.MediaType, streamKey string) *Chunklist {
	return &Chunklist{
		trackID:           trackID,
		mediaType:         mediaType,
		streamKey:         streamKey,
		lastSegmentNumber: -1,
		lastChunkNumber:   -1,
	}
}

// AppendPartialSegmentInfo adds an EXT-X-PART row, creating the segment
// entry on first call for that segment_number (§4.3).
func (c *Chunklist) AppendPartialSegmentInfo(segmentNumber int64, p PartInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.openEntry(segmentNumber)
	e.parts = append(e.parts, p)

	if p.DurationMs > c.maxChunkDurationMs {
		c.maxChunkDurationMs = p.DurationMs
	}
	c.lastSegmentNumber = segmentNumber
	c.lastChunkNumber = p.ChunkNumber
}

// AppendSegmentInfo closes the open entry for info.SegmentNumber,
// attaching EXTINF/PROGRAM-DATE-TIME and promoting media_sequence if
// the window evicts (§4.3).
func (c *Chunklist) AppendSegmentInfo(info SegmentInfo, maxSegments int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.openEntry(info.SegmentNumber)
	if !c.firstProgramDateTimeSet {
		if info.ProgramDateTime.IsZero() {
			info.ProgramDateTime = zeroTimeFallback()
		}
		c.firstProgramDateTimeSet = true
	}
	e.info = info
	e.closed = true

	if !c.saveOld && len(c.entries) > maxSegments {
		dropped := len(c.entries) - maxSegments
		c.entries = c.entries[dropped:]
		c.mediaSequence = c.entries[0].info.SegmentNumber
	}
}

func zeroTimeFallback() time.Time {
	return time.Unix(0, 0).UTC()
}

func (c *Chunklist) openEntry(segmentNumber int64) *entry {
	if len(c.entries) == 0 {
		e := &entry{info: SegmentInfo{SegmentNumber: segmentNumber}}
		c.entries = append(c.entries, e)
		c.mediaSequence = segmentNumber
		return e
	}
	last := c.entries[len(c.entries)-1]
	if last.info.SegmentNumber == segmentNumber {
		return last
	}
	e := &entry{info: SegmentInfo{SegmentNumber: segmentNumber}}
	c.entries = append(c.entries, e)
	return e
}

// SetPartHoldBack is called once readiness flips (§4.3).
func (c *Chunklist) SetPartHoldBack(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partHoldBackSec = seconds
}

// SaveOldSegmentInfo toggles retention of entries beyond the sliding
// window, used while a dump back-dumps older segments (§4.7).
func (c *Chunklist) SaveOldSegmentInfo(save bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveOld = save
}

// GetLastSequenceNumber returns an atomic (msn, part) snapshot.
func (c *Chunklist) GetLastSequenceNumber() (msn, part int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSegmentNumber, c.lastChunkNumber
}

// RenderOptions configures a to_string/to_gzip_data call (§4.3).
type RenderOptions struct {
	Query           string
	Skip            bool
	Legacy          bool
	FirstSegOverride int64
	HasOverride      bool
}

// ToString renders an RFC-8216bis media playlist.
func (c *Chunklist) ToString(opts RenderOptions) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.render(opts).String()
}

// ToGzipData renders and gzip-compresses the same bytes ToString would
// produce, for clients that request _HLS_report or gzip-able playlists.
func (c *Chunklist) ToGzipData(opts RenderOptions) ([]byte, error) {
	c.mu.RLock()
	buf := c.render(opts)
	c.mu.RUnlock()

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("chunklist: gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("chunklist: gzip: %w", err)
	}
	return gz.Bytes(), nil
}

func (c *Chunklist) render(opts RenderOptions) *bytes.Buffer {
	buf := &bytes.Buffer{}

	if len(c.entries) == 0 {
		buf.WriteString("#EXTM3U\n#EXT-X-VERSION:9\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:0\n")
		return buf
	}

	targetDurationSec := c.targetDurationSec()
	partTargetSec := c.maxChunkDurationMs / 1000.0

	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:9\n")
	fmt.Fprintf(buf, "#EXT-X-TARGETDURATION:%d\n", targetDurationSec)
	if !opts.Legacy {
		fmt.Fprintf(buf, "#EXT-X-PART-INF:PART-TARGET=%s\n", formatDecimal(partTargetSec))
	}

	firstSeg := 0
	if opts.HasOverride {
		if idx := c.indexOfSegment(opts.FirstSegOverride); idx >= 0 {
			firstSeg = idx
		}
	}
	mediaSeq := c.entries[firstSeg].info.SegmentNumber
	fmt.Fprintf(buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)

	canSkipUntil := 6.0 * float64(targetDurationSec)
	if !opts.Legacy {
		c.writeServerControl(buf, canSkipUntil)
	}
	fmt.Fprintf(buf, "#EXT-X-MAP:URI=%q\n", artifact.Init(c.trackID, c.mediaType.String(), c.streamKey))

	skipCount := 0
	startIdx := firstSeg
	if opts.Skip {
		skippable := len(c.entries) - minFullyRenderedSegments
		if skippable > firstSeg {
			skipCount = skippable - firstSeg
			startIdx = firstSeg + skipCount
			fmt.Fprintf(buf, "#EXT-X-SKIP:SKIPPED-SEGMENTS=%d\n", skipCount)
		}
	}

	for i := startIdx; i < len(c.entries); i++ {
		e := c.entries[i]
		if e.closed {
			c.writeClosedEntry(buf, e, i == firstSeg, opts)
		} else if !opts.Legacy {
			c.writeOpenEntry(buf, e)
		}
	}

	return buf
}

// indexOfSegment returns the position of the entry with the given
// SegmentNumber, or -1 if entries no longer retains it (already
// evicted from the sliding window).
func (c *Chunklist) indexOfSegment(segNum int64) int {
	for i, e := range c.entries {
		if e.info.SegmentNumber == segNum {
			return i
		}
	}
	return -1
}

func (c *Chunklist) targetDurationSec() int {
	maxMs := 0.0
	for _, e := range c.entries {
		if e.closed && e.info.DurationMs > maxMs {
			maxMs = e.info.DurationMs
		}
	}
	return int(math.Ceil(maxMs / 1000.0))
}

func (c *Chunklist) writeServerControl(buf *bytes.Buffer, canSkipUntil float64) {
	buf.WriteString("#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES")
	if c.partHoldBackSec > 0 {
		fmt.Fprintf(buf, ",PART-HOLD-BACK=%s", formatDecimal(c.partHoldBackSec))
	}
	if len(c.entries) > minFullyRenderedSegments {
		fmt.Fprintf(buf, ",CAN-SKIP-UNTIL=%s", formatDecimal(canSkipUntil))
	}
	buf.WriteString("\n")
}

func (c *Chunklist) writeClosedEntry(buf *bytes.Buffer, e *entry, isFirst bool, opts RenderOptions) {
	if isFirst && !e.info.ProgramDateTime.IsZero() {
		fmt.Fprintf(buf, "#EXT-X-PROGRAM-DATE-TIME:%s\n", e.info.ProgramDateTime.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	if e.info.Discontinuity {
		buf.WriteString("#EXT-X-DISCONTINUITY\n")
	}
	if !opts.Legacy {
		for _, p := range e.parts {
			c.writePart(buf, p)
		}
	}
	fmt.Fprintf(buf, "#EXTINF:%s,\n%s\n", formatDecimal(e.info.DurationMs/1000.0), applyQuery(e.info.URI, opts.Query))
}

func (c *Chunklist) writeOpenEntry(buf *bytes.Buffer, e *entry) {
	for _, p := range e.parts {
		c.writePart(buf, p)
	}
	if len(e.parts) > 0 {
		last := e.parts[len(e.parts)-1]
		hintURI := artifact.Partial(c.trackID, last.SegmentNumber, last.ChunkNumber+1, c.mediaType.String(), c.streamKey)
		fmt.Fprintf(buf, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"%s\"\n", hintURI)
	}
}

func (c *Chunklist) writePart(buf *bytes.Buffer, p PartInfo) {
	fmt.Fprintf(buf, "#EXT-X-PART:DURATION=%s,URI=\"%s\"", formatDecimal(p.DurationMs/1000.0), p.URI)
	if p.Independent {
		buf.WriteString(",INDEPENDENT=YES")
	}
	buf.WriteString("\n")
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func applyQuery(uri, query string) string {
	if query == "" {
		return uri
	}
	return uri + "?" + query
}
