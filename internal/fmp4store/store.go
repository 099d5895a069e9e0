// Package fmp4store is the fMP4 Storage component (§4.1, C2): it
// owns a track's init-segment bytes and the sliding window of closed
// segments plus the in-progress segment's chunks. There is exactly one
// writer per track (the packager); many concurrent readers.
//
// Grounded on the part/segment/storage split of gohlslib's muxer
// package (muxer_segment_fmp4.go, muxer_part.go), adapted from its
// storage.File/storage.Part abstraction (disk-backed) to an in-memory
// sliding window, since segments stay resident for direct HTTP serving
// rather than spooling to disk.
package fmp4store

import (
	"sync"
)

// Chunk is a CMAF fragment (§3 "Chunk").
type Chunk struct {
	SegmentNumber   int64
	ChunkNumber     int64
	StartTimestamp  int64 // track timebase units
	DurationMs      float64
	Size            int
	Independent     bool
	Bytes           []byte
}

// Segment is a media segment, closed once the packager decides to roll
// (§3 "Segment").
type Segment struct {
	SegmentNumber  int64
	StartTimestamp int64
	DurationMs     float64
	Size           int
	Bytes          []byte
	Chunks         []*Chunk
}

// Store holds one track's init bytes and sliding window of segments.
type Store struct {
	mu sync.RWMutex

	initBytes []byte

	maxSegments int
	segments    []*Segment // oldest first; evicted from the front
	current     *Segment

	minChunkDurationMs float64
	maxChunkDurationMs float64

	retainRefs int // dump retention refcount; see §9 "Dump retention"
}

// NewStore creates a store for one track. initBytes is the immutable
// ftyp+moov built once at stream start.
func NewStore(initBytes []byte, maxSegments int) *Store {
	return &Store{
		initBytes:   initBytes,
		maxSegments: maxSegments,
		current:     &Segment{SegmentNumber: 0},
	}
}

// GetInitializationSection returns the immutable init-segment bytes.
func (s *Store) GetInitializationSection() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initBytes
}

// AppendChunk extends the in-progress segment with a new chunk and
// returns its (segment_number, chunk_number).
func (s *Store) AppendChunk(bytesData []byte, startTB int64, durationMs float64, independent bool) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkNumber := int64(len(s.current.Chunks))
	chunk := &Chunk{
		SegmentNumber:  s.current.SegmentNumber,
		ChunkNumber:    chunkNumber,
		StartTimestamp: startTB,
		DurationMs:     durationMs,
		Size:           len(bytesData),
		Independent:    independent,
		Bytes:          bytesData,
	}
	s.current.Chunks = append(s.current.Chunks, chunk)
	s.current.Size += len(bytesData)
	if s.current.StartTimestamp == 0 && chunkNumber == 0 {
		s.current.StartTimestamp = startTB
	}

	if s.minChunkDurationMs == 0 || durationMs < s.minChunkDurationMs {
		s.minChunkDurationMs = durationMs
	}
	if durationMs > s.maxChunkDurationMs {
		s.maxChunkDurationMs = durationMs
	}

	return chunk.SegmentNumber, chunk.ChunkNumber
}

// CloseSegment finalizes the in-progress segment, pushes it onto the
// retained window, and evicts the oldest segment if the window is over
// capacity and nothing holds a dump reference on it (§4.1).
func (s *Store) CloseSegment() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.current
	closed.DurationMs = 0
	for _, c := range closed.Chunks {
		closed.DurationMs += c.DurationMs
	}
	closed.Bytes = concatChunks(closed.Chunks)
	closed.Size = len(closed.Bytes)

	s.segments = append(s.segments, closed)
	if len(s.segments) > s.maxSegments && s.retainRefs == 0 {
		s.segments = s.segments[1:]
	}

	s.current = &Segment{SegmentNumber: closed.SegmentNumber + 1}
	return closed
}

func concatChunks(chunks []*Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Bytes)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Bytes...)
	}
	return out
}

// GetMediaSegment returns the closed segment numbered n, or nil if it
// was evicted or not yet produced.
func (s *Store) GetMediaSegment(n int64) *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seg := range s.segments {
		if seg.SegmentNumber == n {
			return seg
		}
	}
	return nil
}

// GetMediaChunk returns chunk k of segment n, searching both the closed
// window and the in-progress segment.
func (s *Store) GetMediaChunk(n, k int64) *Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.SegmentNumber == n {
		if k >= 0 && int(k) < len(s.current.Chunks) {
			return s.current.Chunks[k]
		}
		return nil
	}
	for _, seg := range s.segments {
		if seg.SegmentNumber == n {
			if k >= 0 && int(k) < len(seg.Chunks) {
				return seg.Chunks[k]
			}
			return nil
		}
	}
	return nil
}

// GetLastSequenceNumber returns the in-progress segment/chunk numbers.
func (s *Store) GetLastSequenceNumber() (segmentNumber, chunkNumber int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.SegmentNumber, int64(len(s.current.Chunks)) - 1
}

// GetLastSegmentNumber returns the highest closed segment number, or -1
// if no segment has ever closed yet.
func (s *Store) GetLastSegmentNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return -1
	}
	return s.segments[len(s.segments)-1].SegmentNumber
}

// OldestRetainedSegmentNumber is the media-sequence base: a chunklist's
// media_sequence must equal its oldest retained segment's number.
func (s *Store) OldestRetainedSegmentNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return 0
	}
	return s.segments[0].SegmentNumber
}

// Retain increments the dump-retention refcount, suspending eviction
// until Release brings it back to zero (§9).
func (s *Store) Retain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retainRefs++
}

// Release decrements the refcount and evicts down to maxSegments if it
// reaches zero.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retainRefs > 0 {
		s.retainRefs--
	}
	if s.retainRefs == 0 {
		for len(s.segments) > s.maxSegments {
			s.segments = s.segments[1:]
		}
	}
}

// MaxChunkDurationMs is used by the chunklist writer for PART-TARGET and
// by the controller for the part_hold_back computation.
func (s *Store) MaxChunkDurationMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxChunkDurationMs
}

// Segments returns a snapshot of the retained closed segments, oldest
// first. Callers must not mutate the returned slice's contents.
func (s *Store) Segments() []*Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// CurrentSegment returns the in-progress segment (its Chunks slice is
// only safe to range over, not retain past the lock).
func (s *Store) CurrentSegment() *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
