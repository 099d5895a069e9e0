package stream

import (
	"llhls/internal/chunklist"
	"llhls/pkg/models"
)

// DumpSink receives segment-closed notifications so the Dump Manager
// (internal/dump) can mirror artifacts without the stream controller
// knowing anything about dump output paths (§4.7, §9 "Back-reference
// from chunklist to storage": events carry handles, not back-pointers).
type DumpSink interface {
	OnSegmentClosed(trackID int32, segmentNumber int64)

	// OnReadyForPlay fires once, on the stream's false→true readiness
	// transition (§4.5 "On readiness, dump init segments for all tracks
	// and master playlists for all active dump items"): a dump bound
	// before any track had produced a segment gets its first chance
	// here to write artifacts that Start() found nothing to write yet.
	OnReadyForPlay()
}

// AddDumpSink registers sink for future segment-closed notifications.
func (s *Stream) AddDumpSink(sink DumpSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dumpSinks = append(s.dumpSinks, sink)
}

// RemoveDumpSink unregisters sink.
func (s *Stream) RemoveDumpSink(sink DumpSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dumpSinks {
		if d == sink {
			s.dumpSinks = append(s.dumpSinks[:i], s.dumpSinks[i+1:]...)
			return
		}
	}
}

// Identity exposes the vhost/app/name triple a dump's output_path
// template substitutes ${VHostName}/${AppName}/${StreamName} with.
func (s *Stream) Identity() (vhost, app, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vhost, s.app, s.name
}

// Tracks returns a snapshot of the stream's current tracks.
func (s *Stream) Tracks() []*models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Track, 0, len(s.tracks))
	for _, ts := range s.tracks {
		out = append(out, ts.track)
	}
	return out
}

// Playlists returns every declared (or synthesized) playlist.
func (s *Stream) Playlists() []*models.Playlist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Playlist, 0, len(s.playlists))
	for _, pl := range s.playlists {
		out = append(out, pl)
	}
	return out
}

// MinLastSegmentNumber returns the smallest "last closed segment"
// across all tracks (§4.7: a runtime dump back-dumps "the current
// minimum last segment across tracks").
func (s *Stream) MinLastSegmentNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	min := int64(-1)
	first := true
	for _, ts := range s.tracks {
		n := ts.store.GetLastSegmentNumber()
		if first || n < min {
			min = n
			first = false
		}
	}
	return min
}

// RetainSegments increments the dump-retention refcount on every
// track's storage, suspending sliding-window eviction (§9 "Dump
// retention vs. sliding-window eviction").
func (s *Stream) RetainSegments() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ts := range s.tracks {
		ts.store.Retain()
	}
}

// ReleaseSegments decrements the refcount, resuming eviction once it
// reaches zero.
func (s *Stream) ReleaseSegments() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ts := range s.tracks {
		ts.store.Release()
	}
}

// SetSaveOldSegmentInfo flips SaveOldSegmentInfo on every track's
// chunklist (§4.7: required before a late dump can back-dump
// older entries).
func (s *Stream) SetSaveOldSegmentInfo(save bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ts := range s.tracks {
		ts.chunklist.SaveOldSegmentInfo(save)
	}
}

// RenderChunklistForDump renders track's chunklist starting from
// firstSegment, the "first dumped segment" override named in §4.7.
func (s *Stream) RenderChunklistForDump(trackID int32, firstSegment int64) (string, bool) {
	s.mu.RLock()
	ts, ok := s.tracks[trackID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	return ts.chunklist.ToString(chunklist.RenderOptions{
		FirstSegOverride: firstSegment,
		HasOverride:      true,
	}), true
}

// notifyDumpSinks is called after a track's segment closes (wired from
// packagerListener.OnSegment).
func (s *Stream) notifyDumpSinks(trackID int32, segmentNumber int64) {
	s.mu.RLock()
	sinks := s.dumpSinks
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink.OnSegmentClosed(trackID, segmentNumber)
	}
}

// notifyDumpSinksReady is called once, on the readiness false→true
// transition (wired from checkReadiness).
func (s *Stream) notifyDumpSinksReady() {
	s.mu.RLock()
	sinks := s.dumpSinks
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink.OnReadyForPlay()
	}
}
