package stream

import (
	"bytes"
	"compress/gzip"
	"fmt"

	"llhls/internal/chunklist"
	"llhls/internal/masterplaylist"
	"llhls/pkg/models"
)

// GetMasterPlaylist implements §4.5's get_master_playlist: NotFound
// if not Started, Accepted if not yet ready, otherwise cached-or-rendered
// bytes (cache keyed by file name, the "default" playlist installed at
// Start).
func (s *Stream) GetMasterPlaylist(name string, query string, gzipOut, legacy, includePath bool) (models.RequestResult, []byte) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != Started {
		return models.NotFound, nil
	}
	if !s.IsReadyToPlay() {
		return models.Accepted, nil
	}

	s.mu.RLock()
	pl, ok := s.playlists[name]
	cached, hasCache := s.masterCache[name]
	s.mu.RUnlock()
	if !ok {
		return models.NotFound, nil
	}

	var raw []byte
	if hasCache && !includePath {
		raw = cached.bytes
	} else {
		raw = s.renderMaster(pl, includePath)
		if !includePath {
			s.mu.Lock()
			s.masterCache[name] = masterCacheEntry{bytes: raw}
			s.mu.Unlock()
		}
	}

	if gzipOut {
		gz, err := gzipBytes(raw)
		if err != nil {
			return models.NotFound, nil
		}
		return models.Success, gz
	}
	return models.Success, raw
}

func (s *Stream) renderMaster(pl *models.Playlist, includePath bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolve := func(name string) (*models.Track, bool) {
		for _, ts := range s.tracks {
			if ts.track.Name == name {
				return ts.track, true
			}
		}
		return nil, false
	}
	return masterplaylist.Render(pl, resolve, s.cfg.ChunklistPathDepth, s.vhost, s.app, s.name, s.streamKey, includePath)
}

// GetChunklist implements get_chunklist (§4.5): Accepted if not
// ready, Accepted if the requested (msn, psn) is beyond what's been
// produced yet (blocking reload), otherwise a rendered chunklist.
func (s *Stream) GetChunklist(query string, trackID int32, msn, psn int64, skip, gzipOut, legacy bool) (models.RequestResult, []byte) {
	s.mu.RLock()
	state := s.state
	ts, ok := s.tracks[trackID]
	s.mu.RUnlock()
	if state != Started || !ok {
		return models.NotFound, nil
	}
	if !s.IsReadyToPlay() {
		return models.Accepted, nil
	}

	if msn >= 0 {
		lastMSN, lastPart := ts.chunklist.GetLastSequenceNumber()
		if (msn > lastMSN) || (msn == lastMSN && psn > lastPart) {
			return models.Accepted, nil
		}
	}

	raw := ts.chunklist.ToString(chunklist.RenderOptions{Query: query, Skip: skip, Legacy: legacy})
	if gzipOut {
		gz, err := gzipBytes([]byte(raw))
		if err != nil {
			return models.NotFound, nil
		}
		return models.Success, gz
	}
	return models.Success, []byte(raw)
}

// GetInitializationSegment implements get_initialization_segment.
func (s *Stream) GetInitializationSegment(trackID int32) (models.RequestResult, []byte) {
	s.mu.RLock()
	ts, ok := s.tracks[trackID]
	s.mu.RUnlock()
	if !ok {
		return models.NotFound, nil
	}
	b := ts.store.GetInitializationSection()
	if b == nil {
		return models.NotFound, nil
	}
	return models.Success, b
}

// GetSegment implements get_segment: honors the block/preload
// discipline (n > last_segment ⇒ NotFound).
func (s *Stream) GetSegment(trackID int32, n int64) (models.RequestResult, []byte) {
	s.mu.RLock()
	ts, ok := s.tracks[trackID]
	s.mu.RUnlock()
	if !ok {
		return models.NotFound, nil
	}
	seg := ts.store.GetMediaSegment(n)
	if seg == nil {
		return models.NotFound, nil
	}
	return models.Success, seg.Bytes
}

// GetChunk implements get_chunk: n == last_segment && k > last_chunk ⇒
// Accepted (blocking reload); n > last_segment ⇒ NotFound.
func (s *Stream) GetChunk(trackID int32, n, k int64) (models.RequestResult, []byte) {
	s.mu.RLock()
	ts, ok := s.tracks[trackID]
	s.mu.RUnlock()
	if !ok {
		return models.NotFound, nil
	}

	lastSeg, lastChunk := ts.store.GetLastSequenceNumber()
	if n > lastSeg {
		return models.NotFound, nil
	}
	if n == lastSeg && k > lastChunk {
		return models.Accepted, nil
	}

	c := ts.store.GetMediaChunk(n, k)
	if c == nil {
		return models.NotFound, nil
	}
	return models.Success, c.Bytes
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
