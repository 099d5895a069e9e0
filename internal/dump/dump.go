// Package dump is the Dump Manager component (§4.7, C7): it
// mirrors init segments, closed media segments, and chunklists for a
// stream into a durable internal/dumpstore.Storage target, honoring
// the placeholder substitution, idempotent start/stop, and the
// write-failure-disables-dump-for-segments-only policy §4.7
// and DESIGN.md's Open Question decision 1 describe.
//
// Grounded on the idempotent registry pattern in
// internal/streammanager/manager.go's CreateStream (duplicate-key
// rejection) and the dumpstore.Storage surface carried over from the
// internal/storage package.
package dump

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"llhls/internal/artifact"
	"llhls/internal/dumpstore"
	"llhls/internal/stream"
	"llhls/pkg/models"
)

// ErrDuplicate is returned by Start for a reused id or info_file_url
// (§4.7, §7 "Duplicate").
var ErrDuplicate = fmt.Errorf("dump: duplicate id or info_file_url")

// dumpState is one bound dump's runtime state.
type dumpState struct {
	cfg     models.DumpConfig
	storage dumpstore.Storage

	mu                 sync.Mutex
	firstSegmentNumber map[int32]int64 // track_id -> smallest segment ever dumped
	disabled           bool
}

// StorageOpener builds a durable Storage target for a dump's resolved
// output_path (local disk or GCS, as chosen by the caller that supplies
// the opener).
type StorageOpener func(outputPath string) (dumpstore.Storage, error)

// MetricsSink receives per-write instrumentation; see stream.MetricsSink
// for why this core package takes a narrow interface instead of
// importing internal/metrics directly.
type MetricsSink interface {
	DumpWriteSucceeded(dumpID string)
	DumpWriteFailed(dumpID string)
}

// Manager binds DumpConfigs to a stream.Stream and writes through to
// dumpstore.
type Manager struct {
	mu      sync.Mutex
	stream  *stream.Stream
	opener  StorageOpener
	dumps   map[string]*dumpState // id -> state
	infoURL map[string]bool       // seen info_file_url values

	metrics MetricsSink
}

// New creates a manager bound to one stream. opener resolves a dump's
// output_path template into a concrete Storage.
func New(s *stream.Stream, opener StorageOpener) *Manager {
	m := &Manager{
		stream:  s,
		opener:  opener,
		dumps:   make(map[string]*dumpState),
		infoURL: make(map[string]bool),
	}
	s.AddDumpSink(m)
	return m
}

// SetMetrics installs sink for future write-success/failure notifications.
func (m *Manager) SetMetrics(sink MetricsSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = sink
}

// BindConfigured binds every DumpConfig whose TargetStreamNameRegex
// matches the stream's name, substituting ${VHostName}/${AppName}/
// ${StreamName} into output_path (§4.7 "At Start, the controller
// binds each matching dump to the stream"). Called once when the
// registry creates the stream, before Start.
func (m *Manager) BindConfigured(configs []models.DumpConfig) {
	vhost, app, name := m.stream.Identity()
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		matched, err := regexp.MatchString(cfg.TargetStreamNameRegex, name)
		if err != nil || !matched {
			continue
		}
		resolved := cfg
		resolved.OutputPath = substitutePlaceholders(cfg.OutputPath, vhost, app, name)
		if err := m.Start(resolved, false); err != nil {
			log.Printf("dump: bind %q to stream %s: %v", cfg.ID, name, err)
		}
	}
}

func substitutePlaceholders(path, vhost, app, name string) string {
	path = strings.ReplaceAll(path, "${VHostName}", vhost)
	path = strings.ReplaceAll(path, "${AppName}", app)
	path = strings.ReplaceAll(path, "${StreamName}", name)
	return path
}

// Start implements start_dump: idempotent on duplicate id or
// info_file_url. backfill controls whether this is a runtime start
// after readiness (true) or a bind from BindConfigured (false, which handles
// backfill via the readiness-time dump pass instead).
func (m *Manager) Start(cfg models.DumpConfig, backfill bool) error {
	m.mu.Lock()
	if _, exists := m.dumps[cfg.ID]; exists {
		m.mu.Unlock()
		return ErrDuplicate
	}
	if cfg.InfoFileURL != "" && m.infoURL[cfg.InfoFileURL] {
		m.mu.Unlock()
		return ErrDuplicate
	}

	st, err := m.opener(cfg.OutputPath)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("dump: open storage for %q: %w", cfg.ID, err)
	}

	ds := &dumpState{
		cfg:                cfg,
		storage:            st,
		firstSegmentNumber: make(map[int32]int64),
	}
	m.dumps[cfg.ID] = ds
	if cfg.InfoFileURL != "" {
		m.infoURL[cfg.InfoFileURL] = true
	}
	m.mu.Unlock()

	m.stream.RetainSegments()

	streamKey := m.stream.StreamKey()
	for _, t := range m.stream.Tracks() {
		if res, b := m.stream.GetInitializationSegment(t.TrackID); res == models.Success {
			m.writeArtifactFor(ds, artifact.Init(t.TrackID, t.MediaType.String(), streamKey), b)
		}
	}

	if backfill && m.stream.IsReadyToPlay() {
		m.stream.SetSaveOldSegmentInfo(true)
		minLast := m.stream.MinLastSegmentNumber()
		for _, t := range m.stream.Tracks() {
			if minLast >= 0 {
				if res, b := m.stream.GetSegment(t.TrackID, minLast); res == models.Success {
					ds.recordFirstSegment(t.TrackID, minLast)
					m.writeArtifactFor(ds, artifact.Segment(t.TrackID, minLast, t.MediaType.String(), streamKey), b)
				}
			}
		}
		m.writeChunklists(ds)
	}

	m.writeMasterPlaylists(ds)
	return nil
}

// Stop implements stop_dump, releasing the retention refcount. If it
// was the last active dump, sliding-window eviction resumes and
// SaveOldSegmentInfo flips back to false (§4.7).
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	ds, ok := m.dumps[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.dumps, id)
	if ds.cfg.InfoFileURL != "" {
		delete(m.infoURL, ds.cfg.InfoFileURL)
	}
	remaining := len(m.dumps)
	m.mu.Unlock()

	m.stream.ReleaseSegments()
	if remaining == 0 {
		m.stream.SetSaveOldSegmentInfo(false)
	}
}

// OnReadyForPlay implements stream.DumpSink: a dump bound by
// BindConfigured before the stream had produced any segment found no
// tracks to write init segments for at bind time (§4.2 step 1 hasn't
// run yet when Create wires the dump). Catch those up here, once,
// along with every active dump's master playlists.
func (m *Manager) OnReadyForPlay() {
	m.mu.Lock()
	dumps := make([]*dumpState, 0, len(m.dumps))
	for _, ds := range m.dumps {
		dumps = append(dumps, ds)
	}
	m.mu.Unlock()

	streamKey := m.stream.StreamKey()
	for _, ds := range dumps {
		ds.mu.Lock()
		disabled := ds.disabled
		ds.mu.Unlock()
		if disabled {
			continue
		}
		for _, t := range m.stream.Tracks() {
			if res, b := m.stream.GetInitializationSegment(t.TrackID); res == models.Success {
				m.writeArtifactFor(ds, artifact.Init(t.TrackID, t.MediaType.String(), streamKey), b)
			}
		}
		m.writeMasterPlaylists(ds)
	}
}

// OnSegmentClosed implements stream.DumpSink: every active, enabled
// dump mirrors the closed segment and re-renders its chunklists from
// that track's first-dumped-segment onward.
func (m *Manager) OnSegmentClosed(trackID int32, segmentNumber int64) {
	m.mu.Lock()
	dumps := make([]*dumpState, 0, len(m.dumps))
	for _, ds := range m.dumps {
		dumps = append(dumps, ds)
	}
	m.mu.Unlock()

	var track *models.Track
	for _, t := range m.stream.Tracks() {
		if t.TrackID == trackID {
			track = t
			break
		}
	}
	if track == nil {
		return
	}

	res, b := m.stream.GetSegment(trackID, segmentNumber)
	if res != models.Success {
		return
	}

	m.mu.Lock()
	sink := m.metrics
	m.mu.Unlock()

	for _, ds := range dumps {
		ds.mu.Lock()
		disabled := ds.disabled
		ds.mu.Unlock()
		if disabled || !dumpsPlaylist(ds, m) {
			continue
		}
		ds.recordFirstSegment(trackID, segmentNumber)
		if err := ds.storage.Write(artifact.Segment(track.TrackID, segmentNumber, track.MediaType.String(), m.stream.StreamKey()), b); err != nil {
			log.Printf("dump: %q: write segment failed, disabling for segment writes: %v", ds.cfg.ID, err)
			ds.mu.Lock()
			ds.disabled = true
			ds.mu.Unlock()
			if sink != nil {
				sink.DumpWriteFailed(ds.cfg.ID)
			}
			continue
		}
		if sink != nil {
			sink.DumpWriteSucceeded(ds.cfg.ID)
		}
		m.writeChunklists(ds)
	}
}

func dumpsPlaylist(ds *dumpState, m *Manager) bool {
	if len(ds.cfg.Playlists) == 0 {
		return true
	}
	for _, pl := range m.stream.Playlists() {
		for _, name := range ds.cfg.Playlists {
			if name == pl.Name {
				return true
			}
		}
	}
	return false
}

func (m *Manager) writeChunklists(ds *dumpState) {
	for _, t := range m.stream.Tracks() {
		ds.mu.Lock()
		first, ok := ds.firstSegmentNumber[t.TrackID]
		ds.mu.Unlock()
		if !ok {
			continue
		}
		text, ok := m.stream.RenderChunklistForDump(t.TrackID, first)
		if !ok {
			continue
		}
		m.writeArtifactFor(ds, artifact.Chunklist(t.TrackID, t.MediaType.String(), m.stream.StreamKey()), []byte(text))
	}
}

// writeMasterPlaylists writes every declared master playlist. Per
// DESIGN.md Open Question decision 1, a write failure here only logs:
// it never disables the dump (master playlists are cheap to
// regenerate from still-live state on the next dump event).
func (m *Manager) writeMasterPlaylists(ds *dumpState) {
	for _, pl := range m.stream.Playlists() {
		res, b := m.stream.GetMasterPlaylist(pl.Name, "", false, false, true)
		if res != models.Success {
			continue
		}
		if err := ds.storage.Write(pl.Name+".m3u8", b); err != nil {
			log.Printf("dump: %q: write master playlist %q: %v", ds.cfg.ID, pl.Name, err)
		}
	}
}

func (ds *dumpState) recordFirstSegment(trackID int32, segmentNumber int64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cur, ok := ds.firstSegmentNumber[trackID]
	if !ok || segmentNumber < cur {
		ds.firstSegmentNumber[trackID] = segmentNumber
	}
}

func (m *Manager) writeArtifactFor(ds *dumpState, name string, data []byte) {
	m.mu.Lock()
	sink := m.metrics
	m.mu.Unlock()

	if err := ds.storage.Write(name, data); err != nil {
		log.Printf("dump: %q: write %q: %v", ds.cfg.ID, name, err)
		ds.mu.Lock()
		ds.disabled = true
		ds.mu.Unlock()
		if sink != nil {
			sink.DumpWriteFailed(ds.cfg.ID)
		}
		return
	}
	if sink != nil {
		sink.DumpWriteSucceeded(ds.cfg.ID)
	}
}
