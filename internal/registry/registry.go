// Package registry is the in-memory stream directory the RTMP ingest
// adapter and the HTTP egress surface both look streams up through, by
// (app, name) publishing path.
//
// Grounded on the lifecycle registry shape of
// internal/streammanager/manager.go (CreateStream rejecting a
// still-live duplicate, GetStream, GetLiveStreams, StopStream),
// adapted from a single flat streamKey map to a vhost/app/name lookup
// since the stream controller generates its own random streamKey for
// artifact naming, and from *models.Stream to the
// entries this module wires (a *stream.Stream plus its bound
// *dump.Manager).
package registry

import (
	"fmt"
	"sync"

	"llhls/internal/dump"
	"llhls/internal/metrics"
	"llhls/internal/stream"
	"llhls/pkg/models"
)

// Entry is one live publish: the stream controller plus the dump
// manager bound to it.
type Entry struct {
	VHost, App, Name string
	Stream           *stream.Stream
	Dumps            *dump.Manager
}

// Registry is the process-wide directory of live streams.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry // "app/name" -> Entry

	opener      dump.StorageOpener
	dumpConfigs []models.DumpConfig

	metrics    *metrics.Metrics
	maxStreams int // 0 means unlimited
}

// New creates an empty registry. opener resolves a dump's output_path
// into a durable dumpstore.Storage; dumpConfigs is the statically
// configured dump set bound to every new stream.
func New(opener dump.StorageOpener, dumpConfigs []models.DumpConfig) *Registry {
	return &Registry{
		entries:     make(map[string]*Entry),
		opener:      opener,
		dumpConfigs: dumpConfigs,
	}
}

// SetMetrics installs m on the registry; every stream created
// afterward gets a metricsAdapter wired as both its stream.MetricsSink
// and its dump.Manager's MetricsSink.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// SetMaxStreams caps the number of simultaneously live streams Create
// will accept; 0 (the default) leaves it unlimited.
func (r *Registry) SetMaxStreams(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxStreams = n
}

// metricsAdapter bridges the narrow stream.MetricsSink and
// dump.MetricsSink interfaces to a concrete *metrics.Metrics, carrying
// the one piece of context (the stream's key) those interfaces don't
// take as a parameter.
type metricsAdapter struct {
	m         *metrics.Metrics
	streamKey string
}

func (a *metricsAdapter) FrameDropped(reason string) {
	a.m.RecordFrameDropped(a.streamKey, reason)
}

func (a *metricsAdapter) SegmentClosed(durationMs float64, sizeBytes int) {
	a.m.RecordSegment(durationMs/1000.0, int64(sizeBytes))
}

func (a *metricsAdapter) StreamStarted() { a.m.RecordStreamStart() }

func (a *metricsAdapter) StreamStopped(durationSeconds float64) {
	a.m.RecordStreamStop(durationSeconds)
}

func (a *metricsAdapter) DumpWriteSucceeded(dumpID string) { a.m.RecordDumpWrite(dumpID) }

func (a *metricsAdapter) DumpWriteFailed(dumpID string) { a.m.RecordDumpFailure(dumpID) }

func key(app, name string) string { return app + "/" + name }

// liveCount returns the number of entries whose stream isn't Stopped.
// Callers must hold r.mu.
func (r *Registry) liveCount() int {
	n := 0
	for _, e := range r.entries {
		if e.Stream.State() != stream.Stopped {
			n++
		}
	}
	return n
}

// Create registers a new stream for (vhost, app, name). Rejects a
// request for a path that already has a live stream, mirroring
// CreateStream's already-live rejection.
func (r *Registry) Create(vhost, app, name string, cfg stream.Config) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(app, name)
	if existing, ok := r.entries[k]; ok && existing.Stream.State() != stream.Stopped {
		return nil, fmt.Errorf("registry: stream %s is already live", k)
	}

	if r.maxStreams > 0 && r.liveCount() >= r.maxStreams {
		return nil, fmt.Errorf("registry: at max concurrent streams (%d)", r.maxStreams)
	}

	s, err := stream.New(vhost, app, name, cfg)
	if err != nil {
		return nil, err
	}

	dumps := dump.New(s, r.opener)

	if r.metrics != nil {
		adapter := &metricsAdapter{m: r.metrics, streamKey: s.StreamKey()}
		s.SetMetricsSink(adapter)
		dumps.SetMetrics(adapter)
	}

	dumps.BindConfigured(r.dumpConfigs)

	entry := &Entry{VHost: vhost, App: app, Name: name, Stream: s, Dumps: dumps}
	r.entries[k] = entry
	return entry, nil
}

// Get looks up a live or recently-stopped entry by publishing path.
func (r *Registry) Get(app, name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(app, name)]
	return e, ok
}

// List returns every registered entry.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Remove stops and evicts the entry at (app, name), if present.
func (r *Registry) Remove(app, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(app, name)
	if e, ok := r.entries[k]; ok {
		e.Stream.Stop()
		delete(r.entries, k)
	}
}

// Count returns the number of registered streams, live or stopped.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
