// Package stream is the Stream Controller component (§4.5, C6):
// it owns the per-stream lifecycle, the pre-roll buffer drained at
// Start, the track maps (C2/C3/C4 triples), the readiness gate, and
// the egress/ingress entry points the RTMP adapter and HTTP surface
// call into.
//
// Grounded on the lifecycle/registry shape of
// internal/streammanager/manager.go (CreateStream/StopStream/state
// machine) and its pub/sub (events.go here plays the role its
// Subscribe did), generalized from a single frame channel per stream
// to a per-track storage/packager/chunklist triple plus readiness
// gating.
package stream

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"llhls/internal/artifact"
	"llhls/internal/chunklist"
	"llhls/internal/fmp4"
	"llhls/internal/fmp4store"
	"llhls/internal/masterplaylist"
	"llhls/internal/packager"
	"llhls/pkg/models"
)

// State is the stream lifecycle (§4.5).
type State int

const (
	Created State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// maxInitialMediaPacketBufferSize bounds the pre-roll buffer (§4.5's
// MAX_INITIAL_MEDIA_PACKET_BUFFER_SIZE).
const maxInitialMediaPacketBufferSize = 512

// Config carries the per-stream packager/chunklist tuning knobs (§6
// "Configuration options").
type Config struct {
	ChunkDurationMs        float64
	SegmentDurationMs      float64
	MaxSegments            int
	ConfiguredPartHoldBack float64 // seconds
	ChunklistPathDepth     masterplaylist.PathDepth
}

// trackState bundles one track's C2/C3/C4 triple.
type trackState struct {
	track     *models.Track
	store     *fmp4store.Store
	packager  *packager.Packager
	chunklist *chunklist.Chunklist
}

// Stream is one published stream's controller instance.
type Stream struct {
	mu sync.RWMutex

	vhost, app, name string
	streamKey        string
	cfg              Config

	state State

	tracks map[int32]*trackState

	playlists     map[string]*models.Playlist
	masterCache   map[string]masterCacheEntry

	preRoll     []*models.MediaPacket
	preRollOnce sync.Once

	readyMu sync.RWMutex
	ready   bool

	events *broadcaster

	onTrackError func(trackID int32, err error)
	dumpSinks    []DumpSink
	metricsSink  MetricsSink
	startedAt    time.Time
}

// MetricsSink receives the handful of instrumentation events the core
// itself doesn't otherwise surface: the core logs with the standard
// "log" package (matching the teacher's ambient logging, see e.g.
// packager.go's unrecognized-bitstream-format drop) but never imports
// a metrics library directly, so the registry wires a concrete
// implementation backed by internal/metrics (§1: metrics/observability
// are an external-collaborator concern, same footing as logging).
type MetricsSink interface {
	FrameDropped(reason string)
	SegmentClosed(durationMs float64, sizeBytes int)
	StreamStarted()
	StreamStopped(durationSeconds float64)
}

// SetMetricsSink installs sink for future FrameDropped/SegmentClosed
// notifications. Safe to leave unset; a nil sink is simply never called.
func (s *Stream) SetMetricsSink(sink MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsSink = sink
}

type masterCacheEntry struct {
	bytes []byte
}

// New creates a stream in state Created. vhost/app/name are used for
// dump output_path substitution (§4.7) and are not otherwise
// interpreted by the core.
func New(vhost, app, name string, cfg Config) (*Stream, error) {
	key, err := randomStreamKey()
	if err != nil {
		return nil, fmt.Errorf("stream %s/%s: %w", app, name, err)
	}
	return &Stream{
		vhost:       vhost,
		app:         app,
		name:        name,
		streamKey:   key,
		cfg:         cfg,
		state:       Created,
		tracks:      make(map[int32]*trackState),
		playlists:   make(map[string]*models.Playlist),
		masterCache: make(map[string]masterCacheEntry),
		events:      newBroadcaster(),
	}, nil
}

func randomStreamKey() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// OnTrackError installs a callback invoked when a track's packager
// hits a fatal error (§4.2 "Failure modes": OutOfOrder).
func (s *Stream) OnTrackError(f func(trackID int32, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrackError = f
}

// StreamKey returns the 8-byte random key mixed into artifact names.
func (s *Stream) StreamKey() string { return s.streamKey }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AddTrack registers a track and builds its C2/C3/C4 triple: the init
// segment, store, chunklist and packager are all created here. Called
// by the caller (RTMP adapter) once per discovered track, before
// Start. Returns UnsupportedCodec-shaped errors for codecs the
// packager can't box; the caller logs and skips per §4.4/§7.
func (s *Stream) AddTrack(track *models.Track, declaredPlaylists []*models.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Created {
		return fmt.Errorf("stream %s: AddTrack after Start", s.name)
	}

	if track.MediaType != models.Data && !track.CodecID.Supported() {
		log.Printf("stream %s: track %d: unsupported codec %s, excluded", s.name, track.TrackID, track.CodecID)
		return fmt.Errorf("unsupported codec %s", track.CodecID)
	}

	var initBytes []byte
	if track.MediaType != models.Data {
		var err error
		initBytes, err = fmp4.BuildInitSegment(track)
		if err != nil {
			return fmt.Errorf("stream %s: track %d: init segment failure: %w", s.name, track.TrackID, err)
		}
	}

	store := fmp4store.NewStore(initBytes, s.cfg.MaxSegments)
	cl := chunklist.New(track.TrackID, track.MediaType, s.streamKey)

	ts := &trackState{track: track, store: store, chunklist: cl}

	if track.MediaType != models.Data {
		p, err := packager.New(track, store, s.cfg.ChunkDurationMs, s.cfg.SegmentDurationMs, &packagerListener{stream: s, trackID: track.TrackID})
		if err != nil {
			return fmt.Errorf("stream %s: track %d: %w", s.name, track.TrackID, err)
		}
		ts.packager = p
	}

	s.tracks[track.TrackID] = ts

	for _, pl := range declaredPlaylists {
		s.playlists[pl.Name] = pl
	}
	return nil
}

// Start transitions Created → Started, draining the pre-roll buffer
// into each track's packager (§4.5). If no declared playlist
// exists, a synthetic "default" one is installed.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.state != Created {
		s.mu.Unlock()
		return fmt.Errorf("stream %s: Start from state %s", s.name, s.state)
	}
	if len(s.tracks) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("stream %s: Start with no supported track", s.name)
	}
	if len(s.playlists) == 0 {
		ids := make([]int32, 0, len(s.tracks))
		for id := range s.tracks {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		tracks := make([]*models.Track, 0, len(ids))
		for _, id := range ids {
			tracks = append(tracks, s.tracks[id].track)
		}
		def := masterplaylist.Default(tracks)
		s.playlists[def.Name] = def
	}
	s.state = Started
	s.startedAt = time.Now()
	buffered := s.preRoll
	s.preRoll = nil
	sink := s.metricsSink
	s.mu.Unlock()

	if sink != nil {
		sink.StreamStarted()
	}

	for _, pkt := range buffered {
		s.dispatchToPackager(pkt)
	}
	return nil
}

// Stop transitions to Stopped, flushing every packager and clearing
// C2/C3/C4 state under their write locks (§4.5, §5). In-flight
// reads holding a shared pointer to a segment continue to see valid
// bytes; subsequent lookups return NotFound.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	flushing := make([]*trackState, 0, len(s.tracks))
	for _, ts := range s.tracks {
		flushing = append(flushing, ts)
	}
	s.mu.Unlock()

	// Flush outside s.mu: a closing chunk reaches packagerListener,
	// which takes s.mu for reading.
	for _, ts := range flushing {
		if ts.packager != nil {
			if err := ts.packager.Flush(); err != nil {
				log.Printf("stream %s: track %d: flush on stop: %v", s.name, ts.track.TrackID, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	wasStarted := !s.startedAt.IsZero()
	duration := time.Since(s.startedAt).Seconds()
	sink := s.metricsSink
	s.state = Stopped
	s.tracks = make(map[int32]*trackState)
	s.events.closeAll()

	if wasStarted && sink != nil {
		sink.StreamStopped(duration)
	}
}

// packagerListener adapts packager events into chunklist updates and
// the PlaylistUpdated broadcast (§4.2 "Emits", §4.5 "Event broadcast").
type packagerListener struct {
	stream  *Stream
	trackID int32
}

func (l *packagerListener) OnChunk(ev packager.ChunkEvent) {
	s := l.stream
	s.mu.RLock()
	ts := s.tracks[l.trackID]
	s.mu.RUnlock()
	if ts == nil {
		return
	}

	uri := artifact.Partial(l.trackID, ev.SegmentNumber, ev.ChunkNumber, ts.track.MediaType.String(), s.streamKey)
	ts.chunklist.AppendPartialSegmentInfo(ev.SegmentNumber, chunklist.PartInfo{
		SegmentNumber: ev.SegmentNumber,
		ChunkNumber:   ev.ChunkNumber,
		DurationMs:    ev.DurationMs,
		Independent:   ev.Independent,
		URI:           uri,
	})

	s.checkReadiness()
	s.events.Publish(PlaylistUpdated{TrackID: l.trackID, MSN: ev.SegmentNumber, Part: ev.ChunkNumber})
}

func (l *packagerListener) OnSegment(ev packager.SegmentEvent) {
	s := l.stream
	s.mu.RLock()
	ts := s.tracks[l.trackID]
	s.mu.RUnlock()
	if ts == nil {
		return
	}

	uri := artifact.Segment(l.trackID, ev.SegmentNumber, ts.track.MediaType.String(), s.streamKey)
	ts.chunklist.AppendSegmentInfo(chunklist.SegmentInfo{
		SegmentNumber: ev.SegmentNumber,
		DurationMs:    ev.DurationMs,
		URI:           uri,
	}, s.cfg.MaxSegments)

	s.mu.RLock()
	sink := s.metricsSink
	s.mu.RUnlock()
	if sink != nil {
		sink.SegmentClosed(ev.DurationMs, ev.SizeBytes)
	}

	s.notifyDumpSinks(l.trackID, ev.SegmentNumber)
}

// dispatchToPackager routes one packet to a packager, reporting a
// fatal out-of-order error to the installed callback (§4.2 "Failure
// modes").
func (s *Stream) dispatchToPackager(pkt *models.MediaPacket) {
	s.mu.RLock()
	ts := s.trackForDispatch(pkt)
	cb := s.onTrackError
	s.mu.RUnlock()
	if ts == nil || ts.packager == nil {
		return
	}
	if err := ts.packager.Push(pkt); err != nil {
		log.Printf("stream %s: track %d: packager error: %v", s.name, pkt.TrackID, err)
		if cb != nil {
			cb(pkt.TrackID, err)
		}
	}
}

// trackForDispatch resolves the packager a packet is pushed into.
// Ordinary media packets target their own track_id; ID3v2 data
// packets (§4.2 step 5) are reserved against the next chunk of the
// track correlated by packet_type (video for VideoEvent, audio for
// AudioEvent), never a data track's own id. Must be called with s.mu
// held for reading.
func (s *Stream) trackForDispatch(pkt *models.MediaPacket) *trackState {
	switch pkt.PacketType {
	case models.PacketVideoEvent:
		return s.trackByMediaType(models.Video)
	case models.PacketAudioEvent:
		return s.trackByMediaType(models.Audio)
	default:
		return s.tracks[pkt.TrackID]
	}
}

func (s *Stream) trackByMediaType(mt models.MediaType) *trackState {
	for _, ts := range s.tracks {
		if ts.track.MediaType == mt {
			return ts
		}
	}
	return nil
}

// sendFrame is the shared implementation of send_video_frame /
// send_audio_frame / send_data_frame (§4.5): while Created,
// enqueue into the pre-roll buffer (dropping the oldest on overflow);
// otherwise forward directly.
func (s *Stream) sendFrame(pkt *models.MediaPacket) {
	s.mu.Lock()
	if s.state == Created {
		s.preRoll = append(s.preRoll, pkt)
		overflowed := false
		if len(s.preRoll) > maxInitialMediaPacketBufferSize {
			s.preRoll = s.preRoll[1:]
			overflowed = true
		}
		sink := s.metricsSink
		s.mu.Unlock()
		if overflowed && sink != nil {
			sink.FrameDropped("preroll_overflow")
		}
		return
	}
	s.mu.Unlock()
	s.dispatchToPackager(pkt)
}

// SendVideoFrame, SendAudioFrame, SendDataFrame are the ingress entry
// points named in §4.5/§6.
func (s *Stream) SendVideoFrame(pkt *models.MediaPacket) { s.sendFrame(pkt) }
func (s *Stream) SendAudioFrame(pkt *models.MediaPacket) { s.sendFrame(pkt) }
func (s *Stream) SendDataFrame(pkt *models.MediaPacket)  { s.sendFrame(pkt) }

// checkReadiness implements CheckPlaylistReady() (§4.5): becomes
// true the first time every track's storage has produced at least one
// segment. On the false→true transition it computes part_hold_back,
// pushes it to every chunklist, and flips one-way.
func (s *Stream) checkReadiness() {
	s.readyMu.RLock()
	alreadyReady := s.ready
	s.readyMu.RUnlock()
	if alreadyReady {
		return
	}

	s.mu.RLock()
	allReady := len(s.tracks) > 0
	maxChunkMs := 0.0
	for _, ts := range s.tracks {
		if ts.store.GetLastSegmentNumber() < 0 {
			allReady = false
		}
		if m := ts.store.MaxChunkDurationMs(); m > maxChunkMs {
			maxChunkMs = m
		}
	}
	tracks := s.tracks
	s.mu.RUnlock()

	if !allReady {
		return
	}

	s.readyMu.Lock()
	if s.ready {
		s.readyMu.Unlock()
		return
	}
	s.ready = true
	s.readyMu.Unlock()

	partHoldBack := s.cfg.ConfiguredPartHoldBack
	computed := 3 * maxChunkMs / 1000.0
	if computed > partHoldBack {
		partHoldBack = computed
	}
	for _, ts := range tracks {
		ts.chunklist.SetPartHoldBack(partHoldBack)
	}

	s.notifyDumpSinksReady()
}

// IsReadyToPlay reports the readiness gate's current value.
func (s *Stream) IsReadyToPlay() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}

// Subscribe exposes the PlaylistUpdated event stream to the HTTP
// layer's blocking-reload implementation (§9).
func (s *Stream) Subscribe(buffer int) (<-chan PlaylistUpdated, func()) {
	return s.events.Subscribe(buffer)
}
