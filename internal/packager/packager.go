// Package packager is the fMP4 Packager component (§4.2, C3): it
// takes ingress MediaPackets for one track, decides chunk and segment
// boundaries, asks internal/fmp4 to box the result, and writes the
// boxed bytes into an internal/fmp4store.Store. It notifies a caller
// (the stream controller, C6) whenever a chunk or segment closes.
//
// Grounded on the chunk-accumulation/finalize loop in
// internal/segmenter/segmenter.go's PlaylistManager.addFrame and
// finalizeSegment, generalized from a fixed ticker-driven segment
// boundary to a keyframe/duration rule and split into a chunk boundary
// and a segment boundary, both applied by every packager; for video,
// both wait for a key frame (§4.2 steps 2-3).
package packager

import (
	"fmt"
	"log"
	"sync"

	"llhls/internal/fmp4"
	"llhls/internal/fmp4store"
	"llhls/pkg/models"
)

// ChunkEvent is delivered when a chunk closes.
type ChunkEvent struct {
	TrackID       int32
	SegmentNumber int64
	ChunkNumber   int64
	DurationMs    float64
	Independent   bool
}

// SegmentEvent is delivered when a segment closes.
type SegmentEvent struct {
	TrackID       int32
	SegmentNumber int64
	DurationMs    float64
	SizeBytes     int
}

// Listener receives packager events. The stream controller implements
// this to drive EXT-X-PART/EXT-X-PRELOAD-HINT updates and blocking
// reload wakeups (§4.2 "Emits").
type Listener interface {
	OnChunk(ChunkEvent)
	OnSegment(SegmentEvent)
}

// defaultChunkTargetMs and defaultSegmentTargetMs are the defaults used
// when a stream's config doesn't override them; the controller normally
// supplies explicit values from config.Load when stream.AddTrack calls New.
const (
	defaultChunkTargetMs   = 1000.0 / 3 // ~333ms, a typical LL-HLS part duration
	defaultSegmentTargetMs = 6000.0
)

// Packager accumulates samples for one track and produces chunks and
// segments. There must be exactly one writer goroutine per Packager
// (the ingress path for that track); reads of accumulated state are
// not exposed, all state lives behind the store this packager writes.
type Packager struct {
	mu sync.Mutex

	track *models.Track
	store *fmp4store.Store

	chunkTargetMs   float64
	segmentTargetMs float64

	pending         []fmp4.FragmentSample
	pendingStartPTS int64
	pendingDuration float64
	chunkSeq        uint32

	segDurationMs float64
	lastDTS       int64
	haveLastDTS   bool

	dataFIFO []*models.MediaPacket // correlated ID3v2 packets awaiting emsg emission

	listener Listener
}

// New creates a packager for track. store must already exist (its init
// bytes are built by the controller from fmp4.BuildInitSegment before
// this call, §4.2 step 1).
func New(track *models.Track, store *fmp4store.Store, chunkTargetMs, segmentTargetMs float64, listener Listener) (*Packager, error) {
	if !track.CodecID.Supported() && track.MediaType != models.Data {
		return nil, fmt.Errorf("packager for track %d: unsupported codec %s", track.TrackID, track.CodecID)
	}
	if chunkTargetMs <= 0 {
		chunkTargetMs = defaultChunkTargetMs
	}
	if segmentTargetMs <= 0 {
		segmentTargetMs = defaultSegmentTargetMs
	}
	return &Packager{
		track:           track,
		store:           store,
		chunkTargetMs:   chunkTargetMs,
		segmentTargetMs: segmentTargetMs,
		listener:        listener,
	}, nil
}

// durationMs converts track-timebase duration units to milliseconds.
func (p *Packager) durationMs(units int64) float64 {
	den := p.track.Timebase.Den
	if den == 0 {
		den = 90000
	}
	return float64(units) * 1000.0 / float64(den)
}

// ErrOutOfOrder is returned by Push when a sample's DTS regresses
// relative to the previous one on the same track (§4.2 "Failure
// modes": fatal to that track's packager).
var ErrOutOfOrder = fmt.Errorf("packager: out-of-order DTS")

// Push accepts one ingress packet (§4.2). Data-track packets are
// queued separately and boxed as emsg alongside the next chunk on
// their correlated track (step 5). Media packets are tested against
// the chunk-boundary rule *before* being appended: a sample only opens
// a new chunk once the accumulated duration of the chunk it would
// close has reached chunk_duration_ms, and for video only at a key
// frame (step 2).
func (p *Packager) Push(pkt *models.MediaPacket) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pkt.PacketType == models.PacketVideoEvent || pkt.PacketType == models.PacketAudioEvent {
		if pkt.BitstreamFormat != models.BitstreamID3v2 {
			log.Printf("packager: track %d: dropping data packet with unrecognized bitstream format %v", p.track.TrackID, pkt.BitstreamFormat)
			return nil
		}
		p.dataFIFO = append(p.dataFIFO, pkt)
		return nil
	}

	if p.haveLastDTS && pkt.DTS < p.lastDTS {
		return fmt.Errorf("%w: track %d dts %d < previous %d", ErrOutOfOrder, p.track.TrackID, pkt.DTS, p.lastDTS)
	}
	p.lastDTS = pkt.DTS
	p.haveLastDTS = true

	canStartChunk := p.track.MediaType != models.Video || pkt.Flags.KeyFrame
	if len(p.pending) > 0 && canStartChunk {
		mustStartChunk := p.pendingDuration >= p.chunkTargetMs || p.segDurationMs >= p.segmentTargetMs
		if mustStartChunk {
			closeSegment := p.segDurationMs >= p.segmentTargetMs
			if err := p.closeChunk(closeSegment); err != nil {
				return err
			}
		}
	}

	if len(p.pending) == 0 {
		p.pendingStartPTS = pkt.PTS
	}
	sample := fmp4.SamplesFromPacket(pkt)
	p.pending = append(p.pending, sample)
	durMs := p.durationMs(pkt.Duration)
	p.pendingDuration += durMs
	p.segDurationMs += durMs
	return nil
}

// closeChunk boxes pending samples into one moof+mdat fragment, appends
// it to the store, and optionally closes the segment.
func (p *Packager) closeChunk(closeSegment bool) error {
	independent := p.track.MediaType != models.Video || p.pending[0].KeyFrame || p.pending[0].Independent
	baseDecodeTime := uint64(p.pendingStartPTS)

	frag, err := fmp4.BuildFragment(p.track.TrackID, p.chunkSeq, baseDecodeTime, p.pending)
	if err != nil {
		return fmt.Errorf("packager: track %d: %w", p.track.TrackID, err)
	}
	p.chunkSeq++

	payload := p.maybePrependEmsg(frag)

	segNum, chunkNum := p.store.AppendChunk(payload, p.pendingStartPTS, p.pendingDuration, independent)
	if p.listener != nil {
		p.listener.OnChunk(ChunkEvent{
			TrackID:       p.track.TrackID,
			SegmentNumber: segNum,
			ChunkNumber:   chunkNum,
			DurationMs:    p.pendingDuration,
			Independent:   independent,
		})
	}

	p.pending = p.pending[:0]
	p.pendingDuration = 0

	if closeSegment {
		seg := p.store.CloseSegment()
		if p.listener != nil {
			p.listener.OnSegment(SegmentEvent{
				TrackID:       p.track.TrackID,
				SegmentNumber: seg.SegmentNumber,
				DurationMs:    seg.DurationMs,
				SizeBytes:     seg.Size,
			})
		}
		p.segDurationMs = 0
	}
	return nil
}

// maybePrependEmsg drains any correlated data packets queued since the
// last chunk and prepends their emsg boxes to this chunk's bytes
// (§4.2 step 5: data events ride the next chunk boundary on their
// correlated media track). A malformed payload drops just that one
// emsg rather than failing the chunk it rides on.
func (p *Packager) maybePrependEmsg(fragment []byte) []byte {
	if len(p.dataFIFO) == 0 {
		return fragment
	}
	out := make([]byte, 0, len(fragment))
	for _, pkt := range p.dataFIFO {
		delta := uint32(0)
		if pkt.PTS > p.pendingStartPTS {
			delta = uint32(p.durationMs(pkt.PTS - p.pendingStartPTS))
		}
		emsg, err := fmp4.BuildEmsg(delta, 0, uint32(pkt.TrackID), pkt.Payload)
		if err != nil {
			log.Printf("packager: track %d: build emsg: %v", p.track.TrackID, err)
			continue
		}
		out = append(out, emsg...)
	}
	p.dataFIFO = p.dataFIFO[:0]
	out = append(out, fragment...)
	return out
}

// Flush forces the current chunk (and, if non-empty, segment) closed.
// Called by the controller on stream stop (§4.6).
func (p *Packager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	return p.closeChunk(true)
}
