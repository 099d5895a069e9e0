package packager

import (
	"testing"

	"llhls/internal/fmp4store"
	"llhls/pkg/models"
)

type recorder struct {
	chunks   []ChunkEvent
	segments []SegmentEvent
}

func (r *recorder) OnChunk(e ChunkEvent)     { r.chunks = append(r.chunks, e) }
func (r *recorder) OnSegment(e SegmentEvent) { r.segments = append(r.segments, e) }

func videoTrack() *models.Track {
	return &models.Track{
		TrackID:   0,
		MediaType: models.Video,
		CodecID:   models.CodecH264,
		Timebase:  models.Timebase{Num: 1, Den: 90000},
	}
}

func audioTrack() *models.Track {
	return &models.Track{
		TrackID:   1,
		MediaType: models.Audio,
		CodecID:   models.CodecAAC,
		Timebase:  models.Timebase{Num: 1, Den: 48000},
	}
}

func videoPacket(dts int64, duration int64, keyFrame bool) *models.MediaPacket {
	return &models.MediaPacket{
		TrackID:    0,
		MediaType:  models.Video,
		PacketType: models.PacketVideo,
		DTS:        dts,
		PTS:        dts,
		Duration:   duration,
		Flags:      models.SampleFlags{KeyFrame: keyFrame},
		Payload:    []byte{0, 0, 0, 1, 0x65, 0xAA, 0xBB},
	}
}

func TestNewRejectsUnsupportedCodec(t *testing.T) {
	track := &models.Track{TrackID: 2, MediaType: models.Video, CodecID: models.CodecVP9}
	if _, err := New(track, fmp4store.NewStore(nil, 5), 0, 0, nil); err == nil {
		t.Fatal("expected error constructing packager for unsupported codec")
	}
}

func TestOutOfOrderDTSIsFatal(t *testing.T) {
	track := videoTrack()
	p, err := New(track, fmp4store.NewStore(nil, 5), 100, 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Push(videoPacket(90000, 90000, true)); err != nil {
		t.Fatalf("unexpected error on first push: %v", err)
	}
	err = p.Push(videoPacket(45000, 90000, true))
	if err == nil {
		t.Fatal("expected ErrOutOfOrder")
	}
}

func TestVideoChunkOnlyStartsAtKeyFrame(t *testing.T) {
	track := videoTrack()
	rec := &recorder{}
	// chunk target is tiny so every non-key sample would cross it, but a
	// chunk boundary must still wait for the next key frame.
	p, err := New(track, fmp4store.NewStore(nil, 5), 1, 100000, rec)
	if err != nil {
		t.Fatal(err)
	}

	must(t, p.Push(videoPacket(0, 9000, true)))       // key, 100ms
	must(t, p.Push(videoPacket(9000, 9000, false)))   // non-key, would cross chunk target but can't close
	must(t, p.Push(videoPacket(18000, 9000, false)))  // still non-key
	if len(rec.chunks) != 0 {
		t.Fatalf("expected no chunk closed before next key frame, got %d", len(rec.chunks))
	}

	must(t, p.Push(videoPacket(27000, 9000, true))) // key frame closes the pending chunk
	if len(rec.chunks) != 1 {
		t.Fatalf("expected 1 chunk closed at key frame, got %d", len(rec.chunks))
	}
	if rec.chunks[0].ChunkNumber != 0 || !rec.chunks[0].Independent {
		t.Fatalf("expected first chunk independent at number 0, got %+v", rec.chunks[0])
	}
}

func TestSegmentBoundaryClosesOnKeyFrameAfterTarget(t *testing.T) {
	track := videoTrack()
	rec := &recorder{}
	p, err := New(track, fmp4store.NewStore(nil, 5), 100, 1000, rec)
	if err != nil {
		t.Fatal(err)
	}

	// 11 key frames of 100ms each: segment target is 1000ms, so the 11th
	// key frame (after accumulating 1000ms) must close both chunk and segment.
	for i := 0; i < 11; i++ {
		must(t, p.Push(videoPacket(int64(i)*9000, 9000, true)))
	}
	if len(rec.segments) != 1 {
		t.Fatalf("expected exactly 1 segment closed, got %d", len(rec.segments))
	}
	if rec.segments[0].SegmentNumber != 0 {
		t.Fatalf("expected segment 0 to close, got %d", rec.segments[0].SegmentNumber)
	}
}

func TestAudioChunksAreAlwaysIndependent(t *testing.T) {
	track := audioTrack()
	rec := &recorder{}
	p, err := New(track, fmp4store.NewStore(nil, 5), 1, 100000, rec)
	if err != nil {
		t.Fatal(err)
	}

	pkt := &models.MediaPacket{
		TrackID:    1,
		MediaType:  models.Audio,
		PacketType: models.PacketAudio,
		DTS:        0,
		PTS:        0,
		Duration:   1024,
		Payload:    []byte{0xAA, 0xBB, 0xCC},
	}
	must(t, p.Push(pkt))
	pkt2 := *pkt
	pkt2.DTS = 1024
	pkt2.PTS = 1024
	must(t, p.Push(&pkt2))

	if len(rec.chunks) != 1 {
		t.Fatalf("expected 1 chunk closed (second sample opens next), got %d", len(rec.chunks))
	}
	if !rec.chunks[0].Independent {
		t.Fatal("expected audio chunk to be independent")
	}
}

func TestFlushClosesTrailingChunkAndSegment(t *testing.T) {
	track := videoTrack()
	rec := &recorder{}
	p, err := New(track, fmp4store.NewStore(nil, 5), 100000, 100000, rec)
	if err != nil {
		t.Fatal(err)
	}
	must(t, p.Push(videoPacket(0, 9000, true)))
	if len(rec.chunks) != 0 {
		t.Fatal("expected no chunk closed before flush")
	}
	if err := p.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(rec.chunks) != 1 || len(rec.segments) != 1 {
		t.Fatalf("expected flush to close both chunk and segment, got chunks=%d segments=%d", len(rec.chunks), len(rec.segments))
	}
}

func TestDataPacketUnsupportedBitstreamIsDropped(t *testing.T) {
	track := videoTrack()
	p, err := New(track, fmp4store.NewStore(nil, 5), 100, 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	pkt := &models.MediaPacket{
		TrackID:         0,
		PacketType:      models.PacketVideoEvent,
		BitstreamFormat: models.BitstreamUnknown,
		Payload:         []byte("ignored"),
	}
	if err := p.Push(pkt); err != nil {
		t.Fatalf("expected drop, not error: %v", err)
	}
	if len(p.dataFIFO) != 0 {
		t.Fatal("expected unsupported-format data packet not to be queued")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
