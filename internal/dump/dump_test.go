package dump

import (
	"os"
	"path/filepath"
	"testing"

	"llhls/internal/dumpstore"
	"llhls/internal/masterplaylist"
	"llhls/internal/stream"
	"llhls/pkg/models"
)

func localOpener(t *testing.T) StorageOpener {
	return func(outputPath string) (dumpstore.Storage, error) {
		return dumpstore.NewLocalStorage(outputPath)
	}
}

func newReadyStream(t *testing.T) *stream.Stream {
	t.Helper()
	s, err := stream.New("vhost", "app", "s1", stream.Config{
		ChunkDurationMs:    100,
		SegmentDurationMs:  500,
		MaxSegments:        3,
		ChunklistPathDepth: masterplaylist.DepthSameDirectory,
	})
	if err != nil {
		t.Fatal(err)
	}
	track := &models.Track{
		TrackID:    0,
		Name:       "a0",
		MediaType:  models.Audio,
		CodecID:    models.CodecAAC,
		Timebase:   models.Timebase{Num: 1, Den: 48000},
		SampleRate: 48000,
	}
	if err := s.AddTrack(track, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		s.SendAudioFrame(&models.MediaPacket{
			TrackID:    0,
			MediaType:  models.Audio,
			PacketType: models.PacketAudio,
			DTS:        int64(i) * 1024,
			PTS:        int64(i) * 1024,
			Duration:   1024,
			Payload:    []byte{0xAA, 0xBB},
		})
	}
	if !s.IsReadyToPlay() {
		t.Fatal("expected stream ready after 30 samples")
	}
	return s
}

func TestStartWritesInitSegmentAndMasterPlaylist(t *testing.T) {
	s := newReadyStream(t)
	m := New(s, localOpener(t))
	dir := t.TempDir()

	if err := m.Start(models.DumpConfig{ID: "d1", OutputPath: dir, Enabled: true}, true); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	foundInit, foundMaster := false, false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".m4s" {
			foundInit = true
		}
		if filepath.Ext(e.Name()) == ".m3u8" {
			foundMaster = true
		}
	}
	if !foundInit {
		t.Error("expected an init segment artifact written")
	}
	if !foundMaster {
		t.Error("expected a master playlist written")
	}
}

func TestStartRejectsDuplicateID(t *testing.T) {
	s := newReadyStream(t)
	m := New(s, localOpener(t))
	cfg := models.DumpConfig{ID: "dup", OutputPath: t.TempDir(), Enabled: true}
	if err := m.Start(cfg, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(cfg, false); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on repeat id, got %v", err)
	}
}

func TestStartRejectsDuplicateInfoFileURL(t *testing.T) {
	s := newReadyStream(t)
	m := New(s, localOpener(t))
	if err := m.Start(models.DumpConfig{ID: "a", OutputPath: t.TempDir(), Enabled: true, InfoFileURL: "http://x/info"}, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(models.DumpConfig{ID: "b", OutputPath: t.TempDir(), Enabled: true, InfoFileURL: "http://x/info"}, false); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on repeat info_file_url, got %v", err)
	}
}

func TestBindConfiguredBeforeTracksCatchesUpOnReadiness(t *testing.T) {
	s, err := stream.New("vhost", "app", "s1", stream.Config{
		ChunkDurationMs:    100,
		SegmentDurationMs:  500,
		MaxSegments:        3,
		ChunklistPathDepth: masterplaylist.DepthSameDirectory,
	})
	if err != nil {
		t.Fatal(err)
	}

	m := New(s, localOpener(t))
	dir := t.TempDir()
	m.BindConfigured([]models.DumpConfig{
		{ID: "d1", TargetStreamNameRegex: ".*", OutputPath: dir, Enabled: true},
	})

	// nothing to dump yet: BindConfigured ran before any track existed.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no artifacts before tracks exist, got %v", entries)
	}

	track := &models.Track{
		TrackID:    0,
		Name:       "a0",
		MediaType:  models.Audio,
		CodecID:    models.CodecAAC,
		Timebase:   models.Timebase{Num: 1, Den: 48000},
		SampleRate: 48000,
	}
	if err := s.AddTrack(track, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		s.SendAudioFrame(&models.MediaPacket{
			TrackID:    0,
			MediaType:  models.Audio,
			PacketType: models.PacketAudio,
			DTS:        int64(i) * 1024,
			PTS:        int64(i) * 1024,
			Duration:   1024,
			Payload:    []byte{0xAA, 0xBB},
		})
	}
	if !s.IsReadyToPlay() {
		t.Fatal("expected stream ready after 30 samples")
	}

	entries, err = os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	foundInit, foundMaster := false, false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".m4s" {
			foundInit = true
		}
		if filepath.Ext(e.Name()) == ".m3u8" {
			foundMaster = true
		}
	}
	if !foundInit {
		t.Error("expected readiness to trigger the missed init segment write")
	}
	if !foundMaster {
		t.Error("expected readiness to trigger the missed master playlist write")
	}
}

func TestRuntimeDumpRetainsSegmentsPastWindow(t *testing.T) {
	s := newReadyStream(t)
	m := New(s, localOpener(t))

	if err := m.Start(models.DumpConfig{ID: "retain", OutputPath: t.TempDir(), Enabled: true}, true); err != nil {
		t.Fatal(err)
	}

	// produce enough additional samples to close several more segments;
	// with max_segments=3 the window would normally evict, but the
	// active dump's refcount should keep every segment resident.
	for i := 30; i < 150; i++ {
		s.SendAudioFrame(&models.MediaPacket{
			TrackID:    0,
			MediaType:  models.Audio,
			PacketType: models.PacketAudio,
			DTS:        int64(i) * 1024,
			PTS:        int64(i) * 1024,
			Duration:   1024,
			Payload:    []byte{0xAA, 0xBB},
		})
	}

	if r, _ := s.GetSegment(0, 0); r != models.Success {
		t.Fatalf("expected segment 0 retained while dump is active, got %v", r)
	}

	m.Stop("retain")

	// the next segment close should resume normal eviction.
	for i := 150; i < 175; i++ {
		s.SendAudioFrame(&models.MediaPacket{
			TrackID:    0,
			MediaType:  models.Audio,
			PacketType: models.PacketAudio,
			DTS:        int64(i) * 1024,
			PTS:        int64(i) * 1024,
			Duration:   1024,
			Payload:    []byte{0xAA, 0xBB},
		})
	}
	if r, _ := s.GetSegment(0, 0); r != models.NotFound {
		t.Fatalf("expected segment 0 evicted after stop_dump resumes eviction, got %v", r)
	}
}
