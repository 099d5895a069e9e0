package registry

import (
	"testing"

	"llhls/internal/masterplaylist"
	"llhls/internal/stream"
)

func testConfig() stream.Config {
	return stream.Config{
		ChunkDurationMs:    100,
		SegmentDurationMs:  500,
		MaxSegments:        5,
		ChunklistPathDepth: masterplaylist.DepthSameDirectory,
	}
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	r := New(nil, nil)
	e, err := r.Create("vhost", "live", "alice", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r.Get("live", "alice")
	if !ok || got != e {
		t.Fatal("expected Get to return the created entry")
	}
}

func TestCreateRejectsDuplicateLiveStream(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Create("vhost", "live", "bob", testConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create("vhost", "live", "bob", testConfig()); err == nil {
		t.Fatal("expected second Create for the same live path to fail")
	}
}

func TestCreateAllowedAfterRemove(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Create("vhost", "live", "carol", testConfig()); err != nil {
		t.Fatal(err)
	}
	r.Remove("live", "carol")
	if _, err := r.Create("vhost", "live", "carol", testConfig()); err != nil {
		t.Fatalf("expected Create to succeed after Remove, got %v", err)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	r := New(nil, nil)
	if _, ok := r.Get("live", "nobody"); ok {
		t.Fatal("expected Get on unknown path to report not found")
	}
}

func TestListCountsAllEntries(t *testing.T) {
	r := New(nil, nil)
	r.Create("vhost", "live", "a", testConfig())
	r.Create("vhost", "live", "b", testConfig())
	if n := r.Count(); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected List to return 2 entries")
	}
}

func TestCreateRejectsOverMaxStreams(t *testing.T) {
	r := New(nil, nil)
	r.SetMaxStreams(1)
	if _, err := r.Create("vhost", "live", "first", testConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create("vhost", "live", "second", testConfig()); err == nil {
		t.Fatal("expected Create to fail once at max concurrent streams")
	}
}

func TestCreateAllowedAfterRemoveFreesMaxStreamsSlot(t *testing.T) {
	r := New(nil, nil)
	r.SetMaxStreams(1)
	if _, err := r.Create("vhost", "live", "first", testConfig()); err != nil {
		t.Fatal(err)
	}
	r.Remove("live", "first")
	if _, err := r.Create("vhost", "live", "second", testConfig()); err != nil {
		t.Fatalf("expected Create to succeed after Remove frees a slot, got %v", err)
	}
}
