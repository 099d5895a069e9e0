package muxer

import "testing"

func TestParseAudioSpecificConfig48kHzStereo(t *testing.T) {
	// objectType=2 (AAC-LC), freqIndex=3 (48000), channels=2
	asc := []byte{0x11, 0x90}
	cfg, err := ParseAudioSpecificConfig(asc)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("expected 48000Hz, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("expected 2 channels, got %d", cfg.Channels)
	}
	if cfg.ObjectType != 2 {
		t.Errorf("expected object type 2, got %d", cfg.ObjectType)
	}
}

func TestParseAudioSpecificConfigRejectsShortInput(t *testing.T) {
	if _, err := ParseAudioSpecificConfig([]byte{0x11}); err == nil {
		t.Fatal("expected error for 1-byte input")
	}
}

func TestParseFLVAudioPacketDetectsAACSequenceHeader(t *testing.T) {
	// soundFormat=10 (AAC) in the high nibble, AACPacketType=0 (sequence header)
	pkt := []byte{0xAF, 0x00, 0x11, 0x90}
	isAAC, isSeq, payload, err := ParseFLVAudioPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !isAAC {
		t.Fatal("expected AAC codec detected")
	}
	if !isSeq {
		t.Fatal("expected sequence header detected")
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2-byte AudioSpecificConfig payload, got %d bytes", len(payload))
	}
}

func TestParseFLVAudioPacketRawFrame(t *testing.T) {
	pkt := []byte{0xAF, 0x01, 0xDE, 0xAD, 0xBE, 0xEF}
	isAAC, isSeq, payload, err := ParseFLVAudioPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !isAAC || isSeq {
		t.Fatal("expected AAC raw frame, not a sequence header")
	}
	if len(payload) != 4 {
		t.Fatalf("expected 4 raw payload bytes, got %d", len(payload))
	}
}
