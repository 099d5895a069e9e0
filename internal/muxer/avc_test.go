package muxer

import (
	"bytes"
	"testing"
)

func TestParseAVCDecoderConfigurationRecordExtractsSPSAndPPS(t *testing.T) {
	record := []byte{
		0x01, 0x42, 0x00, 0x1e, 0xFF, // version, profile, compat, level, reserved+lengthSize
		0xE1, 0x00, 0x03, 0x67, 0xAA, 0xBB, // numSPS=1, len=3, SPS
		0x01, 0x00, 0x02, 0x68, 0xCC, // numPPS=1, len=2, PPS
	}
	cfg, err := ParseAVCDecoderConfigurationRecord(record)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.SPS) != 1 || !bytes.Equal(cfg.SPS[0], []byte{0x67, 0xAA, 0xBB}) {
		t.Fatalf("unexpected SPS: %v", cfg.SPS)
	}
	if len(cfg.PPS) != 1 || !bytes.Equal(cfg.PPS[0], []byte{0x68, 0xCC}) {
		t.Fatalf("unexpected PPS: %v", cfg.PPS)
	}
}

func TestParseAVCDecoderConfigurationRecordRejectsShortInput(t *testing.T) {
	if _, err := ParseAVCDecoderConfigurationRecord([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestParseFLVVideoPacketDetectsKeyFrame(t *testing.T) {
	pkt := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	isSeq, isKey, avcData, err := ParseFLVVideoPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if isSeq {
		t.Fatal("expected a NALU packet, not a sequence header")
	}
	if !isKey {
		t.Fatal("expected key frame detected")
	}
	if !bytes.Equal(avcData, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("unexpected avcData: %v", avcData)
	}
}

func TestParseFLVVideoPacketRejectsNonAVCCodec(t *testing.T) {
	pkt := []byte{0x12, 0x01, 0x00, 0x00, 0x00}
	if _, _, _, err := ParseFLVVideoPacket(pkt); err == nil {
		t.Fatal("expected error for non-AVC codec id")
	}
}

func TestConvertAVCCToAnnexBPrependsStartCodes(t *testing.T) {
	nal := []byte{0x65, 0x01, 0x02} // nal_unit_type 5 (IDR)
	avcc := append([]byte{0x00, 0x00, 0x00, 0x03}, nal...)

	annexB, err := ConvertAVCCToAnnexB(avcc)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, startCode4...), nal...)
	if !bytes.Equal(annexB, want) {
		t.Fatalf("got %v, want %v", annexB, want)
	}
}

func TestConvertAVCCToAnnexBRejectsEmptyInput(t *testing.T) {
	if _, err := ConvertAVCCToAnnexB(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestExtractSPSandPPSFromAnnexB(t *testing.T) {
	sps := []byte{0x67, 0xAA, 0xBB}
	pps := []byte{0x68, 0xCC}
	var annexB []byte
	annexB = append(annexB, startCode3...)
	annexB = append(annexB, sps...)
	annexB = append(annexB, startCode3...)
	annexB = append(annexB, pps...)

	gotSPS, gotPPS, err := ExtractSPSandPPS(annexB)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotSPS, sps) {
		t.Fatalf("got sps %v, want %v", gotSPS, sps)
	}
	if !bytes.Equal(gotPPS, pps) {
		t.Fatalf("got pps %v, want %v", gotPPS, pps)
	}
}

func TestExtractSPSandPPSRejectsDataWithNeither(t *testing.T) {
	var annexB []byte
	annexB = append(annexB, startCode3...)
	annexB = append(annexB, 0x61, 0x01) // nal_unit_type 1, neither SPS nor PPS
	if _, _, err := ExtractSPSandPPS(annexB); err == nil {
		t.Fatal("expected error when no SPS or PPS is present")
	}
}

func TestPrependSPSPPSAnnexB(t *testing.T) {
	frame := []byte{0xAA}
	sps := [][]byte{{0x67, 0x01}}
	pps := [][]byte{{0x68, 0x02}}

	got := PrependSPSPPSAnnexB(frame, sps, pps)

	var want []byte
	want = append(want, startCode4...)
	want = append(want, sps[0]...)
	want = append(want, startCode4...)
	want = append(want, pps[0]...)
	want = append(want, frame...)

	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
