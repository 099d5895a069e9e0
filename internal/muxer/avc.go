// Package muxer decodes the FLV-wrapped tags an RTMP publisher sends
// into the pieces internal/rtmp and internal/fmp4 need: AAC in
// aac.go, H.264/AVC here.
package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// H.264 NAL unit types this package distinguishes.
const (
	nalTypeSPS = 7
	nalTypePPS = 8
	nalTypeIDR = 5
)

var (
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	startCode3 = []byte{0x00, 0x00, 0x01}
)

// AVCDecoderConfigurationRecord is the AVCC sequence header FLV/RTMP
// sends as the first video packet of a publish (AVCPacketType 0):
// one or more SPS and PPS NAL units, stored as bare NAL bytes with the
// record's 2-byte length prefixes removed.
type AVCDecoderConfigurationRecord struct {
	SPS [][]byte
	PPS [][]byte
}

// ParseAVCDecoderConfigurationRecord decodes an AVCC sequence header
// into its SPS/PPS NAL units.
func ParseAVCDecoderConfigurationRecord(data []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("AVCDecoderConfigurationRecord too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	if _, err := r.Seek(4, io.SeekCurrent); err != nil { // version, profile, compatibility, level
		return nil, err
	}
	if _, err := r.ReadByte(); err != nil { // reserved(6) + lengthSizeMinusOne(2)
		return nil, err
	}

	sps, err := readParameterSets(r, 0x1F) // reserved(3) + numOfSPS(5)
	if err != nil {
		return nil, fmt.Errorf("read sps: %w", err)
	}
	pps, err := readParameterSets(r, 0xFF) // numOfPPS
	if err != nil {
		return nil, fmt.Errorf("read pps: %w", err)
	}
	return &AVCDecoderConfigurationRecord{SPS: sps, PPS: pps}, nil
}

func readParameterSets(r *bytes.Reader, countMask uint8) ([][]byte, error) {
	countByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	count := int(countByte & countMask)
	sets := make([][]byte, count)
	for i := 0; i < count; i++ {
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("length: %w", err)
		}
		nal := make([]byte, length)
		if _, err := io.ReadFull(r, nal); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		sets[i] = nal
	}
	return sets, nil
}

// ParseFLVVideoPacket extracts the codec data and frame type from an
// FLV video tag payload. Returns the bytes past the FLV VideoTagHeader.
func ParseFLVVideoPacket(data []byte) (isSequenceHeader, isKeyFrame bool, avcData []byte, err error) {
	if len(data) < 5 {
		return false, false, nil, fmt.Errorf("video packet too short: %d bytes", len(data))
	}

	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != 7 { // AVC
		return false, false, nil, fmt.Errorf("not H.264/AVC codec: %d", codecID)
	}

	isKeyFrame = frameType == 1
	avcPacketType := data[1]
	isSequenceHeader = avcPacketType == 0

	// bytes 2-4 are the composition time offset, unused here.
	return isSequenceHeader, isKeyFrame, data[5:], nil
}

// ConvertAVCCToAnnexB converts H.264 from AVCC (4-byte length-prefixed
// NAL units, as RTMP/FLV/MP4 carry it) to Annex-B (start-code-prefixed
// NAL units).
func ConvertAVCCToAnnexB(avccData []byte) ([]byte, error) {
	if len(avccData) == 0 {
		return nil, fmt.Errorf("empty AVCC data")
	}

	var annexB bytes.Buffer
	offset := 0
	nalCount := 0

	for offset+4 <= len(avccData) {
		nalSize := binary.BigEndian.Uint32(avccData[offset : offset+4])
		offset += 4

		if nalSize == 0 {
			continue
		}
		if offset+int(nalSize) > len(avccData) {
			return nil, fmt.Errorf("invalid NAL size %d at offset %d (exceeds buffer)", nalSize, offset-4)
		}

		nalUnit := avccData[offset : offset+int(nalSize)]
		offset += int(nalSize)
		nalType := nalUnit[0] & 0x1F

		if nalType == nalTypeSPS || nalType == nalTypePPS || nalType == nalTypeIDR {
			annexB.Write(startCode4)
		} else {
			annexB.Write(startCode3)
		}
		annexB.Write(nalUnit)
		nalCount++
	}

	if nalCount == 0 {
		return nil, fmt.Errorf("no NAL units found in AVCC data")
	}
	return annexB.Bytes(), nil
}

// isAVCCFormat guesses whether data is AVCC rather than Annex-B: a
// plausible 4-byte length prefix followed by a well-formed NAL header.
func isAVCCFormat(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	nalSize := binary.BigEndian.Uint32(data[0:4])
	if nalSize == 0 || nalSize >= uint32(len(data)) {
		return false
	}
	nalHeader := data[4]
	forbiddenBit := (nalHeader >> 7) & 0x01
	nalType := nalHeader & 0x1F
	return forbiddenBit == 0 && nalType >= 1 && nalType <= 21
}

// nextStartCode finds the first Annex-B start code at or after from,
// returning its position and length (3 or 4), or -1 if none remains.
func nextStartCode(data []byte, from int) (pos, length int) {
	for i := from; i < len(data); i++ {
		if i+4 <= len(data) && bytes.Equal(data[i:i+4], startCode4) {
			return i, 4
		}
		if i+3 <= len(data) && bytes.Equal(data[i:i+3], startCode3) {
			return i, 3
		}
	}
	return -1, 0
}

// ExtractSPSandPPS locates the SPS and PPS NAL units in AVCC or
// Annex-B encoded data (converting AVCC first), returning each
// without its start code or length prefix.
func ExtractSPSandPPS(data []byte) (sps, pps []byte, err error) {
	annexB := data
	if isAVCCFormat(data) {
		annexB, err = ConvertAVCCToAnnexB(data)
		if err != nil {
			return nil, nil, fmt.Errorf("convert to Annex-B: %w", err)
		}
	}

	offset := 0
	for offset < len(annexB) {
		start, scLen := nextStartCode(annexB, offset)
		if start < 0 {
			break
		}
		nalStart := start + scLen
		if nalStart >= len(annexB) {
			break
		}
		nextStart, _ := nextStartCode(annexB, nalStart+1)
		if nextStart < 0 {
			nextStart = len(annexB)
		}
		if nal := annexB[nalStart:nextStart]; len(nal) > 0 {
			switch nal[0] & 0x1F {
			case nalTypeSPS:
				if sps == nil {
					sps = nal
				}
			case nalTypePPS:
				if pps == nil {
					pps = nal
				}
			}
			if sps != nil && pps != nil {
				return sps, pps, nil
			}
		}
		offset = nextStart
	}

	if sps == nil && pps == nil {
		return nil, nil, fmt.Errorf("no SPS or PPS found in data")
	}
	return sps, pps, nil
}

// PrependSPSPPSAnnexB prepends start-code-delimited SPS and PPS NAL
// units ahead of an Annex-B frame, as LL-HLS readers expect on key
// frames and as the track's extradata blob (sps+pps with no frame).
func PrependSPSPPSAnnexB(frameData []byte, sps, pps [][]byte) []byte {
	var buf bytes.Buffer
	for _, s := range sps {
		buf.Write(startCode4)
		buf.Write(s)
	}
	for _, p := range pps {
		buf.Write(startCode4)
		buf.Write(p)
	}
	buf.Write(frameData)
	return buf.Bytes()
}
