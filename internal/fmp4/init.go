// Package fmp4 builds the CMAF boxes the HLS packager needs: the
// ftyp+moov initialization segment built once per track, and the
// moof+mdat fragment pairs appended per chunk. Box construction is
// delegated to github.com/Eyevinn/mp4ff, replacing the ffmpeg-shell-out
// approach previously used in internal/muxer/ffmpeg.go.
package fmp4

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"

	"llhls/internal/muxer"
	"llhls/pkg/models"
)

// BuildInitSegment builds the ftyp+moov bytes for one track (§4.1
// "InitializationSegment"). Built once at stream start and never mutated.
func BuildInitSegment(track *models.Track) ([]byte, error) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(uint32(trackTimescale(track)), mediaHandlerType(track), "und")
	trak := init.Moov.Trak

	switch track.CodecID {
	case models.CodecH264:
		sps, pps, err := muxer.ExtractSPSandPPS(track.Extradata)
		if err != nil {
			return nil, fmt.Errorf("init segment for track %d: %w", track.TrackID, err)
		}
		_, err = avc.ParseSPSNALUnit(sps, false)
		if err != nil {
			return nil, fmt.Errorf("init segment for track %d: parse sps: %w", track.TrackID, err)
		}
		err = trak.SetAVCDescriptor("avc1", [][]byte{sps}, [][]byte{pps}, true)
		if err != nil {
			return nil, fmt.Errorf("init segment for track %d: %w", track.TrackID, err)
		}
	case models.CodecAAC:
		err := trak.SetAACDescriptor(aac.AAClc, track.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("init segment for track %d: %w", track.TrackID, err)
		}
	default:
		return nil, fmt.Errorf("init segment for track %d: unsupported codec %s", track.TrackID, track.CodecID)
	}

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode init segment for track %d: %w", track.TrackID, err)
	}
	return buf.Bytes(), nil
}

func trackTimescale(track *models.Track) uint32 {
	if track.Timebase.Den != 0 {
		return track.Timebase.Den
	}
	if track.MediaType == models.Audio && track.SampleRate != 0 {
		return uint32(track.SampleRate)
	}
	return 90000
}

func mediaHandlerType(track *models.Track) string {
	if track.MediaType == models.Audio {
		return "audio"
	}
	return "video"
}
