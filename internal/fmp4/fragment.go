package fmp4

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"llhls/pkg/models"
)

// FragmentSample is one sample going into a moof+mdat fragment.
type FragmentSample struct {
	Duration    uint32 // track timebase units
	Size        uint32
	KeyFrame    bool
	Independent bool
	Payload     []byte
}

// BuildFragment serializes accumulated samples as one moof+mdat pair
// with correct base-media-decode-time and per-sample duration/size
// (§4.2 step 3). seqNumber is the chunk's global sequence number
// within the track (mp4ff requires strictly increasing moof sequence
// numbers across a track's lifetime).
func BuildFragment(trackID int32, seqNumber uint32, baseDecodeTime uint64, samples []FragmentSample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("fragment for track %d: no samples", trackID)
	}

	frag, err := mp4.CreateFragment(seqNumber, uint32(trackID))
	if err != nil {
		return nil, fmt.Errorf("fragment for track %d: %w", trackID, err)
	}

	for _, s := range samples {
		flags := uint32(mp4.NonSyncSampleFlags)
		if s.KeyFrame || s.Independent {
			flags = mp4.SyncSampleFlags
		}
		full := mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Dur:   s.Duration,
				Size:  s.Size,
			},
			DecodeTime: baseDecodeTime,
			Data:       s.Payload,
		}
		frag.AddFullSample(full)
	}

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("fragment for track %d: encode: %w", trackID, err)
	}
	return buf.Bytes(), nil
}

// SamplesFromPacket converts an ingress packet's payload into a single
// FragmentSample.
func SamplesFromPacket(p *models.MediaPacket) FragmentSample {
	return FragmentSample{
		Duration:    uint32(p.Duration),
		Size:        uint32(len(p.Payload)),
		KeyFrame:    p.Flags.KeyFrame,
		Independent: p.Flags.Independent,
		Payload:     p.Payload,
	}
}
