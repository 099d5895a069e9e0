package muxer

import "fmt"

// aacSampleRates is the MPEG-4 samplingFrequencyIndex table referenced
// by AudioSpecificConfig.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AudioSpecificConfig is the decoded MPEG-4 AAC configuration carried
// in the FLV AAC sequence header.
type AudioSpecificConfig struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// ParseAudioSpecificConfig decodes the 2-byte (minimum) AudioSpecificConfig
// FLV delivers as the payload of an AAC sequence header packet.
func ParseAudioSpecificConfig(data []byte) (*AudioSpecificConfig, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("AudioSpecificConfig too short: %d bytes", len(data))
	}
	objectType := int(data[0] >> 3)
	freqIndex := int((data[0]&0x07)<<1 | data[1]>>7)
	channels := int((data[1] >> 3) & 0x0F)

	if freqIndex >= len(aacSampleRates) {
		return nil, fmt.Errorf("AudioSpecificConfig: unsupported sampling frequency index %d", freqIndex)
	}

	return &AudioSpecificConfig{
		ObjectType: objectType,
		SampleRate: aacSampleRates[freqIndex],
		Channels:   channels,
	}, nil
}

// ParseFLVAudioPacket extracts the codec and whether this is a sequence
// header (carrying AudioSpecificConfig) from an FLV audio tag payload.
// Returns the payload past the FLV AudioTagHeader.
func ParseFLVAudioPacket(data []byte) (isAAC bool, isSequenceHeader bool, audioData []byte, err error) {
	if len(data) < 2 {
		return false, false, nil, fmt.Errorf("audio packet too short: %d bytes", len(data))
	}

	soundFormat := (data[0] >> 4) & 0x0F
	isAAC = soundFormat == 10 // SoundFormat 10 = AAC

	if !isAAC {
		return false, false, data[1:], nil
	}

	aacPacketType := data[1]
	isSequenceHeader = aacPacketType == 0

	return true, isSequenceHeader, data[2:], nil
}
