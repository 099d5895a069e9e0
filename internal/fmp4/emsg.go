package fmp4

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// BuildEmsg wraps an ID3v2 payload in an emsg box placed adjacent to a
// chunk's moof (§4.2 step 5). messageData is the raw ID3v2 tag.
func BuildEmsg(presentationTimeDelta uint32, eventDurationMs uint32, id uint32, messageData []byte) ([]byte, error) {
	emsg := &mp4.EmsgBox{
		Version:               1,
		TimeScale:             1000,
		PresentationTimeDelta: presentationTimeDelta,
		EventDuration:         eventDurationMs,
		ID:                    id,
		SchemeIDURI:           "https://aomedia.org/emsg/ID3",
		Value:                 "",
		MessageData:           messageData,
	}
	var buf bytes.Buffer
	if err := emsg.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode emsg: %w", err)
	}
	return buf.Bytes(), nil
}
