package fmp4

import (
	"bytes"
	"testing"
)

func TestBuildEmsgContainsMessageData(t *testing.T) {
	payload := []byte("ID3 tag bytes")
	b, err := BuildEmsg(100, 0, 7, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty emsg box")
	}
	if !bytes.Contains(b, payload) {
		t.Fatal("expected emsg box to contain the message data payload")
	}
	if !bytes.Contains(b, []byte("emsg")) {
		t.Fatal("expected box type tag 'emsg' in encoded bytes")
	}
}

func TestBuildFragmentRejectsEmptySampleList(t *testing.T) {
	_, err := BuildFragment(0, 0, 0, nil)
	if err == nil {
		t.Fatal("expected error building a fragment with no samples")
	}
}

func TestBuildFragmentProducesNonEmptyMoofMdat(t *testing.T) {
	samples := []FragmentSample{
		{Duration: 1024, Size: 3, KeyFrame: true, Payload: []byte{1, 2, 3}},
		{Duration: 1024, Size: 2, Payload: []byte{4, 5}},
	}
	b, err := BuildFragment(0, 1, 0, samples)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte("moof")) || !bytes.Contains(b, []byte("mdat")) {
		t.Fatal("expected encoded fragment to contain moof and mdat boxes")
	}
}
