package audio

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeSamples(t *testing.T) {
	got := EncodeSamples([]int16{1, -1, 256})
	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x01}

	if !bytes.Equal(got, want) {
		t.Errorf("EncodeSamples([1, -1, 256]) = % X, want % X", got, want)
	}
}

func TestEncodeSamples_Empty(t *testing.T) {
	got := EncodeSamples(nil)
	if len(got) != 0 {
		t.Errorf("Expected empty output for nil samples, got %d bytes", len(got))
	}
}

func TestEncodeSamples_Length(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	got := EncodeSamples(samples)
	if len(got) != 2*len(samples) {
		t.Errorf("Expected %d bytes, got %d", 2*len(samples), len(got))
	}
}

func TestDecodeFrame_Samples(t *testing.T) {
	got, err := DecodeFrame([]int16{1, -1, 256}, nil)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("DecodeFrame = % X, want % X", got, want)
	}
}

func TestDecodeFrame_RawPassthrough(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	got, err := DecodeFrame(nil, raw)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("Expected raw payload passed through unchanged, got % X", got)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	_, err := DecodeFrame(nil, nil)
	if !errors.Is(err, ErrInvalidAudioFormat) {
		t.Errorf("Expected ErrInvalidAudioFormat, got %v", err)
	}
}

func TestDecodeJSONSamples(t *testing.T) {
	samples, err := DecodeJSONSamples(json.RawMessage(`[1, -1, 256]`))
	if err != nil {
		t.Fatalf("DecodeJSONSamples failed: %v", err)
	}
	if len(samples) != 3 || samples[0] != 1 || samples[1] != -1 || samples[2] != 256 {
		t.Errorf("Unexpected samples: %v", samples)
	}
}

func TestDecodeJSONSamples_OutOfRange(t *testing.T) {
	_, err := DecodeJSONSamples(json.RawMessage(`[70000]`))
	if !errors.Is(err, ErrInvalidAudioFormat) {
		t.Errorf("Expected ErrInvalidAudioFormat for out-of-range sample, got %v", err)
	}
}

func TestDecodeJSONSamples_NotAnArray(t *testing.T) {
	_, err := DecodeJSONSamples(json.RawMessage(`"not audio"`))
	if !errors.Is(err, ErrInvalidAudioFormat) {
		t.Errorf("Expected ErrInvalidAudioFormat for non-array payload, got %v", err)
	}
}
