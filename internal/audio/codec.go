package audio

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidAudioFormat is returned when a client payload is neither a
// sample array nor a raw binary frame.
var ErrInvalidAudioFormat = errors.New("invalid audio format")

// EncodeSamples converts 16-bit signed samples to little-endian PCM bytes.
// The output is exactly 2*len(samples) bytes with no framing header.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeFrame converts a client-delivered audio payload into raw PCM bytes.
//
// Clients may send either a JSON array of int16 samples (the browser
// Int16Array path) or an already-binary PCM payload, which is passed
// through unchanged. Anything else fails with ErrInvalidAudioFormat.
func DecodeFrame(samples []int16, raw []byte) ([]byte, error) {
	if samples != nil {
		return EncodeSamples(samples), nil
	}
	if raw != nil {
		return raw, nil
	}
	return nil, ErrInvalidAudioFormat
}

// DecodeJSONSamples parses a JSON value expected to hold an int16 sample
// array. Values outside the int16 range fail with ErrInvalidAudioFormat.
func DecodeJSONSamples(data json.RawMessage) ([]int16, error) {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioFormat, err)
	}
	samples := make([]int16, len(values))
	for i, v := range values {
		if v < -32768 || v > 32767 {
			return nil, fmt.Errorf("%w: sample %d out of int16 range", ErrInvalidAudioFormat, v)
		}
		samples[i] = int16(v)
	}
	return samples, nil
}
