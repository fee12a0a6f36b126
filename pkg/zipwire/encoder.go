// SPDX-License-Identifier: Apache-2.0

package zipwire

import "fmt"

// EncodeFrame builds a complete wire-formatted binary frame from raw
// payload bytes, ready for transmission.
func EncodeFrame(frameType, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	length := MinFrameLen + len(payload)

	// LEN..PAYLOAD is the CRC'd region
	data := make([]byte, 0, length+5)
	data = append(data, byte(length), frameType, seq)
	data = append(data, payload...)

	crc := CalculateCRC(data)

	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, Header0, Header1)
	frame = append(frame, data...)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))

	return frame, nil
}

// Encode encodes a Frame to wire format. A frame built with
// NewFrameWithMap has its payload CBOR-encoded here.
func (f *Frame) Encode() ([]byte, error) {
	payload := f.payload
	if payload == nil && f.payloadMap != nil {
		encoded, err := EncodeCBORPayload(f.payloadMap)
		if err != nil {
			return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
		}
		payload = encoded
	}
	return EncodeFrame(f.frameType, f.seq, payload)
}

// MustEncode encodes a Frame and panics on error. Intended for frames
// built from known-good constants.
func (f *Frame) MustEncode() []byte {
	data, err := f.Encode()
	if err != nil {
		panic(fmt.Sprintf("zipwire: encode error: %v", err))
	}
	return data
}
