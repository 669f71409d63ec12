package dsp

import (
	"encoding/binary"
	"fmt"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV wraps mono float samples in a canonical 44-byte RIFF/WAVE
// header with a little-endian 16-bit PCM payload, for interchange with
// recognition backends that require a container format.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(int16(math.Round(v*32767))))
	}
	return buf
}

// DecodeWAV parses a canonical mono 16-bit PCM WAV buffer back into float
// samples and its sample rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("wav buffer too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE buffer")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("unsupported wav format %d, want PCM", format)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d, want 16", bits)
	}
	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	if channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count %d, want mono", channels)
	}
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))

	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataSize > len(data)-wavHeaderSize {
		dataSize = len(data) - wavHeaderSize
	}
	samples := make([]float32, dataSize/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[wavHeaderSize+i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples, sampleRate, nil
}
