package oto

import (
	"encoding/binary"
	"math"
)

// interleaveFloat32LE appends the frames of the channel buffers to dst as
// interleaved little-endian float32 samples. All channels must have the same
// length.
func interleaveFloat32LE(dst []byte, channels [][]float32) []byte {
	if len(channels) == 0 {
		return dst
	}
	for i := range channels[0] {
		for _, c := range channels {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c[i]))
		}
	}
	return dst
}
