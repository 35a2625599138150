package whisper

import "encoding/binary"

// encodeWAV wraps little-endian PCM16 mono samples in a minimal RIFF
// container.
func encodeWAV(pcm []byte, rate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := rate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = appendU32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = appendU32(out, 16)
	out = appendU16(out, 1) // PCM
	out = appendU16(out, channels)
	out = appendU32(out, uint32(rate))
	out = appendU32(out, uint32(byteRate))
	out = appendU16(out, uint16(blockAlign))
	out = appendU16(out, bitsPerSample)

	out = append(out, "data"...)
	out = appendU32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}
