package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of a canonical 44-byte PCM WAV header.
const wavHeaderSize = 44

// DecodeWAV parses a RIFF/WAVE file and returns its PCM payload. Only 16-bit
// integer PCM is supported.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < wavHeaderSize {
		return Clip{}, errors.New("audio: wav data too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		format  Format
		haveFmt bool
		pos     = 12
	)
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return Clip{}, errors.New("audio: truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; the sub-format is assumed PCM.
			if audioFormat != 1 && audioFormat != 0xFFFE {
				return Clip{}, fmt.Errorf("audio: unsupported wav encoding %d", audioFormat)
			}
			if bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
			}
			format = Format{SampleRate: int(rate), Channels: int(channels)}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, errors.New("audio: data chunk before fmt chunk")
			}
			end := body + chunkSize
			if end > len(data) {
				end = len(data)
			}
			pcm := data[body:end]
			if len(pcm)%2 != 0 {
				pcm = pcm[:len(pcm)-1]
			}
			return Clip{PCM: pcm, Format: format}, nil
		}

		pos = body + chunkSize
		// Chunks are word-aligned.
		if chunkSize%2 != 0 {
			pos++
		}
	}
	return Clip{}, errors.New("audio: data chunk not found in wav")
}

// EncodeWAV wraps clip in a canonical 44-byte WAV header.
func EncodeWAV(clip Clip) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(clip.PCM))

	ch := clip.Format.Channels
	rate := clip.Format.SampleRate
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(clip.PCM)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint16(ch))
	_ = binary.Write(&buf, le, uint32(rate))
	_ = binary.Write(&buf, le, uint32(rate*ch*2))
	_ = binary.Write(&buf, le, uint16(ch*2))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(clip.PCM)))
	buf.Write(clip.PCM)
	return buf.Bytes()
}
