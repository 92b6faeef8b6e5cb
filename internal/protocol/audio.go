package protocol

import "fmt"

// AudioFormatSpec describes the PCM layout behind an AudioData decode type.
type AudioFormatSpec struct {
	Frequency int
	Channels  int
	BitDepth  int
	Format    string
	MimeType  string
}

func pcm16(frequency, channels int) AudioFormatSpec {
	return AudioFormatSpec{
		Frequency: frequency,
		Channels:  channels,
		BitDepth:  16,
		Format:    "S16LE",
		MimeType:  fmt.Sprintf("audio/L16; rate=%d; channels=%d", frequency, channels),
	}
}

var audioFormats = map[uint32]AudioFormatSpec{
	1: pcm16(44100, 2),
	2: pcm16(44100, 2),
	3: pcm16(8000, 1),
	4: pcm16(48000, 2),
	5: pcm16(16000, 1),
	6: pcm16(24000, 1),
	7: pcm16(16000, 2),
}

// LookupAudioFormat returns the PCM format for an AudioData decode type.
func LookupAudioFormat(decodeType uint32) (AudioFormatSpec, bool) {
	f, ok := audioFormats[decodeType]
	return f, ok
}

const (
	// MicDecodeType and MicAudioType tag outbound microphone audio (16 kHz mono).
	MicDecodeType uint32 = 5
	MicAudioType  uint32 = 3
)
