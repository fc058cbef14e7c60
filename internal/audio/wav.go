package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavHeaderSize   = 44
	wavBitsPerPCM   = 16
	wavFormatPCM    = 1
	wavFormatFloat  = 3
	pcm16FullScale  = 32767
	wavMonoChannels = 1
)

// EncodeWAV serializes w as a mono 16-bit PCM RIFF/WAVE file. Samples outside
// [-1, 1] are clipped.
func EncodeWAV(w Waveform) ([]byte, error) {
	if w.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}

	const bytesPerSample = wavBitsPerPCM / 8
	dataLen := len(w.Samples) * bytesPerSample

	buf := &bytes.Buffer{}
	buf.Grow(wavHeaderSize + dataLen)

	// RIFF header
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	// fmt subchunk
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavMonoChannels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(w.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(w.SampleRate*wavMonoChannels*bytesPerSample)) // byte rate
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavMonoChannels*bytesPerSample))              // block align
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavBitsPerPCM))

	// data subchunk
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))

	pcm := make([]byte, dataLen)
	for i, s := range w.Samples {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(floatToPCM16(s)))
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV parses a PCM (8/16/24/32-bit) or 32-bit float WAV file into a mono
// waveform. Multi-channel input is downmixed by averaging.
func DecodeWAV(data []byte) (Waveform, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Waveform{}, ErrInvalidWAV
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}

	var convert func(int) float32
	switch {
	case d.WavAudioFormat == wavFormatFloat && d.BitDepth == 32:
		convert = func(v int) float32 { return math.Float32frombits(uint32(int32(v))) }
	case d.WavAudioFormat == wavFormatPCM:
		convert = pcmToFloat(int(d.BitDepth))
	default:
		return Waveform{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedWAVCodec, d.WavAudioFormat, d.BitDepth)
	}

	return Waveform{
		Samples:    downmix(buf, channels, convert),
		SampleRate: int(d.SampleRate),
	}, nil
}

func downmix(buf *goaudio.IntBuffer, channels int, convert func(int) float32) []float32 {
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += convert(buf.Data[i*channels+c])
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func pcmToFloat(bitDepth int) func(int) float32 {
	if bitDepth == 8 {
		// 8-bit WAV is unsigned with a 128 midpoint.
		return func(v int) float32 { return float32(v-128) / 128 }
	}
	scale := float32(int64(1) << (bitDepth - 1))
	return func(v int) float32 { return float32(v) / scale }
}

func floatToPCM16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		s = 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int16(math.Round(float64(s) * pcm16FullScale))
}
