package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, rate, n int) Waveform {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return Waveform{Samples: samples, SampleRate: rate}
}

func TestEncodeWAV_Header(t *testing.T) {
	w := sine(440, 44100, 1000)

	data, err := EncodeWAV(w)
	require.NoError(t, err)

	require.Len(t, data, wavHeaderSize+2*1000)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "channels")
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28]), "sample rate")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]), "bits per sample")
	assert.Equal(t, uint32(2000), binary.LittleEndian.Uint32(data[40:44]), "data size")
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	_, err := EncodeWAV(Waveform{Samples: []float32{0}})
	assert.ErrorIs(t, err, ErrInvalidSampleRate)
}

func TestWAV_RoundTrip(t *testing.T) {
	w := sine(220, 24000, 4801)

	data, err := EncodeWAV(w)
	require.NoError(t, err)

	got, err := DecodeWAV(data)
	require.NoError(t, err)

	assert.Equal(t, w.SampleRate, got.SampleRate)
	require.Equal(t, w.Len(), got.Len())
	for i := range w.Samples {
		assert.InDelta(t, w.Samples[i], got.Samples[i], 1.0/16384, "sample %d", i)
	}
}

func TestEncodeWAV_Clips(t *testing.T) {
	data, err := EncodeWAV(Waveform{Samples: []float32{2, -2, float32(math.NaN())}, SampleRate: 8000})
	require.NoError(t, err)

	pcm := data[wavHeaderSize:]
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[0:2])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(pcm[2:4])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(pcm[4:6])))
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a wav file, just text"))
	assert.ErrorIs(t, err, ErrInvalidWAV)
}
