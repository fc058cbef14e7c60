package audio

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthrough_IsIdentity(t *testing.T) {
	w := sine(440, 44100, 2048)

	up, err := NewUpsampler(false, 24000, 48000)
	require.NoError(t, err)
	assert.False(t, up.Enabled())
	assert.Equal(t, 44100, up.OutputRate(44100))

	got, err := up.Upsample(w)
	require.NoError(t, err)
	assert.Equal(t, w.SampleRate, got.SampleRate)
	assert.Equal(t, w.Samples, got.Samples)
	assert.Same(t, &w.Samples[0], &got.Samples[0], "disabled upsampler must not copy")
}

func TestSincUpsampler_LengthAtInputRate(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	for _, n := range []int{1, 2, 333, 24000, 24001} {
		got, err := up.Upsample(sine(300, 24000, n))
		require.NoError(t, err)

		assert.Equal(t, 48000, got.SampleRate)
		assert.Equal(t, n*2, got.Len(), "n=%d", n)
	}
}

func TestSincUpsampler_CorrectsSourceRate(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	in := sine(440, 44100, 44100) // one second

	got, err := up.Upsample(in)
	require.NoError(t, err)

	intermediate := ResampledLength(in.Len(), 44100, 24000)
	assert.Equal(t, 24000, intermediate)
	assert.Equal(t, ResampledLength(intermediate, 24000, 48000), got.Len())
	assert.Equal(t, 48000, got.SampleRate)
}

func TestSincUpsampler_PreservesTone(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	got, err := up.Upsample(sine(440, 24000, 4800))
	require.NoError(t, err)

	want := sine(440, 48000, 9600)

	// Skip the filter's edge transients.
	var maxErr float64
	for i := 1000; i < 8600; i++ {
		maxErr = math.Max(maxErr, math.Abs(float64(got.Samples[i]-want.Samples[i])))
	}
	assert.Less(t, maxErr, 0.01)
}

func TestSincUpsampler_Float32Output(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	got, err := up.Upsample(Waveform{Samples: []float32{0, 0.25, 0.5, 0.25, 0}, SampleRate: 24000})
	require.NoError(t, err)
	assert.IsType(t, []float32{}, got.Samples)
}

func TestSincUpsampler_InvalidRates(t *testing.T) {
	_, err := NewSincUpsampler(0, 48000)
	assert.ErrorIs(t, err, ErrInvalidSampleRate)

	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)
	_, err = up.Upsample(Waveform{Samples: []float32{1}})
	assert.ErrorIs(t, err, ErrInvalidSampleRate)
}

func TestSincUpsampler_Concurrent(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	in := sine(440, 22050, 2205)
	want, err := up.Upsample(in)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := up.Upsample(in)
			assert.NoError(t, err)
			assert.Equal(t, want.Samples, got.Samples)
		}()
	}
	wg.Wait()
}

func TestResampledLength_Rounding(t *testing.T) {
	assert.Equal(t, 2, ResampledLength(3, 44100, 24000))   // 1.63 -> 2
	assert.Equal(t, 1, ResampledLength(2, 44100, 24000))   // 1.088 -> 1
	assert.Equal(t, 12, ResampledLength(22, 44100, 24000)) // 11.97 -> 12
	assert.Equal(t, 8, ResampledLength(4, 24000, 48000))
}

func TestSnapRate(t *testing.T) {
	tests := map[int]int{
		44101: 44100,
		44056: 44100,
		23990: 24000,
		48000: 48000,
		44000: 44000,
		30000: 30000,
	}
	for in, want := range tests {
		assert.Equal(t, want, SnapRate(in), "rate %d", in)
	}
}

func TestSincUpsampler_OddRateUsesStandardFilter(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	got, err := up.Upsample(sine(440, 44101, 4410))
	require.NoError(t, err)

	assert.Equal(t, 48000, got.SampleRate)
	assert.Equal(t, 4800, got.Len())

	_, ok := up.filters.Load([2]int{80, 147}) // 44100 -> 24000
	assert.True(t, ok)
}

func TestSincUpsampler_FilterCacheIsBounded(t *testing.T) {
	up, err := NewSincUpsampler(24000, 48000)
	require.NoError(t, err)

	for i := range 2 * maxCachedFilters {
		rate := 25000 + 1000*i
		_, err := up.Upsample(sine(440, rate, 64))
		require.NoError(t, err)
	}

	var n int
	up.filters.Range(func(any, any) bool { n++; return true })
	assert.Equal(t, maxCachedFilters, n)
}
