package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Upsampler converts synthesized audio to the delivery sample rate.
// Implementations must be safe for concurrent use.
type Upsampler interface {
	// Enabled reports whether Upsample changes the waveform at all.
	Enabled() bool

	// OutputRate returns the sample rate Upsample produces for sourceRate input.
	OutputRate(sourceRate int) int

	// Upsample returns w converted to OutputRate(w.SampleRate).
	Upsample(w Waveform) (Waveform, error)
}

// NewUpsampler returns a SincUpsampler when enabled and a Passthrough otherwise.
func NewUpsampler(enabled bool, inputRate, outputRate int) (Upsampler, error) {
	if !enabled {
		return Passthrough{}, nil
	}
	return NewSincUpsampler(inputRate, outputRate)
}

// Passthrough is the disabled upsampler: audio is returned untouched.
type Passthrough struct{}

// Enabled implements Upsampler.
func (Passthrough) Enabled() bool { return false }

// OutputRate implements Upsampler.
func (Passthrough) OutputRate(sourceRate int) int { return sourceRate }

// Upsample implements Upsampler.
func (Passthrough) Upsample(w Waveform) (Waveform, error) { return w, nil }

// Filters for at most maxCachedFilters rate pairs are kept.
const maxCachedFilters = 8

// Source rates within 0.1% of a standard rate are treated as that rate.
var standardRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000}

// SnapRate maps a rate that is a rounding error away from a standard rate to
// the standard rate. Other rates are returned unchanged.
func SnapRate(rate int) int {
	for _, std := range standardRates {
		diff := rate - std
		if diff < 0 {
			diff = -diff
		}
		if diff*1000 <= std {
			return std
		}
	}
	return rate
}

const (
	defaultZeroCrossings = 32
	defaultKaiserBeta    = 12.0
	defaultRolloff       = 0.945
)

// SincUpsampler resamples with a Kaiser-windowed sinc polyphase filter.
//
// Audio is first brought to InputRate when it arrives at a different rate,
// then converted from InputRate to OutputRate. Each conversion produces
// round(len * to / from) samples, rounding halves away from zero.
type SincUpsampler struct {
	inputRate     int
	outputRate    int
	zeroCrossings int
	beta          float64
	rolloff       float64

	filters sync.Map // ratio -> *polyphase
	cached  atomic.Int32
}

// NewSincUpsampler creates an upsampler converting to outputRate through inputRate.
func NewSincUpsampler(inputRate, outputRate int) (*SincUpsampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("%w: input %d, output %d", ErrInvalidSampleRate, inputRate, outputRate)
	}

	return &SincUpsampler{
		inputRate:     inputRate,
		outputRate:    outputRate,
		zeroCrossings: defaultZeroCrossings,
		beta:          defaultKaiserBeta,
		rolloff:       defaultRolloff,
	}, nil
}

// Enabled implements Upsampler.
func (u *SincUpsampler) Enabled() bool { return true }

// InputRate returns the rate audio is normalized to before upsampling.
func (u *SincUpsampler) InputRate() int { return u.inputRate }

// OutputRate implements Upsampler.
func (u *SincUpsampler) OutputRate(int) int { return u.outputRate }

// Upsample implements Upsampler.
func (u *SincUpsampler) Upsample(w Waveform) (Waveform, error) {
	if w.SampleRate <= 0 {
		return Waveform{}, ErrInvalidSampleRate
	}

	w.SampleRate = SnapRate(w.SampleRate)
	if w.SampleRate != u.inputRate {
		w = u.resample(w, u.inputRate)
	}

	return u.resample(w, u.outputRate), nil
}

// ResampledLength is the number of samples a conversion of n samples from
// rate from to rate to produces.
func ResampledLength(n, from, to int) int {
	return int(math.Round(float64(n) * float64(to) / float64(from)))
}

func (u *SincUpsampler) resample(w Waveform, to int) Waveform {
	from := w.SampleRate
	if from == to {
		return w
	}

	g := gcd(from, to)
	up, down := to/g, from/g
	pp := u.filter(up, down)

	in := w.Samples
	out := make([]float32, ResampledLength(len(in), from, to))

	for n := range out {
		pos := int64(n) * int64(down)
		base := int(pos / int64(up))
		taps := pp.taps[pos%int64(up)]
		first := base - pp.half + 1

		var acc float64
		for j, c := range taps {
			k := first + j
			if k < 0 || k >= len(in) {
				continue
			}
			acc += c * float64(in[k])
		}
		out[n] = float32(acc)
	}

	return Waveform{Samples: out, SampleRate: to}
}

// polyphase holds one FIR branch per output phase. Branch p interpolates at a
// fractional input offset of p/up.
type polyphase struct {
	half int
	taps [][]float64
}

func (u *SincUpsampler) filter(up, down int) *polyphase {
	key := [2]int{up, down}
	if pp, ok := u.filters.Load(key); ok {
		return pp.(*polyphase)
	}

	designed := u.design(up, down)
	if u.cached.Load() >= maxCachedFilters {
		return designed
	}

	pp, loaded := u.filters.LoadOrStore(key, designed)
	if !loaded {
		u.cached.Add(1)
	}
	return pp.(*polyphase)
}

func (u *SincUpsampler) design(up, down int) *polyphase {
	// Cutoff relative to the input Nyquist frequency.
	cutoff := u.rolloff * math.Min(1, float64(up)/float64(down))
	half := int(math.Ceil(float64(u.zeroCrossings) / cutoff))
	i0Beta := besselI0(u.beta)

	taps := make([][]float64, up)
	for p := range up {
		frac := float64(p) / float64(up)
		branch := make([]float64, 2*half)

		var sum float64
		for j := range branch {
			d := frac + float64(half-1-j)
			x := d / float64(half)
			if x <= -1 || x >= 1 {
				continue
			}
			window := besselI0(u.beta*math.Sqrt(1-x*x)) / i0Beta
			branch[j] = cutoff * sinc(cutoff*d) * window
			sum += branch[j]
		}

		// Unity DC gain per branch.
		if sum != 0 {
			for j := range branch {
				branch[j] /= sum
			}
		}
		taps[p] = branch
	}

	return &polyphase{half: half, taps: taps}
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// besselI0 is the zeroth order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 200; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
