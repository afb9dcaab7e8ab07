package sweep

import (
	"fmt"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/types"
)

const (
	DefaultSystemInstruction = "You are a helpful image capable model"
	DefaultInstruction       = "Describe the image. Make sure to list every object that can be recognized and the location of that object. If there is any writing, transcribe it separately."
)

// Config is the fixed description of one sweep. It is copied into the
// controller at construction and never changed afterwards.
type Config struct {
	SystemInstruction string
	Instruction       string
	// Model is sent only when non-empty
	Model        string
	Sampling     types.Sampling
	MaxDimension int
	Scales       []float64
	Qualities    []int
}

// DefaultScales and DefaultQualities define the 18 pair matrix
func DefaultScales() []float64 {
	return []float64{1.0, 2.0 / 3.0, 1.0 / 3.0}
}

func DefaultQualities() []int {
	return []int{100, 90, 70, 50, 30, 10}
}

func DefaultConfig() Config {
	return Config{
		SystemInstruction: DefaultSystemInstruction,
		Instruction:       DefaultInstruction,
		Sampling:          types.DefaultSampling(),
		MaxDimension:      processing.DefaultMaxDimension,
		Scales:            DefaultScales(),
		Qualities:         DefaultQualities(),
	}
}

// Validate checks the matrix bounds before a controller is built
func (c Config) Validate() error {
	if c.MaxDimension <= 0 {
		return apperrors.Newf(apperrors.KindConfig, "sweep", "max dimension must be positive, got %d", c.MaxDimension)
	}
	if len(c.Scales) == 0 || len(c.Qualities) == 0 {
		return apperrors.New(apperrors.KindConfig, "sweep", "scales and qualities must not be empty")
	}
	for _, s := range c.Scales {
		if s <= 0 || s > 1 {
			return apperrors.Newf(apperrors.KindConfig, "sweep", "scale factor %g outside (0, 1]", s)
		}
	}
	for _, q := range c.Qualities {
		if q < 1 || q > 100 {
			return apperrors.Newf(apperrors.KindConfig, "sweep", "quality %d outside 1-100", q)
		}
	}
	if c.Sampling.MaxTokens <= 0 {
		return apperrors.Newf(apperrors.KindConfig, "sweep", "max tokens must be positive, got %d", c.Sampling.MaxTokens)
	}
	return nil
}

// Pair is one (scale, quality) cell of the matrix
type Pair struct {
	Scale   float64
	Quality int
}

func (p Pair) String() string {
	return fmt.Sprintf("s%d/q%d", processing.ScalePercent(p.Scale), p.Quality)
}

// Pairs enumerates the matrix: every quality for the first scale, then the next
func (c Config) Pairs() []Pair {
	pairs := make([]Pair, 0, len(c.Scales)*len(c.Qualities))
	for _, s := range c.Scales {
		for _, q := range c.Qualities {
			pairs = append(pairs, Pair{Scale: s, Quality: q})
		}
	}
	return pairs
}

func (c Config) clone() Config {
	out := c
	out.Scales = append([]float64(nil), c.Scales...)
	out.Qualities = append([]int(nil), c.Qualities...)
	return out
}
