package processing

import (
	"math"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
)

// DefaultMaxDimension is the baseline long-side bound before scaling
const DefaultMaxDimension = 896

// EffectiveMaxDimension returns floor(baseline * scale).
//
// Truncation is used everywhere a bound is derived (encoding, display and
// labels) so the three can never disagree by a pixel.
func EffectiveMaxDimension(baseline int, scale float64) int {
	return int(math.Floor(float64(baseline) * scale))
}

// BoundDimensions fits width x height inside a square bound while preserving
// aspect ratio. Images already inside the bound are returned unchanged; the
// longer side of a larger image maps exactly onto bound.
func BoundDimensions(width, height, bound int) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, apperrors.Newf(apperrors.KindInvalidImage, "resize", "invalid image dimensions %dx%d", width, height)
	}
	if bound <= 0 {
		return 0, 0, apperrors.Newf(apperrors.KindInvalidParameter, "resize", "invalid bound %d", bound)
	}
	if width <= bound && height <= bound {
		return width, height, nil
	}

	if width >= height {
		ratio := float64(bound) / float64(width)
		return bound, clampMin(int(math.Round(float64(height)*ratio)), 1), nil
	}
	ratio := float64(bound) / float64(height)
	return clampMin(int(math.Round(float64(width)*ratio)), 1), bound, nil
}

func clampMin(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}
