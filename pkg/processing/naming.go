package processing

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// BaseName returns the file name without directory and extension
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ScalePercent is the integer percentage used in file names and labels
func ScalePercent(scale float64) int {
	return int(math.Round(scale * 100))
}

// VariantPath is the canonical location of an encoded variant
func VariantPath(dir, sourcePath string, quality int, scale float64) string {
	if dir == "" {
		dir = filepath.Dir(sourcePath)
	}
	name := fmt.Sprintf("%s_q%d_s%d.jpg", BaseName(sourcePath), quality, ScalePercent(scale))
	return filepath.Join(dir, name)
}

// ArtifactStem names the per-pair outputs. Default settings are left out of
// the name: scale 1.0 drops the scale part, quality 100 drops the quality
// part, and both defaults together use "original".
func ArtifactStem(sourcePath string, scale float64, quality int) string {
	name := BaseName(sourcePath)
	fullScale := scale == 1.0

	switch {
	case fullScale && quality == 100:
		return name + "_original"
	case fullScale:
		return fmt.Sprintf("%s_q%d", name, quality)
	case quality == 100:
		return fmt.Sprintf("%s_s%d", name, ScalePercent(scale))
	default:
		return fmt.Sprintf("%s_s%d_q%d", name, ScalePercent(scale), quality)
	}
}
