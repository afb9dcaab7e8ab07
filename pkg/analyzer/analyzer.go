// Package analyzer inspects source images before a sweep: it reads the
// header only, so unsupported or truncated files are rejected without a
// full decode.
package analyzer

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
)

// ImageAnalyzer checks source images against the configured limits
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// New creates a new ImageAnalyzer accepting PNG and JPEG of any size
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"jpeg", "png"},
			MinImageSize:     1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Format      string
	Width       int
	Height      int
	AspectRatio float64
	Area        int
	FileSize    int64
}

// Inspect reads the header of the image at path and validates it
func (a *ImageAnalyzer) Inspect(path string) (ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, apperrors.Wrap(apperrors.KindInvalidImage, "inspect", "failed to open image file", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return ImageInfo{}, apperrors.Wrap(apperrors.KindInvalidImage, "inspect", "failed to read image header", err)
	}

	info := ImageInfo{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Area:   cfg.Width * cfg.Height,
	}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	if st, err := file.Stat(); err == nil {
		info.FileSize = st.Size()
	}

	if !a.isFormatSupported(format) {
		return info, apperrors.Newf(apperrors.KindInvalidImage, "inspect", "unsupported image format: %s", format)
	}
	if err := a.ValidateSize(info.Width, info.Height); err != nil {
		return info, err
	}
	return info, nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateSize checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateSize(width, height int) error {
	if width < a.config.MinImageSize || height < a.config.MinImageSize {
		return apperrors.New(apperrors.KindInvalidImage, "inspect",
			fmt.Sprintf("image too small: %dx%d (minimum: %d)", width, height, a.config.MinImageSize))
	}
	return nil
}
