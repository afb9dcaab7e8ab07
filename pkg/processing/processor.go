package processing

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
)

// LoadImage decodes an image from disk
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidImage, "load", fmt.Sprintf("cannot decode %s", path), err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.Newf(apperrors.KindInvalidImage, "load", "%s has no pixels", path)
	}
	return img, nil
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path, format string, quality int) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Extension maps an output format to its file extension
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "webp":
		return "webp"
	case "png":
		return "png"
	default:
		return "jpg"
	}
}

// hasAlpha reports whether the colour model of img can carry transparency
func hasAlpha(img image.Image) bool {
	switch src := img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	case *image.Paletted:
		for _, c := range src.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	default:
		return true
	}
}
