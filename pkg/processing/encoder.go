package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/internal/utils"
	"github.com/menta2k/image-sweep/pkg/types"
)

// Encoder produces the compressed, size-bounded variants sent to the model
type Encoder struct {
	// Dir overrides the directory of canonical variant paths; empty means
	// next to the source image
	Dir string
	// SaveVariants writes every encoded variant to its canonical path
	SaveVariants bool
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode resizes, flattens and JPEG-encodes img for one (quality, scale) pair.
// maxDimension is the long-side bound at scale 1.0; zero or less means 896.
func (e *Encoder) Encode(img image.Image, sourcePath string, quality int, scale float64, maxDimension int) (*types.Variant, error) {
	if quality < 1 || quality > 100 {
		return nil, apperrors.Newf(apperrors.KindInvalidParameter, "encode", "quality %d outside 1-100", quality)
	}
	if scale <= 0 || scale > 1 {
		return nil, apperrors.Newf(apperrors.KindInvalidParameter, "encode", "scale factor %g outside (0, 1]", scale)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.KindInvalidImage, "encode", "nil image")
	}

	baseline := maxDimension
	if baseline <= 0 {
		baseline = DefaultMaxDimension
	}
	bound := EffectiveMaxDimension(baseline, scale)

	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	w, h, err := BoundDimensions(srcW, srcH, bound)
	if err != nil {
		return nil, err
	}

	out := img
	if w != srcW || h != srcH {
		out = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	if hasAlpha(img) {
		out = FlattenOnWhite(out)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncoding, "encode", "jpeg encoding failed", err)
	}

	path := VariantPath(e.Dir, sourcePath, quality, scale)
	if e.SaveVariants {
		if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, apperrors.Wrap(apperrors.KindEncoding, "encode", "create variant directory", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, apperrors.Wrap(apperrors.KindEncoding, "encode", fmt.Sprintf("write variant %s", path), err)
		}
	}

	return &types.Variant{
		SourceWidth:           srcW,
		SourceHeight:          srcH,
		EffectiveMaxDimension: bound,
		Width:                 w,
		Height:                h,
		Quality:               quality,
		ScaleFactor:           scale,
		Data:                  buf.Bytes(),
		Path:                  path,
	}, nil
}

// FlattenOnWhite composites img over an opaque white canvas of the same size
func FlattenOnWhite(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
