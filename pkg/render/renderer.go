// Package render builds the side-by-side comparison artifacts: the image as
// the model saw it on the left, the settings and the wrapped model answer on
// the right.
package render

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/internal/utils"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/types"
)

// Layout holds the pixel metrics of the text panel
type Layout struct {
	FontSize           float64
	Margin             int
	SettingsLineHeight int
	LineHeight         int
	// HeaderAllowance is reserved above the response for settings and separator
	HeaderAllowance int
}

// DefaultLayout matches a 14px font
func DefaultLayout() Layout {
	return Layout{
		FontSize:           14,
		Margin:             10,
		SettingsLineHeight: 21,
		LineHeight:         16,
		HeaderAllowance:    200,
	}
}

// Renderer writes comparison artifacts into OutputDir
type Renderer struct {
	OutputDir string
	Format    string
	Quality   int
	Layout    Layout
	Measurer  Measurer
	Face      font.Face
}

// New creates a renderer with the default layout and approximate measuring
func New(outputDir string) *Renderer {
	layout := DefaultLayout()
	return &Renderer{
		OutputDir: outputDir,
		Format:    "jpg",
		Quality:   92,
		Layout:    layout,
		Measurer:  NewApproxMeasurer(layout.FontSize),
		Face:      basicfont.Face7x13,
	}
}

// UseFontMetrics switches wrapping to exact glyph advances of the draw face
func (r *Renderer) UseFontMetrics() {
	r.Measurer = FontMeasurer{Face: r.face()}
}

// ArtifactPath returns where the comparison for result is written
func (r *Renderer) ArtifactPath(result *types.EvaluationResult) string {
	stem := processing.ArtifactStem(result.FilePath, result.ScaleFactor, result.Quality)
	return filepath.Join(r.OutputDir, stem+"_combined."+processing.Extension(r.Format))
}

// Render composes and saves the comparison artifact for result
func (r *Renderer) Render(original image.Image, result *types.EvaluationResult) (string, error) {
	canvas, err := r.Compose(original, result)
	if err != nil {
		return "", err
	}

	if err := utils.EnsureDir(r.OutputDir); err != nil {
		return "", renderError("create output directory", err)
	}
	path := r.ArtifactPath(result)
	if err := processing.SaveImage(canvas, path, r.Format, r.Quality); err != nil {
		return "", renderError(fmt.Sprintf("save %s", path), err)
	}
	return path, nil
}

// Compose draws the artifact in memory
func (r *Renderer) Compose(original image.Image, result *types.EvaluationResult) (*image.NRGBA, error) {
	if original == nil {
		return nil, apperrors.New(apperrors.KindRender, "render", "nil original image")
	}
	if result == nil {
		return nil, apperrors.New(apperrors.KindRender, "render", "nil result")
	}

	// the display uses the same bound as the variant the model saw
	bound := result.EffectiveMaxDimension
	if bound <= 0 {
		bound = processing.EffectiveMaxDimension(processing.DefaultMaxDimension, result.ScaleFactor)
	}

	b := original.Bounds()
	dw, dh, err := processing.BoundDimensions(b.Dx(), b.Dy(), bound)
	if err != nil {
		return nil, renderError("display size", err)
	}
	display := original
	if dw != b.Dx() || dh != b.Dy() {
		display = imaging.Resize(original, dw, dh, imaging.Lanczos)
	}

	l := r.Layout
	usable := dw - 2*l.Margin
	if usable < 1 {
		usable = 1
	}
	lines := Wrap(result.ResponseText(), usable, r.measurer())

	height := len(lines)*l.LineHeight + l.HeaderAllowance
	if height < dh {
		height = dh
	}
	width := 2 * dw

	canvas := imaging.New(width, height, color.White)
	canvas = imaging.Overlay(canvas, display, image.Pt(0, 0), 1.0)

	x := dw + l.Margin
	y := l.Margin
	for _, line := range SettingsLines(result, bound) {
		r.drawText(canvas, x, y, line)
		y += l.SettingsLineHeight
	}

	y += l.Margin
	drawHLine(canvas, y, x, width-l.Margin, color.NRGBA{0, 0, 0, 255})
	y += l.Margin

	for _, line := range lines {
		r.drawText(canvas, x, y, line)
		y += l.LineHeight
	}

	return canvas, nil
}

// SettingsLines describes the sweep pair that produced result
func SettingsLines(result *types.EvaluationResult, bound int) []string {
	temperature := "n/a"
	if t, ok := result.Temperature(); ok {
		temperature = strconv.FormatFloat(t, 'g', -1, 64)
	}
	return []string{
		fmt.Sprintf("Quality: %d%%", result.Quality),
		fmt.Sprintf("Scale: %d%% (%dpx)", processing.ScalePercent(result.ScaleFactor), bound),
		fmt.Sprintf("Temperature: %s", temperature),
		fmt.Sprintf("Time: %.2fs", result.ProcessingTime),
	}
}

func (r *Renderer) face() font.Face {
	if r.Face == nil {
		return basicfont.Face7x13
	}
	return r.Face
}

func (r *Renderer) measurer() Measurer {
	if r.Measurer == nil {
		return NewApproxMeasurer(r.Layout.FontSize)
	}
	return r.Measurer
}

// drawText draws s with its top edge at y
func (r *Renderer) drawText(img *image.NRGBA, x, y int, s string) {
	face := r.face()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func renderError(message string, err error) error {
	return &apperrors.Error{Kind: apperrors.KindRender, Op: "render", Message: message, Cause: err}
}
