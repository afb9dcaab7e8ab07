// Package imagesweep measures how a vision model's answers degrade as its
// input image is downscaled and compressed.
//
// For every source image the harness encodes a matrix of (scale, quality)
// variants, sends each one to an inference endpoint, and records the
// answer next to the settings that produced it.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"time"
//
//		imagesweep "github.com/menta2k/image-sweep"
//		"github.com/menta2k/image-sweep/internal/storage"
//		"github.com/menta2k/image-sweep/pkg/llamacpp"
//		"github.com/menta2k/image-sweep/pkg/processing"
//		"github.com/menta2k/image-sweep/pkg/render"
//		"github.com/menta2k/image-sweep/pkg/sweep"
//	)
//
//	func main() {
//		client, err := llamacpp.NewClient("http://localhost:5001", "", 5*time.Minute)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		harness, err := imagesweep.New(sweep.DefaultConfig(), processing.NewEncoder(), client, imagesweep.Options{
//			Renderer: render.New("photos_results"),
//			Sink:     storage.NewJSONStore("photos_results"),
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		summary, err := harness.ProcessDir(context.Background(), "photos")
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("%d of %d pairs succeeded", summary.Succeeded, summary.Pairs)
//	}
//
// The package consists of these components:
//
// 1. Analyzer (pkg/analyzer): header checks of source images
// 2. Processing (pkg/processing): bounding, resampling and JPEG encoding of variants
// 3. Clients (pkg/llamacpp, pkg/ollama): the inference backends
// 4. Sweep (pkg/sweep): enumeration of the matrix with per-pair failure isolation
// 5. Render (pkg/render): side-by-side comparison images with wrapped answers
package imagesweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/image-sweep/internal/metrics"
	"github.com/menta2k/image-sweep/internal/utils"
	"github.com/menta2k/image-sweep/pkg/analyzer"
	"github.com/menta2k/image-sweep/pkg/client"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/sweep"
	"github.com/menta2k/image-sweep/pkg/types"
)

// Version of the image sweep library
const Version = "1.0.0"

var (
	// ErrInvalidDir is returned when the input path is not a directory
	ErrInvalidDir = errors.New("not a valid directory")
	// ErrNoImages is returned when the input directory holds no matching files
	ErrNoImages = errors.New("no image files found")
)

// Options carries the optional collaborators of a Harness
type Options struct {
	Renderer sweep.Renderer
	Sink     sweep.Sink
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// RunID tags every record; a random UUID when empty
	RunID string
}

// Harness runs one sweep per source image
type Harness struct {
	cfg       sweep.Config
	encoder   sweep.VariantEncoder
	client    client.InferenceClient
	inspector *analyzer.ImageAnalyzer
	opts      Options
	logger    *zap.Logger
}

// Summary counts the outcome of a directory run
type Summary struct {
	RunID        string
	Images       int
	FailedImages int
	Pairs        int
	Succeeded    int
	Failed       int
}

// New validates cfg and builds a harness
func New(cfg sweep.Config, encoder sweep.VariantEncoder, inference client.InferenceClient, opts Options) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{
		cfg:       cfg,
		encoder:   encoder,
		client:    inference,
		inspector: analyzer.New(),
		opts:      opts,
		logger:    logger.With(zap.String("run_id", opts.RunID)),
	}, nil
}

func (h *Harness) RunID() string {
	return h.opts.RunID
}

// ProcessFile loads the image at path and runs a fresh sweep over it
func (h *Harness) ProcessFile(ctx context.Context, path string) ([]types.EvaluationResult, error) {
	info, err := h.inspector.Inspect(path)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("source image",
		zap.String("file", path),
		zap.String("format", info.Format),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.String("size", utils.FormatFileSize(info.FileSize)))

	img, err := processing.LoadImage(path)
	if err != nil {
		return nil, err
	}

	ctrl, err := sweep.New(h.cfg, h.encoder, h.client,
		sweep.WithRenderer(h.opts.Renderer),
		sweep.WithSink(h.opts.Sink),
		sweep.WithMetrics(h.opts.Metrics),
		sweep.WithLogger(h.logger),
		sweep.WithRunID(h.opts.RunID),
	)
	if err != nil {
		return nil, err
	}
	return ctrl.Run(ctx, path, img)
}

// ProcessDir sweeps every image found under dir. Errors of a single image
// are logged and the run moves on; only an unusable directory fails the call.
// A cancelled context stops the run before the next image.
func (h *Harness) ProcessDir(ctx context.Context, dir string) (*Summary, error) {
	if !utils.DirExists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDir, dir)
	}
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	h.logger.Info("found image files", zap.Int("count", len(files)), zap.String("dir", dir))

	summary := &Summary{RunID: h.opts.RunID}
	for i, path := range files {
		if ctx.Err() != nil {
			h.logger.Warn("sweep interrupted", zap.Int("remaining", len(files)-i))
			break
		}

		h.logger.Info("processing image",
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(files))),
			zap.String("file", path))

		summary.Images++
		results, err := h.ProcessFile(ctx, path)
		if err != nil {
			summary.FailedImages++
			h.opts.Metrics.IncImagesTotal(false)
			h.logger.Error("error processing image", zap.String("file", path), zap.Error(err))
			continue
		}
		h.opts.Metrics.IncImagesTotal(true)

		for _, res := range results {
			summary.Pairs++
			if res.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
		}
	}

	h.logger.Info("processing complete",
		zap.Int("images", summary.Images),
		zap.Int("pairs", summary.Pairs),
		zap.Int("failed_pairs", summary.Failed))
	return summary, nil
}
