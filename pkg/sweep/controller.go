// Package sweep drives the (scale, quality) matrix for one source image.
package sweep

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/client"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/types"
)

// ErrConsumed is returned when Run is called on a controller that already ran
var ErrConsumed = errors.New("sweep: controller already ran")

// VariantEncoder produces the encoded image for one pair
type VariantEncoder interface {
	Encode(img image.Image, sourcePath string, quality int, scale float64, maxDimension int) (*types.Variant, error)
}

// Renderer builds the comparison artifact of a successful pair
type Renderer interface {
	Render(original image.Image, result *types.EvaluationResult) (string, error)
}

// Sink persists every record
type Sink interface {
	Save(ctx context.Context, result *types.EvaluationResult) error
}

// Recorder receives per-pair metrics
type Recorder interface {
	ObservePair(scalePercent, quality int, success bool, seconds float64, encodedBytes int)
	IncErrorsTotal(kind string)
	IncArtifactsTotal(kind string, success bool)
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Controller runs the sweep for exactly one image
type Controller struct {
	cfg      Config
	encoder  VariantEncoder
	client   client.InferenceClient
	renderer Renderer
	sink     Sink
	metrics  Recorder
	logger   *zap.Logger
	now      func() time.Time
	runID    string

	state atomic.Int32
}

type Option func(*Controller)

func WithRenderer(r Renderer) Option { return func(c *Controller) { c.renderer = r } }

func WithSink(s Sink) Option { return func(c *Controller) { c.sink = s } }

func WithMetrics(m Recorder) Option { return func(c *Controller) { c.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

func WithRunID(id string) Option { return func(c *Controller) { c.runID = id } }

// WithClock replaces time.Now, used for timestamps and durations
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New validates cfg and builds an idle controller
func New(cfg Config, encoder VariantEncoder, inference client.InferenceClient, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if encoder == nil || inference == nil {
		return nil, apperrors.New(apperrors.KindConfig, "sweep", "encoder and inference client are required")
	}

	c := &Controller{
		cfg:     cfg.clone(),
		encoder: encoder,
		client:  inference,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	return c, nil
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Run processes every pair of the matrix for img in enumeration order and
// returns one record per pair. Pair failures become failed records; only a
// second call on the same controller returns an error. Once ctx is done the
// remaining pairs are returned as failed records without being encoded,
// persisted or rendered.
func (c *Controller) Run(ctx context.Context, path string, img image.Image) ([]types.EvaluationResult, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrConsumed
	}
	defer c.state.Store(int32(StateDone))

	log := c.logger.With(zap.String("file", path))
	results := make([]types.EvaluationResult, 0, len(c.cfg.Scales)*len(c.cfg.Qualities))

	skipped := 0
	for _, scale := range c.cfg.Scales {
		if ctx.Err() == nil {
			log.Info("processing scale", zap.String("scale", c.scaleLabel(scale)))
		}

		for _, quality := range c.cfg.Qualities {
			p := Pair{Scale: scale, Quality: quality}
			if ctx.Err() != nil {
				results = append(results, c.cancelled(ctx, path, p))
				skipped++
				continue
			}
			log.Info("processing quality", zap.Int("quality", quality))

			res := c.ProcessPair(ctx, path, img, p)
			c.forward(ctx, log, img, &res)
			results = append(results, res)
		}
	}
	if skipped > 0 {
		log.Warn("sweep cancelled", zap.Int("skipped", skipped), zap.Error(ctx.Err()))
	}

	return results, nil
}

// ProcessPair encodes img for p, asks the model about it and returns the
// record. It never fails; stage errors are carried in the record.
func (c *Controller) ProcessPair(ctx context.Context, path string, img image.Image, p Pair) types.EvaluationResult {
	start := c.now()
	res := c.record(path, p)
	if err := ctx.Err(); err != nil {
		return c.fail(res, start, contextError(p, err))
	}

	variant, err := c.encoder.Encode(img, path, p.Quality, p.Scale, c.cfg.MaxDimension)
	if err != nil {
		return c.fail(res, start, apperrors.Wrap(apperrors.KindEncoding, "encode", p.String(), err))
	}
	res.EffectiveMaxDimension = variant.EffectiveMaxDimension
	res.OutputPath = variant.Path
	res.Width = variant.Width
	res.Height = variant.Height
	res.EncodedBytes = len(variant.Data)

	req := types.NewChatRequest(
		c.cfg.Model,
		c.cfg.SystemInstruction,
		c.cfg.Instruction,
		base64.StdEncoding.EncodeToString(variant.Data),
		c.cfg.Sampling,
	)
	res.Payload = req

	text, _, err := c.client.Infer(ctx, req)
	if err != nil {
		return c.fail(res, start, apperrors.Wrap(apperrors.KindTransport, "infer", p.String(), err))
	}

	end := c.now()
	res.Timestamp = end
	res.ProcessingTime = end.Sub(start).Seconds()
	res.Success = true
	res.Response = &text
	return res
}

func (c *Controller) record(path string, p Pair) types.EvaluationResult {
	return types.EvaluationResult{
		RunID:                 c.runID,
		FilePath:              path,
		Quality:               p.Quality,
		ScaleFactor:           p.Scale,
		EffectiveMaxDimension: processing.EffectiveMaxDimension(c.cfg.MaxDimension, p.Scale),
	}
}

func (c *Controller) cancelled(ctx context.Context, path string, p Pair) types.EvaluationResult {
	return c.fail(c.record(path, p), c.now(), contextError(p, ctx.Err()))
}

func contextError(p Pair, err error) error {
	kind := apperrors.KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperrors.KindTimeout
	}
	return apperrors.Wrap(kind, "sweep", p.String()+" not started", err)
}

func (c *Controller) fail(res types.EvaluationResult, start time.Time, err error) types.EvaluationResult {
	end := c.now()
	res.Timestamp = end
	res.ProcessingTime = end.Sub(start).Seconds()
	res.Success = false
	res.Response = nil
	res.Error = err.Error()
	res.ErrorKind = string(apperrors.KindOf(err))
	return res
}

// forward persists res and renders it when successful. Failures here are
// logged and counted only.
func (c *Controller) forward(ctx context.Context, log *zap.Logger, img image.Image, res *types.EvaluationResult) {
	c.metrics.ObservePair(processing.ScalePercent(res.ScaleFactor), res.Quality, res.Success, res.ProcessingTime, res.EncodedBytes)
	if !res.Success {
		c.metrics.IncErrorsTotal(res.ErrorKind)
	}

	if c.sink != nil {
		// a pair that was already in flight is kept even if ctx ended meanwhile
		err := c.sink.Save(context.WithoutCancel(ctx), res)
		c.metrics.IncArtifactsTotal("json", err == nil)
		if err != nil {
			c.metrics.IncErrorsTotal(string(apperrors.KindOf(err)))
			log.Warn("failed to persist result",
				zap.Int("quality", res.Quality),
				zap.Float64("scale", res.ScaleFactor),
				zap.Error(err))
		}
	}

	if !res.Success {
		log.Warn("pair failed",
			zap.Int("quality", res.Quality),
			zap.Float64("scale", res.ScaleFactor),
			zap.String("kind", res.ErrorKind),
			zap.String("error", res.Error))
		return
	}

	if c.renderer == nil {
		return
	}
	artifact, err := c.renderer.Render(img, res)
	c.metrics.IncArtifactsTotal("render", err == nil)
	if err != nil {
		c.metrics.IncErrorsTotal(string(apperrors.KindRender))
		log.Warn("failed to render comparison", zap.Int("quality", res.Quality), zap.Error(err))
		return
	}
	log.Info("created comparison",
		zap.String("artifact", artifact),
		zap.Float64("seconds", res.ProcessingTime))
}

func (c *Controller) scaleLabel(scale float64) string {
	bound := processing.EffectiveMaxDimension(c.cfg.MaxDimension, scale)
	if scale == 1.0 {
		return fmt.Sprintf("original (%dpx)", bound)
	}
	return fmt.Sprintf("%d%% (%dpx)", processing.ScalePercent(scale), bound)
}

type nopRecorder struct{}

func (nopRecorder) ObservePair(int, int, bool, float64, int) {}
func (nopRecorder) IncErrorsTotal(string)                    {}
func (nopRecorder) IncArtifactsTotal(string, bool)           {}
