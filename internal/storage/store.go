// Package storage persists evaluation results. Every sink receives every
// record, successful or not.
package storage

import (
	"context"
	"errors"

	"github.com/menta2k/image-sweep/pkg/types"
)

// Sink persists one evaluation result
type Sink interface {
	Save(ctx context.Context, result *types.EvaluationResult) error
}

// Multi fans a result out to several sinks. All sinks are attempted and
// their errors joined.
type Multi []Sink

func (m Multi) Save(ctx context.Context, result *types.EvaluationResult) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
