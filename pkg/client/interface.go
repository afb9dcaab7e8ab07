package client

import (
	"context"

	"github.com/menta2k/image-sweep/pkg/types"
)

// InferenceClient sends one chat request and returns the model's answer.
// ok is false when the endpoint answered without any choice; that is an
// absent response, not an error.
type InferenceClient interface {
	Infer(ctx context.Context, req *types.ChatRequest) (text string, ok bool, err error)
}
