package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/internal/utils"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/types"
)

// JSONStore writes one indented JSON file per result next to the rendered
// artifacts, named {stem}.json
type JSONStore struct {
	Dir string
}

func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{Dir: dir}
}

// Path returns the JSON path for result
func (s *JSONStore) Path(result *types.EvaluationResult) string {
	return filepath.Join(s.Dir, processing.ArtifactStem(result.FilePath, result.ScaleFactor, result.Quality)+".json")
}

func (s *JSONStore) Save(ctx context.Context, result *types.EvaluationResult) error {
	if result == nil {
		return apperrors.New(apperrors.KindStorage, "json", "nil result")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "json", "save cancelled", err)
	}

	data, err := MarshalResult(result)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(s.Dir); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "json", "create output directory", err)
	}

	path := s.Path(result)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "json", "write "+path, err)
	}
	return nil
}

// MarshalResult encodes result with its image payload redacted
func MarshalResult(result *types.EvaluationResult) ([]byte, error) {
	out := *result
	out.Payload = result.Payload.Redacted()

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "json", "marshal result", err)
	}
	return append(data, '\n'), nil
}
