package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
)

// Fallback tries Primary and, on failure, Secondary. When both fail the error
// wraps core.ErrBackendUnavailable along with both causes.
type Fallback struct {
	Primary   Embedder
	Secondary Embedder
	Logger    logging.Logger
}

// Embed implements Embedder.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float64, error) {
	var errs []error
	for i, e := range []Embedder{f.Primary, f.Secondary} {
		if e == nil {
			continue
		}
		v, err := e.Embed(ctx, text)
		if err == nil && len(v) > 0 {
			return v, nil
		}
		if err == nil {
			err = errors.New("empty embedding")
		}
		logging.Ensure(f.Logger).Warn("embedding backend failed", "tier", i, "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no embedder configured", core.ErrBackendUnavailable)
	}
	return nil, fmt.Errorf("%w: %w", core.ErrBackendUnavailable, errors.Join(errs...))
}
