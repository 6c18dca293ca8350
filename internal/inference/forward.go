package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/metrics"
)

// safeForward runs one forward pass, converting a panic in the model into an
// error.
func safeForward(ctx context.Context, m Batched, step *Step, path string) (out *Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in Forward: %v", errdefs.ErrPermanent, rec)
		}
	}()
	metrics.ForwardPasses.WithLabelValues(path).Inc()
	out, err = m.Forward(ctx, step)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Logits == nil {
		return nil, errdefs.Permanent("model returned no logits")
	}
	return out, nil
}

// allPositions checks that out has scores for every input position.
func allPositions(out *Output, width int) error {
	if out.Logits.Positions != width {
		return errdefs.Precondition("model returned scores for %d of %d positions; enable LogitsAll", out.Logits.Positions, width)
	}
	return nil
}
