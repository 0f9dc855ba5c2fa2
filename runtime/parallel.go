package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ExecuteParallel runs independent bundles concurrently, at most limit at
// a time (unbounded when limit <= 0). Results are in input order. The
// bundles must not touch the same entries; each stages and commits its
// sections on its own.
func (e *Executor) ExecuteParallel(ctx context.Context, bundles []*Bundle, limit int) ([]*BundleResult, error) {
	results := make([]*BundleResult, len(bundles))
	eg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, b := range bundles {
		eg.Go(func() error {
			res, err := e.Execute(ctx, b)
			results[i] = res
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
