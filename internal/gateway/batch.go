package gateway

import (
	"context"

	"github.com/user/mediasync/internal/types"
)

// Progress reports how far a batch has advanced. Percent never decreases.
type Progress struct {
	Done    int
	Total   int
	Percent int
	Last    Result
}

// UploadBatch uploads paths one at a time, in order, calling progress after
// each file. A cancelled context stops the batch before the next file; the
// remaining paths are reported as failed.
func (g *Gateway) UploadBatch(ctx context.Context, paths []string, tags []types.TagID, progress func(Progress)) []Result {
	results := make([]Result, 0, len(paths))
	for i, p := range paths {
		var res Result
		if err := ctx.Err(); err != nil {
			res = Result{Outcome: OutcomeFailed, Err: err}
		} else {
			res = g.UploadToServer(ctx, p, tags)
		}
		results = append(results, res)
		if progress != nil {
			progress(Progress{
				Done:    i + 1,
				Total:   len(paths),
				Percent: (i + 1) * 100 / len(paths),
				Last:    res,
			})
		}
	}
	return results
}
