package protocol

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Each runs fn once per key with at most parallelism calls in flight and
// collects the failures by key.
//
// A failing item never cancels its siblings. Keys not yet started when ctx
// is done fail with the context error, which is also returned.
func Each(ctx context.Context, parallelism int, keys []string, fn func(ctx context.Context, key string) error) (map[string]error, error) {
	failures := make(map[string]error)
	var mu sync.Mutex

	record := func(key string, err error) {
		mu.Lock()
		failures[key] = err
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(max(parallelism, 1))

	for _, key := range keys {
		key := key
		if err := ctx.Err(); err != nil {
			record(key, err)
			continue
		}
		g.Go(func() error {
			if err := fn(ctx, key); err != nil {
				record(key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return failures, ctx.Err()
}

// TransferKeys indexes transfers by PFN.
func TransferKeys(transfers []Transfer) ([]string, map[string]Transfer) {
	keys := make([]string, 0, len(transfers))
	byPFN := make(map[string]Transfer, len(transfers))
	for _, t := range transfers {
		keys = append(keys, t.PFN)
		byPFN[t.PFN] = t
	}
	return keys, byPFN
}
