package sharedmap

// loader.go implements the singleflight-based GetOrLoad convenience: a
// boundary-level coercion the spec explicitly keeps out of the map's core
// (§1) but allows at the edge. It deduplicates concurrent misses for the
// same key so that only one caller actually runs the loader; everyone else
// waits for its result, and each caller then stores that same result with
// Set. This
// is the same job the teacher's loader.go did for Cache.GetOrLoad, carried
// over almost unchanged since the concern (singleflight over a string key)
// transfers directly.
//
// © 2025 sharedmap authors. MIT License.

import (
    "context"

    "golang.org/x/sync/singleflight"
)

// loaderGroup deduplicates concurrent calls to the same key's LoaderFunc.
type loaderGroup struct {
    g singleflight.Group
}

func newLoaderGroup() *loaderGroup {
    return &loaderGroup{}
}

func (lg *loaderGroup) load(ctx context.Context, key string, fn LoaderFunc) (string, error, bool) {
    res, err, shared := lg.g.Do(key, func() (any, error) {
        return fn(ctx, key)
    })
    if ctx.Err() != nil {
        return "", ctx.Err(), shared
    }
    if err != nil {
        return "", err, shared
    }
    return res.(string), nil, shared
}

// GetOrLoad returns the value stored for key, loading and storing it via fn
// if key is absent. Concurrent GetOrLoad calls for the same missing key
// share one loader invocation.
func (sm *SharedMap) GetOrLoad(ctx context.Context, key string, fn LoaderFunc) (string, error) {
    if value, found, err := sm.Get(key); err != nil {
        return "", err
    } else if found {
        return value, nil
    }

    sm.loaderOnce.Do(func() { sm.loaders = newLoaderGroup() })
    value, err, _ := sm.loaders.load(ctx, key, fn)
    if err != nil {
        return "", err
    }
    if err := sm.Set(key, value); err != nil {
        return "", err
    }
    return value, nil
}
