package sharedmap

// loaderfunc.go defines LoaderFunc, the user-supplied callback GetOrLoad
// invokes on a miss, in its own file the way the teacher split it out from
// loader.go.
//
// © 2025 sharedmap authors. MIT License.

import "context"

// LoaderFunc produces a value for key when GetOrLoad misses. GetOrLoad holds
// no map lock while the loader runs. The loader must not call GetOrLoad for
// the same key on the same SharedMap — that call joins the singleflight
// group it is itself running in and waits on itself forever. It should
// honour ctx for cancellation.
type LoaderFunc func(ctx context.Context, key string) (string, error)
