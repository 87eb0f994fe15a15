// Package sharedmap is a fixed-capacity, process-shared string-to-string
// map: multiple goroutines within one process, or independent OS processes
// mapping the same backing file, read and mutate it simultaneously through
// a coalesced-chaining open-addressing hash table protected by a two-tier
// lock (a map-wide readers/writer lock plus per-slot fine-grained locks).
//
// There is no dynamic growth: capacity, key width, and value width are
// fixed at construction and the entire storage layout lives in one
// contiguous shared-memory region (internal/region), so a peer process can
// reconstruct the same view just by opening the same backing file with the
// same three parameters.
//
// © 2025 sharedmap authors. MIT License.
package sharedmap

import (
    "iter"
    "sync"

    "go.uber.org/zap"

    "github.com/kvarena/sharedmap/internal/chainengine"
    "github.com/kvarena/sharedmap/internal/lockmanager"
    "github.com/kvarena/sharedmap/internal/region"
)

// SharedMap is the public handle onto one shared region. Safe for
// concurrent use from many goroutines; Open-ing the same path from a
// separate process yields a second, independent *SharedMap backed by the
// same memory.
type SharedMap struct {
    region  *region.Region
    lm      *lockmanager.Manager
    engine  *chainengine.Engine
    metrics metricsSink
    logger  *zap.Logger
    path    string

    loaderOnce sync.Once
    loaders    *loaderGroup
}

// New constructs a SharedMap backed by an anonymous MAP_SHARED mapping,
// suitable for sharing across goroutines of one process (or across a
// process and its forked children, which inherit the mapping). capacity is
// the fixed slot count; keyUnits/valueUnits are the fixed per-slot width in
// UTF-16 code units. Each of the three is rounded up to a multiple of 4
// (§3) before the region is built — call Capacity/KeyUnits/ValueUnits on
// the result to see the actual stored values.
func New(capacity, keyUnits, valueUnits uint32, opts ...Option) (*SharedMap, error) {
    cfg, err := validateAndBuild(capacity, keyUnits, valueUnits, opts)
    if err != nil {
        return nil, err
    }
    r, err := region.NewAnonymous(capacity, keyUnits, valueUnits)
    if err != nil {
        return nil, err
    }
    sm := newSharedMap(r, cfg, "")
    sm.logger.Info("sharedmap constructed",
        zap.Uint32("capacity", r.Capacity()),
        zap.Uint32("key_units", r.KeyUnits()),
        zap.Uint32("value_units", r.ValueUnits()))
    return sm, nil
}

// Open attaches to a file-backed shared region at path, creating it if it
// does not already exist. Independent OS processes calling Open on the same
// path with the same capacity/keyUnits/valueUnits attach to the same
// underlying memory and observe each other's mutations immediately. Each of
// the three parameters is rounded up to a multiple of 4 (§3) before
// comparison, so peers passing the same nominal values always agree.
func Open(path string, capacity, keyUnits, valueUnits uint32, opts ...Option) (*SharedMap, error) {
    cfg, err := validateAndBuild(capacity, keyUnits, valueUnits, opts)
    if err != nil {
        return nil, err
    }
    r, err := region.Open(path, capacity, keyUnits, valueUnits)
    if err != nil {
        return nil, err
    }
    sm := newSharedMap(r, cfg, path)
    sm.logger.Info("sharedmap attached",
        zap.String("path", path),
        zap.Uint32("capacity", r.Capacity()),
        zap.Uint32("key_units", r.KeyUnits()),
        zap.Uint32("value_units", r.ValueUnits()))
    return sm, nil
}

// validateAndBuild rejects a zero parameter outright — rounding a zero up
// to a multiple of 4 is still zero, so the zero check has to run before
// region.NewAnonymous/region.Open apply their own rounding.
func validateAndBuild(capacity, keyUnits, valueUnits uint32, opts []Option) (*config, error) {
    if capacity == 0 {
        return nil, ErrInvalidCapacity
    }
    if keyUnits == 0 {
        return nil, ErrInvalidKeyUnits
    }
    if valueUnits == 0 {
        return nil, ErrInvalidValueUnits
    }
    return applyOptions(opts), nil
}

func newSharedMap(r *region.Region, cfg *config, path string) *SharedMap {
    lm := lockmanager.New(r.MapLockWords(), r.LockBitmapWords())
    engine := chainengine.New(r, lm, chainengine.Hasher(cfg.hasher))
    sm := &SharedMap{
        region:  r,
        lm:      lm,
        engine:  engine,
        metrics: newMetricsSink(cfg.registry),
        logger:  cfg.logger,
        path:    path,
    }
    sm.metrics.setCapacity(float64(capacityOf(r)))
    return sm
}

func capacityOf(r *region.Region) uint32 { return r.Capacity() }

// Set inserts key/value, replacing any existing value for key. Returns
// ErrBadArgument if key is empty or either string does not fit the
// configured width, or ErrCapacityExceeded if the map is full and no slot
// is available.
func (sm *SharedMap) Set(key, value string) error {
    err := wrapEngineErr(sm.engine.Set(key, value))
    sm.observeEngineCounters()
    return err
}

// observeEngineCounters mirrors the chain engine's cumulative
// deadlock-signal and rechain counts into the metrics sink.
func (sm *SharedMap) observeEngineCounters() {
    sm.metrics.setLength(float64(sm.engine.Length()))
    sm.metrics.setDeadlockSignals(float64(sm.engine.DeadlockSignals()))
    sm.metrics.setRechains(float64(sm.engine.Rechains()))
}

// Get returns the value stored for key. found is false, with a nil error,
// if key is absent.
func (sm *SharedMap) Get(key string) (value string, found bool, err error) {
    value, found, rawErr := sm.engine.Get(key)
    if found {
        sm.metrics.incHit()
    } else if rawErr == nil {
        sm.metrics.incMiss()
    }
    sm.observeEngineCounters()
    return value, found, wrapEngineErr(rawErr)
}

// Has reports whether key is present, without decoding its value.
func (sm *SharedMap) Has(key string) (bool, error) {
    found, rawErr := sm.engine.Has(key)
    if found {
        sm.metrics.incHit()
    } else if rawErr == nil {
        sm.metrics.incMiss()
    }
    sm.observeEngineCounters()
    return found, wrapEngineErr(rawErr)
}

// Delete removes key, reporting whether it was present. Returns
// ErrKeyNotFound (with ok=false) if key was absent.
func (sm *SharedMap) Delete(key string) (bool, error) {
    ok, err := sm.engine.Delete(key)
    if ok {
        sm.metrics.incDelete()
    }
    sm.observeEngineCounters()
    return ok, wrapEngineErr(err)
}

// Clear empties the map, releasing every entry at once under the map-wide
// exclusive lock.
func (sm *SharedMap) Clear() error {
    err := sm.engine.Clear()
    sm.metrics.setLength(0)
    return err
}

// Keys returns a lazy, best-effort snapshot-per-slot sequence of the keys
// present at the moment each slot is visited (§1 Non-goals: no stronger
// iteration consistency is promised).
func (sm *SharedMap) Keys() iter.Seq[string] {
    return sm.engine.Keys()
}

// Length returns the current entry count.
func (sm *SharedMap) Length() uint32 { return sm.engine.Length() }

// Capacity returns the configured, fixed slot count.
func (sm *SharedMap) Capacity() uint32 { return sm.engine.Capacity() }

// Close unmaps the underlying shared region. Other processes or goroutines
// still holding a *SharedMap over the same file-backed path are unaffected;
// the mapping persists until every holder has closed it.
func (sm *SharedMap) Close() error {
    sm.logger.Info("sharedmap closing", zap.String("path", sm.path))
    return sm.region.Close()
}
