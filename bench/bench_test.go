// Package bench provides reproducible micro-benchmarks for SharedMap.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//   1. Set          – write-only workload
//   2. Get          – read-only workload (after warm-up)
//   3. GetParallel  – highly concurrent reads (b.RunParallel)
//   4. GetOrLoad    – 90% hits, 10% misses with loader cost
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: correctness tests live alongside their packages; this file is
// *only* for performance.
//
// © 2025 sharedmap authors. MIT License.

package bench

import (
    "context"
    "fmt"
    "math/rand"
    "runtime"
    "sync/atomic"
    "testing"

    sharedmap "github.com/kvarena/sharedmap/pkg"
)

const (
    capacity   = 1 << 20 // 1M slots
    keyUnits   = 24
    valueUnits = 64
    datasetLen = 1 << 16 // 64K distinct keys
)

func newTestMap() *sharedmap.SharedMap {
    sm, err := sharedmap.New(capacity, keyUnits, valueUnits)
    if err != nil {
        panic(err)
    }
    return sm
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []string {
    arr := make([]string, datasetLen)
    for i := range arr {
        arr[i] = fmt.Sprintf("key-%08x", rand.Uint32())
    }
    return arr
}()

const val = "benchmark-value-0123456789"

func BenchmarkSet(b *testing.B) {
    sm := newTestMap()
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        key := ds[i&(datasetLen-1)]
        _ = sm.Set(key, val)
    }
    sm.Close()
}

func BenchmarkGet(b *testing.B) {
    sm := newTestMap()
    for _, k := range ds {
        _ = sm.Set(k, val)
    }
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        k := ds[i&(datasetLen-1)]
        _, _, _ = sm.Get(k)
    }
    sm.Close()
}

func BenchmarkGetParallel(b *testing.B) {
    sm := newTestMap()
    for _, k := range ds {
        _ = sm.Set(k, val)
    }
    b.ReportAllocs()
    b.ResetTimer()
    b.RunParallel(func(pb *testing.PB) {
        idx := rand.Intn(datasetLen)
        for pb.Next() {
            idx = (idx + 1) & (datasetLen - 1)
            _, _, _ = sm.Get(ds[idx])
        }
    })
    sm.Close()
}

func BenchmarkGetOrLoad(b *testing.B) {
    sm := newTestMap()
    for i, k := range ds {
        if i%10 != 0 { // 90% pre-filled
            _ = sm.Set(k, val)
        }
    }
    var loaderCnt atomic.Uint64
    loader := func(ctx context.Context, key string) (string, error) {
        loaderCnt.Add(1)
        return val, nil
    }
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        k := ds[i&(datasetLen-1)]
        _, _ = sm.GetOrLoad(context.Background(), k, loader)
    }
    sm.Close()
    b.ReportMetric(float64(loaderCnt.Load())/float64(b.N)*100, "miss-%")
}

func init() {
    runtime.GOMAXPROCS(runtime.NumCPU())
}
