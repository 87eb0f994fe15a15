package sharedmap

// debug.go gives the "debug formatters" the spec keeps at the boundary
// (§1) a concrete home: an in-process Snapshot and an http.Handler exposing
// it as JSON, which cmd/sharedmap-inspect polls. Adapted from the shape of
// the teacher's own debug/snapshot endpoint in examples/basic.
//
// © 2025 sharedmap authors. MIT License.

import (
    "encoding/json"
    "net/http"
)

// Snapshot is a point-in-time diagnostic view of a SharedMap, safe to
// marshal to JSON for an external inspector.
type Snapshot struct {
    Length          uint32  `json:"length"`
    Capacity        uint32  `json:"capacity"`
    LoadFactor      float64 `json:"load_factor"`
    DeadlockSignals uint64  `json:"deadlock_signals"`
    Rechains        uint64  `json:"rechains"`
}

// Snapshot captures the current length, capacity, load factor, and
// escalation/rechain counters.
func (sm *SharedMap) Snapshot() Snapshot {
    length := sm.engine.Length()
    capacity := sm.engine.Capacity()
    var load float64
    if capacity > 0 {
        load = float64(length) / float64(capacity)
    }
    return Snapshot{
        Length:          length,
        Capacity:        capacity,
        LoadFactor:      load,
        DeadlockSignals: sm.engine.DeadlockSignals(),
        Rechains:        sm.engine.Rechains(),
    }
}

// DebugHandler serves sm.Snapshot() as JSON. Intended for mounting under a
// diagnostics-only route (e.g. /debug/sharedmap/snapshot), never on a
// public-facing mux.
func (sm *SharedMap) DebugHandler() http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(sm.Snapshot())
    })
}
