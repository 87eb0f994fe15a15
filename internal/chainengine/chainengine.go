// Package chainengine implements the coalesced-chaining open-addressing
// algorithm over a shared region.Region, synchronized through a
// lockmanager.Manager: insert/replace, lookup, delete-with-rechain, key
// iteration, and clear. This is the one package that knows how the sliding-
// lock traversal discipline and the deadlock-signal escalation interact
// with the chain-follow and linear-probe steps of the algorithm itself;
// region and lockmanager each know only their own narrower concern.
//
// © 2025 sharedmap authors. MIT License.
package chainengine

import (
    "errors"
    "iter"
    "strings"
    "sync/atomic"

    "github.com/kvarena/sharedmap/internal/lockmanager"
    "github.com/kvarena/sharedmap/internal/region"
)

var (
    // ErrKeyNotFound is returned by Delete when no entry exists for the
    // requested key. Get/Has report absence via their found bool instead —
    // the spec's external-interface table reserves key-not-found for
    // delete alone (§6, §7).
    ErrKeyNotFound = errors.New("chainengine: key not found")
    // ErrCapacityExceeded is returned by Set when every slot reachable by
    // probing from a key's home slot is occupied — the map is full.
    ErrCapacityExceeded = errors.New("chainengine: capacity exceeded")
    // ErrEmptyKey is returned by any operation given an empty key.
    ErrEmptyKey = errors.New("chainengine: key must be non-empty")
    // ErrInvalidString is returned when a key or value contains an embedded
    // NUL code unit, which would be indistinguishable from the slot
    // zero-terminator on decode.
    ErrInvalidString = errors.New("chainengine: key/value must not contain a NUL code unit")
    // ErrKeyTooLong is returned when a key's UTF-16 encoding does not fit
    // the region's configured key slot width.
    ErrKeyTooLong = errors.New("chainengine: key exceeds configured key width")
    // ErrValueTooLong is returned when a value's UTF-16 encoding does not
    // fit the region's configured value slot width.
    ErrValueTooLong = errors.New("chainengine: value exceeds configured value width")

    // errEscalate is an internal-only signal: the sliding-lock discipline
    // would be violated by the next lock acquisition. It never escapes this
    // package; callers retry the whole operation under the map-wide
    // exclusive lock instead.
    errEscalate = errors.New("chainengine: sliding-lock order violated, escalate")
)

// Hasher maps a key to a 32-bit bucket hash. The engine reduces it modulo
// capacity to obtain a home slot.
type Hasher func(string) uint32

// Engine ties one region to one lock manager and one hasher.
type Engine struct {
    region *region.Region
    lm     *lockmanager.Manager
    hash   Hasher

    deadlockSignals atomic.Uint64
    rechains        atomic.Uint64
}

// New builds a chain engine over an already-constructed region and lock
// manager.
func New(r *region.Region, lm *lockmanager.Manager, hash Hasher) *Engine {
    return &Engine{region: r, lm: lm, hash: hash}
}

// DeadlockSignals returns the number of times the sliding-lock discipline
// has detected a would-be violation and escalated to the exclusive map
// lock, since construction.
func (e *Engine) DeadlockSignals() uint64 { return e.deadlockSignals.Load() }

// Rechains returns the total number of displaced chain entries that Delete
// has had to reinsert, since construction.
func (e *Engine) Rechains() uint64 { return e.rechains.Load() }

func (e *Engine) homeSlot(key string) uint32 {
    return e.hash(key) % e.region.Capacity()
}

func (e *Engine) validateKey(key string) error {
    if key == "" {
        return ErrEmptyKey
    }
    if strings.IndexByte(key, 0) >= 0 {
        return ErrInvalidString
    }
    if region.EncodedLen(key) > e.region.KeyUnits() {
        return ErrKeyTooLong
    }
    return nil
}

func (e *Engine) validateValue(value string) error {
    if strings.IndexByte(value, 0) >= 0 {
        return ErrInvalidString
    }
    if region.EncodedLen(value) > e.region.ValueUnits() {
        return ErrValueTooLong
    }
    return nil
}

/* -------------------------------------------------------------------------
   Sliding-lock traversal helper
   ------------------------------------------------------------------------- */

// slider enforces the sliding-lock rule: each acquired slot index must be
// strictly greater than the previously held one. In exclusive mode (the map
// is already held exclusively) it is a no-op, since no other holder can be
// contending for a slot lock anyway.
type slider struct {
    mgr       *lockmanager.Manager
    exclusive bool
    held      []uint32
    max       uint32
    any       bool
}

func (s *slider) advance(next uint32) error {
    if s.exclusive {
        return nil
    }
    if s.any && next <= s.max {
        return errEscalate
    }
    s.mgr.LockSlot(next)
    s.held = append(s.held, next)
    s.max = next
    s.any = true
    return nil
}

func (s *slider) release() {
    if s.exclusive {
        return
    }
    for _, slot := range s.held {
        s.mgr.UnlockSlot(slot)
    }
    s.held = s.held[:0]
    s.any = false
}

/* -------------------------------------------------------------------------
   Lookup (Get / Has)
   ------------------------------------------------------------------------- */

func (e *Engine) find(key string, excl, needValue bool) (value string, found bool, err error) {
    sl := &slider{mgr: e.lm, exclusive: excl}
    cur := e.homeSlot(key)
    if err := sl.advance(cur); err != nil {
        return "", false, err
    }
    steps := uint32(0)
    capacity := e.region.Capacity()
    for {
        if !e.region.Occupied(cur) {
            sl.release()
            return "", false, nil
        }
        if e.region.KeyAt(cur) == key {
            if needValue {
                value = e.region.ValueAt(cur)
            }
            sl.release()
            return value, true, nil
        }
        next := e.region.ChainAt(cur)
        if next == region.Undefined {
            sl.release()
            return "", false, nil
        }
        if err := sl.advance(next); err != nil {
            sl.release()
            return "", false, err
        }
        cur = next
        steps++
        if steps > capacity {
            sl.release()
            panic(lockmanager.ErrLockDesync)
        }
    }
}

// Get returns the value stored for key, or found=false if no entry exists.
func (e *Engine) Get(key string) (string, bool, error) {
    if err := e.validateKey(key); err != nil {
        return "", false, err
    }
    e.lm.RLock()
    value, found, err := e.find(key, false, true)
    if err == errEscalate {
        e.deadlockSignals.Add(1)
        e.lm.RUnlock()
        e.lm.Lock()
        value, found, err = e.find(key, true, true)
        e.lm.Unlock()
        return value, found, err
    }
    e.lm.RUnlock()
    return value, found, err
}

// Has reports whether key is present, without decoding its value.
func (e *Engine) Has(key string) (bool, error) {
    if err := e.validateKey(key); err != nil {
        return false, err
    }
    e.lm.RLock()
    _, found, err := e.find(key, false, false)
    if err == errEscalate {
        e.deadlockSignals.Add(1)
        e.lm.RUnlock()
        e.lm.Lock()
        _, found, err = e.find(key, true, false)
        e.lm.Unlock()
        return found, err
    }
    e.lm.RUnlock()
    return found, err
}

/* -------------------------------------------------------------------------
   Insert / replace (Set)
   ------------------------------------------------------------------------- */

// findFreeSlot linearly probes forward from `from` looking for an unoccupied
// slot to extend a chain into, locking each candidate before testing its
// occupancy (sliding discipline forbids reading a slot's content unlocked).
// The probe is bounded by one full pass over the table, which both finds a
// free slot when one exists and safely terminates when the map is full
// instead of looping forever.
func (e *Engine) findFreeSlot(from uint32, sl *slider) (uint32, error) {
    cur := from
    capacity := e.region.Capacity()
    for i := uint32(0); i < capacity; i++ {
        cur = e.region.NextSlot(cur)
        if err := sl.advance(cur); err != nil {
            return 0, err
        }
        if !e.region.Occupied(cur) {
            return cur, nil
        }
    }
    return 0, ErrCapacityExceeded
}

func (e *Engine) set(key, value string, excl bool) error {
    sl := &slider{mgr: e.lm, exclusive: excl}
    cur := e.homeSlot(key)
    if err := sl.advance(cur); err != nil {
        return err
    }
    steps := uint32(0)
    capacity := e.region.Capacity()
    for {
        if !e.region.Occupied(cur) {
            e.region.SetKeyAt(cur, key)
            e.region.SetValueAt(cur, value)
            e.region.SetChainAt(cur, region.Undefined)
            e.region.IncLength()
            sl.release()
            return nil
        }
        if e.region.KeyAt(cur) == key {
            e.region.SetValueAt(cur, value)
            sl.release()
            return nil
        }
        next := e.region.ChainAt(cur)
        if next != region.Undefined {
            if err := sl.advance(next); err != nil {
                sl.release()
                return err
            }
            cur = next
            steps++
            if steps > capacity {
                sl.release()
                panic(lockmanager.ErrLockDesync)
            }
            continue
        }
        newSlot, err := e.findFreeSlot(cur, sl)
        if err != nil {
            sl.release()
            return err
        }
        e.region.SetChainAt(cur, newSlot)
        e.region.SetKeyAt(newSlot, key)
        e.region.SetValueAt(newSlot, value)
        e.region.SetChainAt(newSlot, region.Undefined)
        e.region.IncLength()
        sl.release()
        return nil
    }
}

// Set inserts key/value, or replaces value if key is already present.
func (e *Engine) Set(key, value string) error {
    if err := e.validateKey(key); err != nil {
        return err
    }
    if err := e.validateValue(value); err != nil {
        return err
    }
    e.lm.RLock()
    err := e.set(key, value, false)
    if err == errEscalate {
        e.deadlockSignals.Add(1)
        e.lm.RUnlock()
        e.lm.Lock()
        err = e.set(key, value, true)
        e.lm.Unlock()
        return err
    }
    e.lm.RUnlock()
    return err
}

/* -------------------------------------------------------------------------
   Delete, with defragmenting rechain
   ------------------------------------------------------------------------- */

type displacedEntry struct{ key, value string }

// delete locates key, removes its slot, and rechains everything that was
// linked after it: those displaced entries are collected, their slots
// freed, and each is reinserted through the normal insert path, which may
// relocate it (for instance into the slot the deleted key just vacated, if
// that slot happens to be its own home). Called only under the map-wide
// exclusive lock (see Delete), so it takes no slot locks at all: nothing
// else can be observing the region while it runs.
func (e *Engine) delete(key string) (bool, error) {
    cur := e.homeSlot(key)
    var pred uint32
    hasPred := false
    steps := uint32(0)
    capacity := e.region.Capacity()

    for {
        if !e.region.Occupied(cur) {
            return false, ErrKeyNotFound
        }
        if e.region.KeyAt(cur) == key {
            break
        }
        next := e.region.ChainAt(cur)
        if next == region.Undefined {
            return false, ErrKeyNotFound
        }
        pred, hasPred = cur, true
        cur = next
        steps++
        if steps > capacity {
            panic(lockmanager.ErrLockDesync)
        }
    }

    s := cur
    var tail []displacedEntry
    walk := e.region.ChainAt(s)
    for walk != region.Undefined {
        tail = append(tail, displacedEntry{key: e.region.KeyAt(walk), value: e.region.ValueAt(walk)})
        next := e.region.ChainAt(walk)
        e.region.ClearKeyAt(walk)
        e.region.SetChainAt(walk, region.Undefined)
        e.region.DecLength()
        walk = next
    }

    if hasPred {
        e.region.SetChainAt(pred, region.Undefined)
    }
    e.region.ClearKeyAt(s)
    e.region.SetChainAt(s, region.Undefined)
    e.region.DecLength()

    if len(tail) > 0 {
        e.rechains.Add(uint64(len(tail)))
    }
    for _, d := range tail {
        if err := e.set(d.key, d.value, true); err != nil {
            return true, err
        }
    }
    return true, nil
}

// Delete removes key, reporting whether it was present, or ErrKeyNotFound if
// it was absent. Per spec §4.2.3/§4.4, delete (like Clear) skips the
// shared-lock/slot-lock/escalate envelope Get/Set/Has use and goes straight
// to the map-wide exclusive lock: delete's rechain clears and then
// reinserts an unbounded number of displaced entries, and doing that under
// a merely shared hold would let a concurrent Set for one of those same
// keys race the rechain and leave the map with two occupied slots for one
// key, or silently revive a value the other writer just overwrote.
func (e *Engine) Delete(key string) (bool, error) {
    if err := e.validateKey(key); err != nil {
        return false, err
    }
    e.lm.Lock()
    defer e.lm.Unlock()
    return e.delete(key)
}

/* -------------------------------------------------------------------------
   Iteration and clear
   ------------------------------------------------------------------------- */

// Keys returns a lazy, best-effort sequence of the keys present at the
// moment each slot is visited. It holds the map-wide shared lock for the
// duration of the scan and a single slot lock at a time — indices are
// visited strictly in increasing order, so no escalation is ever needed.
// Concurrent mutations may or may not be reflected in slots not yet
// visited (§1 Non-goals: no stronger iteration consistency is promised).
func (e *Engine) Keys() iter.Seq[string] {
    return func(yield func(string) bool) {
        e.lm.RLock()
        defer e.lm.RUnlock()
        capacity := e.region.Capacity()
        for s := uint32(0); s < capacity; s++ {
            e.lm.LockSlot(s)
            occupied := e.region.Occupied(s)
            var k string
            if occupied {
                k = e.region.KeyAt(s)
            }
            e.lm.UnlockSlot(s)
            if occupied && !yield(k) {
                return
            }
        }
    }
}

// Clear empties the map under the map-wide exclusive lock.
func (e *Engine) Clear() error {
    e.lm.Lock()
    defer e.lm.Unlock()
    e.region.WipeAll()
    return nil
}

// Length returns the current entry count.
func (e *Engine) Length() uint32 { return e.region.Length() }

// Capacity returns the configured slot count.
func (e *Engine) Capacity() uint32 { return e.region.Capacity() }
