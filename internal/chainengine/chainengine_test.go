package chainengine

import (
    "fmt"
    "testing"

    "golang.org/x/sync/errgroup"

    "github.com/kvarena/sharedmap/internal/lockmanager"
    "github.com/kvarena/sharedmap/internal/region"
)

// identityHash lets tests force specific keys into the same home slot to
// exercise chaining deterministically.
func identityHash(key string) uint32 {
    var h uint32
    for i := 0; i < len(key); i++ {
        h = h*131 + uint32(key[i])
    }
    return h
}

func newTestEngine(t *testing.T, capacity, keyUnits, valueUnits uint32) *Engine {
    t.Helper()
    r, err := region.NewAnonymous(capacity, keyUnits, valueUnits)
    if err != nil {
        t.Fatalf("NewAnonymous: %v", err)
    }
    t.Cleanup(func() { r.Close() })
    lm := lockmanager.New(r.MapLockWords(), r.LockBitmapWords())
    return New(r, lm, identityHash)
}

func TestSetGetRoundTrip(t *testing.T) {
    e := newTestEngine(t, 16, 16, 32)
    if err := e.Set("alpha", "1"); err != nil {
        t.Fatalf("Set: %v", err)
    }
    v, found, err := e.Get("alpha")
    if err != nil || !found {
        t.Fatalf("Get(alpha) = %q, %v, %v", v, found, err)
    }
    if v != "1" {
        t.Fatalf("Get(alpha) = %q, want %q", v, "1")
    }
}

func TestSetReplacesExistingValue(t *testing.T) {
    e := newTestEngine(t, 16, 16, 32)
    if err := e.Set("k", "first"); err != nil {
        t.Fatalf("Set: %v", err)
    }
    if err := e.Set("k", "second"); err != nil {
        t.Fatalf("Set (replace): %v", err)
    }
    v, found, _ := e.Get("k")
    if !found || v != "second" {
        t.Fatalf("Get(k) = %q, %v, want second, true", v, found)
    }
    if e.Length() != 1 {
        t.Fatalf("Length() = %d, want 1 after replace", e.Length())
    }
}

func TestGetMissingKey(t *testing.T) {
    e := newTestEngine(t, 16, 16, 32)
    _, found, err := e.Get("missing")
    if err != nil {
        t.Fatalf("Get(missing) error = %v", err)
    }
    if found {
        t.Fatalf("Get(missing) found = true, want false")
    }
}

func TestHasDoesNotDecodeValue(t *testing.T) {
    e := newTestEngine(t, 16, 16, 32)
    if err := e.Set("k", "v"); err != nil {
        t.Fatalf("Set: %v", err)
    }
    found, err := e.Has("k")
    if err != nil || !found {
        t.Fatalf("Has(k) = %v, %v, want true, nil", found, err)
    }
    found, err = e.Has("nope")
    if err != nil || found {
        t.Fatalf("Has(nope) = %v, %v, want false, nil", found, err)
    }
}

// collidingKeys returns n keys that identityHash maps to the same home slot
// modulo capacity, forcing them into one coalesced chain.
func collidingKeys(capacity uint32, n int) []string {
    target := identityHash("k0") % capacity
    keys := []string{"k0"}
    for i := 1; len(keys) < n; i++ {
        k := fmt.Sprintf("k%d", i)
        if identityHash(k)%capacity == target {
            keys = append(keys, k)
        }
    }
    return keys
}

func TestChainedInsertAndLookup(t *testing.T) {
    const capacity = 32
    e := newTestEngine(t, capacity, 16, 16)
    ks := collidingKeys(capacity, 5)
    for i, k := range ks {
        if err := e.Set(k, fmt.Sprintf("v%d", i)); err != nil {
            t.Fatalf("Set(%s): %v", k, err)
        }
    }
    for i, k := range ks {
        v, found, err := e.Get(k)
        if err != nil || !found {
            t.Fatalf("Get(%s) = %q, %v, %v", k, v, found, err)
        }
        if want := fmt.Sprintf("v%d", i); v != want {
            t.Fatalf("Get(%s) = %q, want %q", k, v, want)
        }
    }
    if e.Length() != uint32(len(ks)) {
        t.Fatalf("Length() = %d, want %d", e.Length(), len(ks))
    }
}

func TestDeleteRechainsDisplacedEntries(t *testing.T) {
    const capacity = 32
    e := newTestEngine(t, capacity, 16, 16)
    ks := collidingKeys(capacity, 5)
    for i, k := range ks {
        if err := e.Set(k, fmt.Sprintf("v%d", i)); err != nil {
            t.Fatalf("Set(%s): %v", k, err)
        }
    }

    // Delete the home-slot entry; everything chained after it must survive,
    // possibly relocated.
    ok, err := e.Delete(ks[0])
    if err != nil || !ok {
        t.Fatalf("Delete(%s) = %v, %v, want true, nil", ks[0], ok, err)
    }
    if e.Length() != uint32(len(ks)-1) {
        t.Fatalf("Length() = %d, want %d after delete", e.Length(), len(ks)-1)
    }
    for i := 1; i < len(ks); i++ {
        v, found, err := e.Get(ks[i])
        if err != nil || !found {
            t.Fatalf("Get(%s) after delete = %q, %v, %v", ks[i], v, found, err)
        }
        if want := fmt.Sprintf("v%d", i); v != want {
            t.Fatalf("Get(%s) after delete = %q, want %q", ks[i], v, want)
        }
    }
    found, _ := e.Has(ks[0])
    if found {
        t.Fatalf("Has(%s) after delete = true, want false", ks[0])
    }
}

func TestDeleteMissingKeyReturnsKeyNotFound(t *testing.T) {
    e := newTestEngine(t, 16, 16, 16)
    ok, err := e.Delete("nope")
    if err != ErrKeyNotFound || ok {
        t.Fatalf("Delete(nope) = %v, %v, want false, ErrKeyNotFound", ok, err)
    }
}

func TestSetCapacityExceeded(t *testing.T) {
    const capacity = 4
    e := newTestEngine(t, capacity, 16, 16)
    for i := 0; i < capacity; i++ {
        if err := e.Set(fmt.Sprintf("k%d", i), "v"); err != nil {
            t.Fatalf("Set(k%d): %v", i, err)
        }
    }
    if err := e.Set("one-too-many", "v"); err != ErrCapacityExceeded {
        t.Fatalf("Set beyond capacity = %v, want ErrCapacityExceeded", err)
    }
}

func TestValidation(t *testing.T) {
    e := newTestEngine(t, 16, 4, 4)
    if err := e.Set("", "v"); err != ErrEmptyKey {
        t.Fatalf("Set(\"\") = %v, want ErrEmptyKey", err)
    }
    if err := e.Set("toolongkey", "v"); err != ErrKeyTooLong {
        t.Fatalf("Set(toolongkey) = %v, want ErrKeyTooLong", err)
    }
    if err := e.Set("k", "toolongvalue"); err != ErrValueTooLong {
        t.Fatalf("Set with long value = %v, want ErrValueTooLong", err)
    }
}

func TestClearEmptiesMap(t *testing.T) {
    e := newTestEngine(t, 16, 16, 16)
    for i := 0; i < 5; i++ {
        _ = e.Set(fmt.Sprintf("k%d", i), "v")
    }
    if err := e.Clear(); err != nil {
        t.Fatalf("Clear: %v", err)
    }
    if e.Length() != 0 {
        t.Fatalf("Length() = %d after Clear, want 0", e.Length())
    }
    found, _ := e.Has("k0")
    if found {
        t.Fatalf("Has(k0) after Clear = true, want false")
    }
}

func TestKeysIteratesAllOccupiedSlots(t *testing.T) {
    e := newTestEngine(t, 16, 16, 16)
    want := map[string]bool{"a": true, "b": true, "c": true}
    for k := range want {
        _ = e.Set(k, "v")
    }
    got := map[string]bool{}
    for k := range e.Keys() {
        got[k] = true
    }
    if len(got) != len(want) {
        t.Fatalf("Keys() returned %d keys, want %d", len(got), len(want))
    }
    for k := range want {
        if !got[k] {
            t.Fatalf("Keys() missing %q", k)
        }
    }
}

func TestKeysStopsEarlyOnFalseYield(t *testing.T) {
    e := newTestEngine(t, 16, 16, 16)
    for i := 0; i < 5; i++ {
        _ = e.Set(fmt.Sprintf("k%d", i), "v")
    }
    count := 0
    for range e.Keys() {
        count++
        if count == 2 {
            break
        }
    }
    if count != 2 {
        t.Fatalf("count = %d, want 2", count)
    }
}

func TestConcurrentSetGetDelete(t *testing.T) {
    const capacity = 256
    e := newTestEngine(t, capacity, 16, 16)

    var g errgroup.Group
    for w := 0; w < 8; w++ {
        w := w
        g.Go(func() error {
            for i := 0; i < 200; i++ {
                k := fmt.Sprintf("w%d-k%d", w, i%20)
                if err := e.Set(k, fmt.Sprintf("%d", i)); err != nil {
                    return fmt.Errorf("Set(%s): %w", k, err)
                }
                if _, _, err := e.Get(k); err != nil {
                    return fmt.Errorf("Get(%s): %w", k, err)
                }
                if i%7 == 0 {
                    if _, err := e.Delete(k); err != nil {
                        return fmt.Errorf("Delete(%s): %w", k, err)
                    }
                }
            }
            return nil
        })
    }
    if err := g.Wait(); err != nil {
        t.Fatalf("concurrent workload failed: %v", err)
    }
    if e.Length() > capacity {
        t.Fatalf("Length() = %d exceeds capacity %d", e.Length(), capacity)
    }
}
