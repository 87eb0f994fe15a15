//go:build !windows

// Package region carves a single contiguous shared-memory buffer into the
// fixed subregions SharedMap needs: a metadata header, key storage, value
// storage, the coalesced-chaining link array, the per-slot lock bitmap, and
// the map-wide lock triple. Layout is fully determined by three construction
// parameters (capacity, keyUnits, valueUnits) and never changes afterwards —
// no subregion is resized, and no allocation happens once NewAnonymous/Open
// returns.
//
// The buffer itself comes from golang.org/x/sys/unix.Mmap with MAP_SHARED:
// anonymously, for goroutines (or forked children) of one process, or
// file-backed, so independent OS processes can attach to the same region by
// path the way the spec's §6 layout describes. This is the one place in the
// repository that talks to the kernel directly; everything above this
// package only ever sees typed slice views over the mapping.
//
// © 2025 sharedmap authors. MIT License.
package region

import (
    "encoding/binary"
    "errors"
    "fmt"
    "os"
    "sync/atomic"
    "unicode/utf16"
    "unsafe"

    "golang.org/x/sys/unix"

    "github.com/kvarena/sharedmap/internal/unsafehelpers"
)

// Undefined is the chain-array sentinel meaning "no next slot" (§3).
const Undefined uint32 = 0xFFFFFFFF

const (
    headerWords  = 4 // capacity, keyUnits, valueUnits, length
    mapLockWords = 3 // SHARED, EXCLUSIVE, READERS
    headerBytes  = headerWords * 4
    mapLockBytes = mapLockWords * 4
)

var (
    // ErrSizeMismatch is returned by Open when an existing file's size does
    // not match the size implied by the requested construction parameters.
    ErrSizeMismatch = errors.New("region: existing file size does not match requested layout")
    // ErrHeaderMismatch is returned by Open when an existing region's stored
    // header disagrees with the construction parameters the caller passed.
    ErrHeaderMismatch = errors.New("region: existing header does not match requested layout")
)

// layout records the byte offset of every subregion, computed once from the
// three construction parameters (§6).
type layout struct {
    headerOff, keysOff, valuesOff, chainOff, bitmapOff, mapLockOff, total uint32
}

// roundUp4 rounds x up to the nearest multiple of 4 code units/slots, per
// the configuration contract in §3: capacity, keyUnits and valueUnits are
// each rounded up to a multiple of 4 before the layout is computed, so every
// process attaching to the same path from the same nominal parameters
// agrees on the same actual layout.
func roundUp4(x uint32) uint32 {
    return uint32(unsafehelpers.AlignUp(uintptr(x), 4))
}

func computeLayout(capacity, keyUnits, valueUnits uint32) layout {
    var l layout
    l.headerOff = 0
    l.keysOff = l.headerOff + headerBytes
    l.valuesOff = l.keysOff + 2*keyUnits*capacity
    l.chainOff = l.valuesOff + 2*valueUnits*capacity
    l.bitmapOff = l.chainOff + 4*capacity
    bitmapWords := uint32(unsafehelpers.AlignUp(uintptr(capacity), 32) / 32)
    l.mapLockOff = l.bitmapOff + 4*bitmapWords
    l.total = l.mapLockOff + mapLockBytes
    return l
}

// Region is a typed view over one shared-memory mapping.
type Region struct {
    buf  []byte
    fd   int
    path string

    capacity   uint32
    keyUnits   uint32
    valueUnits uint32
    capPow2    bool

    header     []uint32 // len 4
    keys       []uint16 // len capacity*keyUnits
    values     []uint16 // len capacity*valueUnits
    chain      []uint32 // len capacity
    bitmap     []uint32 // len ceil(capacity/32)
    mapLockArr []uint32 // len 3
}

func bytesAsUint32(b []byte) []uint32 {
    if len(b) == 0 {
        return nil
    }
    return unsafehelpers.PtrSlice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func bytesAsUint16(b []byte) []uint16 {
    if len(b) == 0 {
        return nil
    }
    return unsafehelpers.PtrSlice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}

func newFromBuf(buf []byte, l layout, capacity, keyUnits, valueUnits uint32) *Region {
    r := &Region{
        buf:        buf,
        fd:         -1,
        capacity:   capacity,
        keyUnits:   keyUnits,
        valueUnits: valueUnits,
        capPow2:    unsafehelpers.IsPowerOfTwo(uintptr(capacity)),
        header:     bytesAsUint32(buf[l.headerOff:l.keysOff]),
        keys:       bytesAsUint16(buf[l.keysOff:l.valuesOff]),
        values:     bytesAsUint16(buf[l.valuesOff:l.chainOff]),
        chain:      bytesAsUint32(buf[l.chainOff:l.bitmapOff]),
        bitmap:     bytesAsUint32(buf[l.bitmapOff:l.mapLockOff]),
        mapLockArr: bytesAsUint32(buf[l.mapLockOff:l.total]),
    }
    return r
}

// NewAnonymous creates a fresh, process-private-but-MAP_SHARED region sized
// for the given parameters. Suitable for goroutines within one process, or
// for a process that will fork after construction. capacity, keyUnits and
// valueUnits are each rounded up to a multiple of 4 (§3) before the layout
// is computed; callers should read back Capacity/KeyUnits/ValueUnits rather
// than assume the values passed in are the ones actually stored.
func NewAnonymous(capacity, keyUnits, valueUnits uint32) (*Region, error) {
    capacity, keyUnits, valueUnits = roundUp4(capacity), roundUp4(keyUnits), roundUp4(valueUnits)
    l := computeLayout(capacity, keyUnits, valueUnits)
    buf, err := unix.Mmap(-1, 0, int(l.total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
    if err != nil {
        return nil, fmt.Errorf("region: mmap anonymous: %w", err)
    }
    r := newFromBuf(buf, l, capacity, keyUnits, valueUnits)
    r.header[0], r.header[1], r.header[2] = capacity, keyUnits, valueUnits
    for i := range r.chain {
        r.chain[i] = Undefined
    }
    return r, nil
}

// Open creates (if `path` does not exist or is empty) or attaches to (if it
// does) a file-backed shared region at `path`. Independent OS processes
// calling Open on the same path attach to the same underlying memory via
// MAP_SHARED. capacity, keyUnits and valueUnits are each rounded up to a
// multiple of 4 (§3) before comparison, so peers that pass the same nominal
// parameters always agree; when attaching to an existing region, the
// caller's rounded capacity/keyUnits/valueUnits must match the stored
// header exactly.
func Open(path string, capacity, keyUnits, valueUnits uint32) (*Region, error) {
    capacity, keyUnits, valueUnits = roundUp4(capacity), roundUp4(keyUnits), roundUp4(valueUnits)
    l := computeLayout(capacity, keyUnits, valueUnits)

    fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
    if err != nil {
        return nil, fmt.Errorf("region: open %s: %w", path, err)
    }

    st, err := os.Stat(path)
    if err != nil {
        _ = unix.Close(fd)
        return nil, fmt.Errorf("region: stat %s: %w", path, err)
    }

    fresh := st.Size() == 0
    switch {
    case fresh:
        if err := unix.Ftruncate(fd, int64(l.total)); err != nil {
            _ = unix.Close(fd)
            return nil, fmt.Errorf("region: truncate %s: %w", path, err)
        }
    case st.Size() != int64(l.total):
        _ = unix.Close(fd)
        return nil, fmt.Errorf("%s: %w", path, ErrSizeMismatch)
    }

    buf, err := unix.Mmap(fd, 0, int(l.total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
    if err != nil {
        _ = unix.Close(fd)
        return nil, fmt.Errorf("region: mmap %s: %w", path, err)
    }

    r := newFromBuf(buf, l, capacity, keyUnits, valueUnits)
    r.fd = fd
    r.path = path

    if fresh {
        r.header[0], r.header[1], r.header[2] = capacity, keyUnits, valueUnits
        for i := range r.chain {
            r.chain[i] = Undefined
        }
    } else if r.header[0] != capacity || r.header[1] != keyUnits || r.header[2] != valueUnits {
        _ = r.Close()
        return nil, fmt.Errorf("%s: %w", path, ErrHeaderMismatch)
    }
    return r, nil
}

// Close unmaps the region and, for file-backed regions, closes the
// descriptor. It does not remove the backing file — other attached workers
// may still be using it.
func (r *Region) Close() error {
    if r.buf == nil {
        return nil
    }
    err := unix.Munmap(r.buf)
    r.buf = nil
    if r.fd >= 0 {
        if cerr := unix.Close(r.fd); cerr != nil && err == nil {
            err = cerr
        }
        r.fd = -1
    }
    return err
}

// Capacity returns the configured slot count (immutable after construction).
func (r *Region) Capacity() uint32 { return r.capacity }

// KeyUnits returns the per-slot key capacity in 16-bit code units.
func (r *Region) KeyUnits() uint32 { return r.keyUnits }

// ValueUnits returns the per-slot value capacity in 16-bit code units.
func (r *Region) ValueUnits() uint32 { return r.valueUnits }

// NextSlot advances a slot index by one probe step, wrapping at capacity.
func (r *Region) NextSlot(p uint32) uint32 {
    if r.capPow2 {
        return (p + 1) & (r.capacity - 1)
    }
    return (p + 1) % r.capacity
}

// MapLockWords exposes the three-word map-lock triple for internal/lockmanager.
func (r *Region) MapLockWords() []uint32 { return r.mapLockArr }

// LockBitmapWords exposes the per-slot lock bitmap for internal/lockmanager.
func (r *Region) LockBitmapWords() []uint32 { return r.bitmap }

func keySlot(r *Region, slot uint32) []uint16 {
    base := slot * r.keyUnits
    return r.keys[base : base+r.keyUnits]
}

func valueSlot(r *Region, slot uint32) []uint16 {
    base := slot * r.valueUnits
    return r.values[base : base+r.valueUnits]
}

// Occupied reports whether slot's first key code unit is non-zero (§3).
func (r *Region) Occupied(slot uint32) bool {
    return r.keys[slot*r.keyUnits] != 0
}

// KeyAt decodes the string stored in slot's key cells (§9, code-unit
// encoding): it runs to the first zero unit or to the end of the slot,
// whichever comes first.
func (r *Region) KeyAt(slot uint32) string {
    units := keySlot(r, slot)
    return decodeUnits(units)
}

// ValueAt decodes the string stored in slot's value cells.
func (r *Region) ValueAt(slot uint32) string {
    units := valueSlot(r, slot)
    return decodeUnits(units)
}

// SetKeyAt writes key's UTF-16 units into slot, zero-terminating if the
// encoding is shorter than the slot; callers must have already validated
// that the encoded length fits (§6 size limits).
func (r *Region) SetKeyAt(slot uint32, key string) {
    encodeUnits(keySlot(r, slot), key)
}

// SetValueAt writes value's UTF-16 units into slot, same convention as
// SetKeyAt.
func (r *Region) SetValueAt(slot uint32, value string) {
    encodeUnits(valueSlot(r, slot), value)
}

// ClearKeyAt marks slot free by zeroing only its first key unit (§4.2.3 step
// 3) — the cheapest operation that satisfies the occupancy test in §3.
func (r *Region) ClearKeyAt(slot uint32) {
    r.keys[slot*r.keyUnits] = 0
}

// ChainAt returns slot's successor in its coalesced-chaining chain, or
// Undefined.
func (r *Region) ChainAt(slot uint32) uint32 { return r.chain[slot] }

// SetChainAt sets slot's chain successor.
func (r *Region) SetChainAt(slot, next uint32) { r.chain[slot] = next }

// Length returns the current entry count. Safe to call without any lock
// (§3 header note); callers elsewhere in the map take the map-exclusive or
// map-shared-plus-slot locks before mutating it.
func (r *Region) Length() uint32 {
    return loadUint32(&r.header[3])
}

// IncLength atomically increments the entry count.
func (r *Region) IncLength() { addUint32(&r.header[3], 1) }

// DecLength atomically decrements the entry count.
func (r *Region) DecLength() { addUint32(&r.header[3], ^uint32(0)) }

// WipeAll zeroes every key and value cell and resets length to zero (§4.2.5
// Clear). The chain array is left untouched: its entries are only
// meaningful for occupied slots (I3), and there are none left, but Clear
// need not pay to rewrite an already-irrelevant array.
func (r *Region) WipeAll() {
    for i := range r.keys {
        r.keys[i] = 0
    }
    for i := range r.values {
        r.values[i] = 0
    }
    storeUint32(&r.header[3], 0)
}

func decodeUnits(units []uint16) string {
    n := 0
    for n < len(units) && units[n] != 0 {
        n++
    }
    return string(utf16.Decode(units[:n]))
}

func encodeUnits(dst []uint16, s string) {
    enc := utf16.Encode([]rune(s))
    copy(dst, enc)
    if len(enc) < len(dst) {
        dst[len(enc)] = 0
    }
}

// EncodedLen returns the number of 16-bit code units s would occupy — used
// by internal/chainengine to validate against keyUnits/valueUnits (§6).
func EncodedLen(s string) uint32 {
    return uint32(len(utf16.Encode([]rune(s))))
}

func loadUint32(p *uint32) uint32     { return atomic.LoadUint32(p) }
func storeUint32(p *uint32, v uint32) { atomic.StoreUint32(p, v) }
func addUint32(p *uint32, delta uint32) uint32 {
    return atomic.AddUint32(p, delta)
}

// headerRaw exposes the raw header bytes for diagnostics.
func (r *Region) headerRaw() []byte {
    b := make([]byte, headerBytes)
    for i := 0; i < headerWords; i++ {
        binary.LittleEndian.PutUint32(b[i*4:], r.header[i])
    }
    return b
}

// HeaderBytes returns a copy of the 16-byte metadata header.
func (r *Region) HeaderBytes() []byte { return r.headerRaw() }
