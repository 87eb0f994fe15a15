package sharedmap

// hasher.go supplies the default key hasher. The spec only requires "any
// stable, well-mixing 32-bit hash"; xxhash is already part of the teacher's
// dependency closure (pulled in transitively through Badger) and is promoted
// here to a direct dependency, same algorithm the retrieval pack's other
// hash-table implementation (schraf/collections' FixedBlockMap) also reaches
// for.
//
// © 2025 sharedmap authors. MIT License.

import "github.com/cespare/xxhash/v2"

// Hasher maps a key to a 32-bit hash. Callers may supply their own via
// WithHasher; defaultConfig uses defaultHasher otherwise.
type Hasher func(key string) uint32

// defaultHasher reduces xxhash's 64-bit digest to 32 bits by XOR-folding the
// halves together, which keeps the mixing quality of the upper bits instead
// of simply truncating.
func defaultHasher(key string) uint32 {
    h := xxhash.Sum64String(key)
    return uint32(h>>32) ^ uint32(h)
}
