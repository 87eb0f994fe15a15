package sharedmap

// errors.go collects the sentinel errors SharedMap returns at its public
// boundary. Internal packages (chainengine, lockmanager) define their own
// narrower sentinels; this file wraps them into the flat, `errors.Is`-able
// family §7 of the specification calls for, following the same style as the
// teacher's own config.go (errInvalidCap / errInvalidTTL / errInvalidShards).
//
// © 2025 sharedmap authors. MIT License.

import (
    "errors"
    "fmt"

    "github.com/kvarena/sharedmap/internal/chainengine"
)

var (
    // ErrBadArgument is returned for any malformed call: empty key, a key or
    // value containing an embedded NUL code unit, a key/value that does not
    // fit the configured slot width, or invalid construction parameters.
    ErrBadArgument = errors.New("sharedmap: bad argument")
    // ErrCapacityExceeded is returned by Set when the map is full and no
    // slot could be found to hold a new key.
    ErrCapacityExceeded = errors.New("sharedmap: capacity exceeded")
    // ErrKeyNotFound is returned by Delete when the key is absent. Get and
    // Has report absence through their found result with a nil error.
    ErrKeyNotFound = errors.New("sharedmap: key not found")

    // ErrInvalidCapacity, ErrInvalidKeyUnits and ErrInvalidValueUnits are
    // construction-time validation errors, in the same sentinel family the
    // teacher used for its own config validation. Each wraps ErrBadArgument.
    ErrInvalidCapacity  = fmt.Errorf("%w: capacity must be > 0", ErrBadArgument)
    ErrInvalidKeyUnits  = fmt.Errorf("%w: key width (in UTF-16 units) must be > 0", ErrBadArgument)
    ErrInvalidValueUnits = fmt.Errorf("%w: value width (in UTF-16 units) must be > 0", ErrBadArgument)
)

// wrapEngineErr maps a chainengine-level error onto the public sentinel
// family, preserving enough detail via %w for errors.Is to still match the
// underlying cause if a caller cares to dig that deep.
func wrapEngineErr(err error) error {
    switch {
    case err == nil:
        return nil
    case errors.Is(err, chainengine.ErrKeyNotFound):
        return fmt.Errorf("%w: %v", ErrKeyNotFound, err)
    case errors.Is(err, chainengine.ErrCapacityExceeded):
        return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
    case errors.Is(err, chainengine.ErrEmptyKey),
        errors.Is(err, chainengine.ErrInvalidString),
        errors.Is(err, chainengine.ErrKeyTooLong),
        errors.Is(err, chainengine.ErrValueTooLong):
        return fmt.Errorf("%w: %v", ErrBadArgument, err)
    default:
        return err
    }
}
