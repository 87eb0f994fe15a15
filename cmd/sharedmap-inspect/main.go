package main

// main.go implements the sharedmap-inspect CLI: it fetches a diagnostic
// JSON snapshot from a target process exposing sharedmap.DebugHandler, and
// prints it either as a formatted summary or raw JSON. Supports periodic
// watch mode and pprof profile download, adapted unchanged in shape from
// the teacher's own arena-cache-inspect.
//
// The target Go service is expected to expose:
//   • GET /debug/sharedmap/snapshot     – JSON payload, see pkg.Snapshot.
//   • GET /debug/pprof/{heap,goroutine} – standard pprof handlers.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"`.
// ---------------------------------------------------------------
// © 2025 sharedmap authors. MIT License.

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    sharedmap "github.com/kvarena/sharedmap/pkg"
)

var version = "dev"

func main() {
    opts := parseFlags()

    if opts.version {
        fmt.Println(version)
        return
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    go func() {
        <-sig
        cancel()
    }()

    if opts.heapProfile != "" {
        if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
            fatal(err)
        }
        return
    }
    if opts.goroutineProfile != "" {
        if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
            fatal(err)
        }
        return
    }

    if opts.watch {
        ticker := time.NewTicker(opts.interval)
        defer ticker.Stop()
        for {
            if err := dumpOnce(ctx, opts); err != nil {
                fmt.Fprintln(os.Stderr, "error:", err)
            }
            select {
            case <-ticker.C:
                continue
            case <-ctx.Done():
                return
            }
        }
    }

    if err := dumpOnce(ctx, opts); err != nil {
        fatal(err)
    }
}

func dumpOnce(ctx context.Context, opts *options) error {
    snap, err := fetchSnapshot(ctx, opts.target)
    if err != nil {
        return err
    }
    if opts.json {
        enc := json.NewEncoder(os.Stdout)
        enc.SetIndent("", "  ")
        return enc.Encode(snap)
    }
    return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (sharedmap.Snapshot, error) {
    var snap sharedmap.Snapshot
    url := base + "/debug/sharedmap/snapshot"
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return snap, err
    }
    res, err := http.DefaultClient.Do(req)
    if err != nil {
        return snap, err
    }
    defer res.Body.Close()
    if res.StatusCode != http.StatusOK {
        return snap, fmt.Errorf("unexpected status %s", res.Status)
    }
    if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
        return snap, err
    }
    return snap, nil
}

func prettyPrint(snap sharedmap.Snapshot) error {
    fmt.Printf("Length:          %d / %d (%.1f%% full)\n", snap.Length, snap.Capacity, snap.LoadFactor*100)
    fmt.Printf("Deadlock signals: %d\n", snap.DeadlockSignals)
    fmt.Printf("Rechains:         %d\n", snap.Rechains)
    return nil
}

func downloadProfile(ctx context.Context, base, name, path string) error {
    url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return err
    }
    res, err := http.DefaultClient.Do(req)
    if err != nil {
        return err
    }
    defer res.Body.Close()
    if res.StatusCode != http.StatusOK {
        return fmt.Errorf("unexpected status %s", res.Status)
    }

    f, err := os.Create(path)
    if err != nil {
        return err
    }
    defer f.Close()

    if _, err := io.Copy(f, res.Body); err != nil {
        return err
    }
    fmt.Printf("%s profile saved to %s\n", name, path)
    return nil
}

func fatal(err error) {
    fmt.Fprintln(os.Stderr, "sharedmap-inspect:", err)
    os.Exit(1)
}
