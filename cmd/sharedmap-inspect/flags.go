package main

// flags.go defines the command-line surface for sharedmap-inspect: target
// process URL, watch mode, JSON output, pprof profile download, and a
// version flag.
//
// © 2025 sharedmap authors. MIT License.

import (
    "flag"
    "time"
)

type options struct {
    target            string
    watch             bool
    interval          time.Duration
    json              bool
    heapProfile       string
    goroutineProfile  string
    version           bool
}

func parseFlags() *options {
    opts := &options{}
    flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the target process")
    flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly")
    flag.DurationVar(&opts.interval, "interval", 2*time.Second, "polling interval in watch mode")
    flag.BoolVar(&opts.json, "json", false, "print the raw JSON snapshot instead of a formatted summary")
    flag.StringVar(&opts.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
    flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
    flag.BoolVar(&opts.version, "version", false, "print the inspector version and exit")
    flag.Parse()
    return opts
}
