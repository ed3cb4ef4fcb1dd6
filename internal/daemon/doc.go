// Package daemon wires the uploadai components together and runs the local
// control server as a single long-lived process.
//
// Build assembles the engine client, conversion pipeline, upload
// coordinator, notifications, run history and the workflow session from
// configuration; both the one-shot CLI and the server use it. Daemon adds the
// HTTP lifecycle on top, with a flock-based lock preventing two servers from
// sharing one state directory and optional mDNS advertisement.
package daemon
