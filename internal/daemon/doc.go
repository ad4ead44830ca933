// Package daemon coordinates the long-running dialwatch process.
//
// It wires configuration, the tracking engine, the snapshot archive, and the
// local HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances. The API exposes the track, untrack, snapshot, and
// refresh operations plus a server-sent-events stream per campaign and the
// vendor completion webhook.
//
// Keep orchestration logic here: tracking semantics live in the engine and
// tracker packages while the daemon focuses on startup, shutdown, and the
// HTTP surface.
package daemon
